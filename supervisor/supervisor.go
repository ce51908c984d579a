// Package supervisor starts the pipeline's processes and tears them down together.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/greendrake/hlsstream/config"
	"github.com/greendrake/hlsstream/util"
	"github.com/greendrake/server_client_hierarchy"
)

// Subcommand names of the child processes.
const (
	Sync   = "sync"
	Stream = "stream"
	API    = "api"
)

const ReadyTimeout = 10 * time.Second

// Plan lists the subcommands to run, in start order. The native cache server
// comes first; a Redis backend needs none.
func Plan(c *config.Config) []string {
	if c.Cache.Backend == config.BackendRedis {
		return []string{API, Stream}
	}
	return []string{Sync, API, Stream}
}

// Args is the command line of one child.
func Args(name, configPath string) []string {
	return []string{name, "--config", configPath}
}

// The top node holding one Process per subcommand.
// When any child exits the rest are stopped.
type Supervisor struct {
	server_client_hierarchy.Node
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func New(ctx context.Context, c *config.Config, exe, configPath string) *Supervisor {
	s := newSupervisor(ctx)
	for _, name := range Plan(c) {
		s.AddClient(NewProcess(name, exe, Args(name, configPath), s.childExited))
		if name == Sync {
			if err := WaitListening(s.ctx, c.CacheAddr(), ReadyTimeout); err != nil {
				log.Printf("%v: marker cache not ready: %v", s.GetNode().ID, err)
				s.cancel(err)
				break
			}
		}
	}
	return s
}

func newSupervisor(ctx context.Context) *Supervisor {
	ctx, cancel := context.WithCancelCause(ctx)
	s := &Supervisor{ctx: ctx, cancel: cancel}
	s.GetNode().ID = "Supervisor"
	s.SetContextWaiter(ctx)
	return s
}

func (s *Supervisor) childExited(name string, err error) {
	s.cancel(fmt.Errorf("%v exited: %v", name, exitString(err)))
}

// Cause reports why the children were torn down, nil while they run.
func (s *Supervisor) Cause() error {
	return context.Cause(s.ctx)
}

// WaitListening polls addr until it accepts a TCP connection.
func WaitListening(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		if !util.SleepCtx(ctx, 100*time.Millisecond) {
			return fmt.Errorf("%v: %w", addr, err)
		}
	}
}
