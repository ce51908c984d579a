package supervisor

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/greendrake/hlsstream/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	c := config.Default()
	assert.Equal(t, []string{Sync, API, Stream}, Plan(c))
	c.Cache.Backend = config.BackendRedis
	assert.Equal(t, []string{API, Stream}, Plan(c))
}

func TestCommand(t *testing.T) {
	p := NewProcess(Stream, "/opt/hlsstream/hlsstream", Args(Stream, "/etc/hlsstream.yaml"), nil)
	cmd := p.Command()
	assert.Equal(t, "/opt/hlsstream/hlsstream", cmd.Path)
	assert.Equal(t, []string{"/opt/hlsstream/hlsstream", "stream", "--config", "/etc/hlsstream.yaml"}, cmd.Args)
	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setsid)
	assert.Equal(t, "Process [stream]", p.GetNode().ID)
}

func TestWaitListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	assert.NoError(t, WaitListening(context.Background(), ln.Addr().String(), time.Second))
}

func TestWaitListeningTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	assert.Error(t, WaitListening(context.Background(), addr, 300*time.Millisecond))
}

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLog(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})
	return buf
}

func requireUnix(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"/bin/sh", "/bin/sleep"} {
		if _, err := os.Stat(bin); err != nil {
			t.Skipf("%v not available", bin)
		}
	}
}

// waitStopped fails the test unless the supervisor stops within d.
func waitStopped(t *testing.T, s *Supervisor, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("supervisor still running after %v", d)
	}
}

func TestSupervisor_ChildExitStopsSiblings(t *testing.T) {
	requireUnix(t)
	logs := captureLog(t)
	s := newSupervisor(context.Background())
	sleeper := NewProcess("sleeper", "/bin/sleep", []string{"30"}, s.childExited)
	s.AddClient(sleeper)
	s.AddClient(NewProcess("failing", "/bin/sh", []string{"-c", "sleep 0.2; exit 3"}, s.childExited))

	waitStopped(t, s, 5*time.Second)
	require.Error(t, s.Cause())
	assert.Equal(t, "failing exited: exit status 3", s.Cause().Error())
	assert.False(t, sleeper.IsRunning())
	assert.Contains(t, logs.String(), "Process [sleeper] stopped: signal: terminated")
}

func TestSupervisor_CancelTerminatesChildren(t *testing.T) {
	requireUnix(t)
	logs := captureLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newSupervisor(ctx)
	s.AddClient(NewProcess("sleeper", "/bin/sleep", []string{"30"}, s.childExited))

	time.Sleep(200 * time.Millisecond)
	start := time.Now()
	cancel()
	waitStopped(t, s, 5*time.Second)
	// well under DefaultStopTimeout, so SIGTERM did it
	assert.Less(t, time.Since(start), DefaultStopTimeout/2)
	assert.True(t, errors.Is(s.Cause(), context.Canceled))
	assert.Contains(t, logs.String(), "Process [sleeper] stopped: signal: terminated")
	assert.NotContains(t, logs.String(), "killing")
}

func TestSupervisor_KillsAfterStopTimeout(t *testing.T) {
	requireUnix(t)
	logs := captureLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newSupervisor(ctx)
	// the ignored disposition survives exec
	stubborn := NewProcess("stubborn", "/bin/sh", []string{"-c", `trap "" TERM; exec sleep 30`}, s.childExited)
	stubborn.StopTimeout = 200 * time.Millisecond
	s.AddClient(stubborn)

	time.Sleep(300 * time.Millisecond)
	cancel()
	waitStopped(t, s, 5*time.Second)
	out := logs.String()
	assert.Contains(t, out, "Process [stubborn] did not exit within 200ms, killing")
	assert.NotContains(t, out, "Process [stubborn] stopped")
}
