package hls

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
)

// Process is a running encoder with a write-only input pipe.
type Process interface {
	Stdin() io.WriteCloser
	// Wait blocks until the process exits. It is called exactly once.
	Wait() error
	Kill() error
	Pid() int
}

// Launcher starts the encoder binary with the given arguments.
type Launcher func(ctx context.Context, name string, args []string) (Process, error)

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr chan struct{}
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }

// Wait lets the stderr reader drain first; cmd.Wait closes the pipe.
func (p *execProcess) Wait() error {
	<-p.stderr
	return p.cmd.Wait()
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

// ExecLauncher runs the binary as a child process and forwards its stderr to the log.
// The process is not bound to ctx; Encoder.Close ends it by closing stdin.
func ExecLauncher(_ context.Context, name string, args []string) (Process, error) {
	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	p := &execProcess{cmd: cmd, stdin: stdin, stderr: make(chan struct{})}
	go func() {
		defer close(p.stderr)
		logLines(fmt.Sprintf("%s [%d]", name, cmd.Process.Pid), stderr)
	}()
	return p, nil
}

func logLines(prefix string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Printf("%s: %s", prefix, scanner.Text())
	}
}
