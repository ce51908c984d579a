package supervisor

import (
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/greendrake/server_client_hierarchy"
)

const DefaultStopTimeout = 10 * time.Second

// Process runs one subcommand as a child process in its own session. It is
// terminated when the node stops and reports its own exit through onExit.
type Process struct {
	server_client_hierarchy.Node
	Name        string
	Path        string
	Args        []string
	StopTimeout time.Duration
	onExit      func(name string, err error)
}

func NewProcess(name, path string, args []string, onExit func(string, error)) *Process {
	p := &Process{
		Name:        name,
		Path:        path,
		Args:        args,
		StopTimeout: DefaultStopTimeout,
		onExit:      onExit,
	}
	p.GetNode().ID = "Process [" + name + "]"
	p.SetTask(func(ch chan bool) {
		cmd := p.Command()
		if err := cmd.Start(); err != nil {
			log.Printf("%v failed to start: %v", p.GetNode().ID, err)
			p.exited(err)
			go p.Stop()
			<-ch
			return
		}
		log.Printf("%v started, pid %d", p.GetNode().ID, cmd.Process.Pid)
		exited := make(chan error, 1)
		go func() {
			exited <- cmd.Wait()
		}()
		select {
		case err := <-exited:
			log.Printf("%v exited: %v", p.GetNode().ID, exitString(err))
			p.exited(err)
			go p.Stop()
			<-ch
		case <-ch:
			p.terminate(cmd, exited)
		case <-p.Node.Ctx.Done():
			p.terminate(cmd, exited)
			<-ch
		}
	})
	return p
}

// Command builds the child command line without starting it.
func (p *Process) Command() *exec.Cmd {
	cmd := exec.Command(p.Path, p.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}

func (p *Process) exited(err error) {
	if p.onExit != nil {
		p.onExit(p.Name, err)
	}
}

// terminate sends SIGTERM and waits, killing the child after StopTimeout.
func (p *Process) terminate(cmd *exec.Cmd, exited chan error) {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("%v: SIGTERM: %v", p.GetNode().ID, err)
	}
	select {
	case err := <-exited:
		log.Printf("%v stopped: %v", p.GetNode().ID, exitString(err))
	case <-time.After(p.StopTimeout):
		log.Printf("%v did not exit within %v, killing", p.GetNode().ID, p.StopTimeout)
		cmd.Process.Kill()
		<-exited
	}
}

func exitString(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
