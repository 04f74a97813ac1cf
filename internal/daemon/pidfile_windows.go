//go:build windows

package daemon

import (
	"os"
	"syscall"

	"github.com/rotisserie/eris"
)

// IsRunning checks if the PID file exists and the process is alive.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	err = proc.Signal(syscall.Signal(0))
	return pid, err == nil
}

// Signal sends the given signal to the process in the PID file.
// On Windows, only os.Kill is reliably supported.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return eris.Wrap(err, "read PID file")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return eris.Wrapf(err, "find process %d", pid)
	}
	return proc.Signal(sig)
}

// Stop terminates a running server. Windows has no SIGTERM delivery, so
// the process is killed.
func (p *PIDFile) Stop() (int, error) {
	pid, running := p.IsRunning()
	if !running {
		return 0, ErrNotRunning
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, eris.Wrapf(err, "find process %d", pid)
	}
	return pid, proc.Kill()
}
