//go:build !windows

package daemon

import (
	"syscall"

	"github.com/rotisserie/eris"
)

// IsRunning checks if the PID file exists and the process is alive.
// Returns the PID and whether the process is running.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	// Signal 0 tests if the process exists without sending a signal.
	err = syscall.Kill(pid, 0)
	return pid, err == nil
}

// Signal sends the given signal to the process in the PID file.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return eris.Wrap(err, "read PID file")
	}
	return syscall.Kill(pid, sig)
}

// Stop asks a running server to shut down gracefully.
func (p *PIDFile) Stop() (int, error) {
	pid, running := p.IsRunning()
	if !running {
		return 0, ErrNotRunning
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return pid, eris.Wrapf(err, "signal pid %d", pid)
	}
	return pid, nil
}
