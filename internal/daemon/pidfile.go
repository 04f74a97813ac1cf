// Package daemon tracks a running scorecard API server through a PID file
// in the state directory.
package daemon

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	ErrRunning    = eris.New("server already running")
	ErrNotRunning = eris.New("server not running")
)

// PIDFile manages the PID file of the API server process.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes the given PID to the file.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return eris.Wrap(err, "write PID file")
	}
	return nil
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, eris.Wrap(err, "invalid PID file content")
	}
	return pid, nil
}

// Acquire records the current process as the server. A stale file left by
// a dead process is replaced; a live one is reported as ErrRunning.
func (p *PIDFile) Acquire() error {
	if pid, running := p.IsRunning(); running && pid != os.Getpid() {
		return eris.Wrapf(ErrRunning, "pid %d", pid)
	}
	return p.Write()
}

// Release removes the file if it still names the current process.
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil || pid != os.Getpid() {
		return err
	}
	return p.Remove()
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}
