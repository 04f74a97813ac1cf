package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scorecard/internal/daemon"
)

func TestPidFile_Path(t *testing.T) {
	dir, _ := testEnv(t)
	assert.Equal(t, filepath.Join(dir, "serve.pid"), pidFile().Path)
}

func TestServeStatusRun_NotRunning(t *testing.T) {
	_, out := testEnv(t)

	require.NoError(t, serveStatusRun())
	assert.Contains(t, out.String(), "not running")
}

func TestServeStatusRun_Running(t *testing.T) {
	dir, out := testEnv(t)

	pf := daemon.NewPIDFile(filepath.Join(dir, "serve.pid"))
	require.NoError(t, pf.Write())
	t.Cleanup(func() { _ = os.Remove(pf.Path) })

	require.NoError(t, serveStatusRun())
	assert.Contains(t, out.String(), "running (pid")
}

func TestServeStopRun_NotRunning(t *testing.T) {
	testEnv(t)

	err := serveStopRun()
	require.Error(t, err)
	assert.ErrorIs(t, err, daemon.ErrNotRunning)
}

func TestServeRun_AlreadyRunning(t *testing.T) {
	dir, _ := testEnv(t)

	pf := daemon.NewPIDFile(filepath.Join(dir, "serve.pid"))
	require.NoError(t, pf.WritePID(os.Getppid()))
	t.Cleanup(func() { _ = os.Remove(pf.Path) })

	err := serveRun(cmdContext(nil), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, daemon.ErrRunning)
}

func TestServeRun_DryRun(t *testing.T) {
	_, out := testEnv(t)
	dryRun = true
	ui.DryRun = true

	require.NoError(t, serveRun(cmdContext(nil), 18080))
	assert.Contains(t, out.String(), "Would serve API at http://localhost:18080")
}
