package daemon

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentmesh/daemon/internal/config"
	"github.com/agentmesh/daemon/internal/daemonlog"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) *config.Config {
	return &config.Config{
		DBPath:          filepath.Join(dir, "daemon.db"),
		PollIntervalSec: 30,
		DefaultAgent:    "claude",
	}
}

func TestStartAcquiresLockAndStopReleasesIt(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Port = 17878

	d := New(dir, cfg, daemonlog.New(nil))
	require.NoError(t, d.Start(context.Background()))

	running, pid := Running(dir)
	require.True(t, running)
	require.Greater(t, pid, 0)

	require.NoError(t, d.Stop(context.Background()))

	running, _ = Running(dir)
	require.False(t, running)
}

func TestSecondStartFailsWhileFirstHoldsLock(t *testing.T) {
	dir := t.TempDir()
	cfg1 := testConfig(dir)
	cfg1.Port = 17879

	d1 := New(dir, cfg1, daemonlog.New(nil))
	require.NoError(t, d1.Start(context.Background()))
	defer d1.Stop(context.Background())

	cfg2 := testConfig(dir)
	cfg2.Port = 17880
	d2 := New(dir, cfg2, daemonlog.New(nil))
	err := d2.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStartFailsWhenPortInUse(t *testing.T) {
	dir1 := t.TempDir()
	cfg1 := testConfig(dir1)
	cfg1.Port = 17881
	d1 := New(dir1, cfg1, daemonlog.New(nil))
	require.NoError(t, d1.Start(context.Background()))
	defer d1.Stop(context.Background())

	dir2 := t.TempDir()
	cfg2 := testConfig(dir2)
	cfg2.Port = 17881
	d2 := New(dir2, cfg2, daemonlog.New(nil))
	err := d2.Start(context.Background())
	require.Error(t, err)
}

func TestRunningReportsFalseForStaleDir(t *testing.T) {
	dir := t.TempDir()
	running, pid := Running(dir)
	require.False(t, running)
	require.Equal(t, 0, pid)
}
