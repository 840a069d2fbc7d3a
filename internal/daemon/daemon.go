// Package daemon wires together the store, event bus, stall monitor, and
// HTTP API into a single long-running process, and enforces that only one
// daemon runs against a given data directory at a time.
//
// Single-instance enforcement and startup/shutdown sequencing are adapted
// from internal/daemonrunner/process.go's DaemonLock and
// original_source/daemon/pid.py and server.py's start()/stop() ordering:
// acquire an advisory flock on daemon.lock, write daemon.pid alongside it
// for tooling that only knows how to read a PID file, initialize storage,
// start the SSE bus and stall monitor, then serve HTTP. Shutdown reverses
// the order.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/agentmesh/daemon/internal/afterwork"
	"github.com/agentmesh/daemon/internal/config"
	"github.com/agentmesh/daemon/internal/daemonlog"
	"github.com/agentmesh/daemon/internal/eventbus"
	"github.com/agentmesh/daemon/internal/httpapi"
	"github.com/agentmesh/daemon/internal/lockfile"
	"github.com/agentmesh/daemon/internal/mesh"
	"github.com/agentmesh/daemon/internal/monitor"
	"github.com/agentmesh/daemon/internal/store"
	"github.com/agentmesh/daemon/internal/telemetry"
	"github.com/agentmesh/daemon/internal/terminal"
)

const (
	lockFileName = "daemon.lock"
	pidFileName  = "daemon.pid"
)

// ErrAlreadyRunning is returned by Start when another daemon already holds
// the lock on this data directory.
var ErrAlreadyRunning = errors.New("daemon: already running")

// lockInfo is the JSON payload written into daemon.lock, mirroring
// DaemonLockInfo's fields (PID, database path, version, start time).
type lockInfo struct {
	PID       int       `json:"pid"`
	Database  string    `json:"database"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// Daemon owns the process-level resources: the lock file, the store, the
// event bus, the monitor, and the HTTP server.
type Daemon struct {
	dir    string
	cfg    *config.Config
	log    *daemonlog.Logger
	driver terminal.Driver

	lockFile        *os.File
	store           *store.Store
	bus             *eventbus.Bus
	mon             *monitor.Monitor
	server          *http.Server
	shutdownMetrics func(context.Context) error

	startTime time.Time
}

// New constructs a Daemon over dir (the config/data directory, normally
// config.Dir()) using cfg for the listen port and database path.
func New(dir string, cfg *config.Config, log *daemonlog.Logger) *Daemon {
	return &Daemon{
		dir:    dir,
		cfg:    cfg,
		log:    log,
		driver: terminal.New(),
	}
}

// Start acquires the single-instance lock, opens the store, and brings up
// the event bus, stall monitor, and HTTP listener in that order. It returns
// once the HTTP listener is bound; serving happens on a background
// goroutine, matching the original's fire-and-forget asyncio.start_server.
func (d *Daemon) Start(ctx context.Context) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("daemon: create data dir: %w", err)
	}

	if err := d.acquireLock(); err != nil {
		return err
	}

	if shutdown, err := telemetry.Init(ctx); err != nil {
		d.log.Log("warning: telemetry init failed, metrics disabled: %v", err)
	} else {
		d.shutdownMetrics = shutdown
	}

	st, err := store.Open(d.cfg.DBPath)
	if err != nil {
		d.releaseLock()
		return fmt.Errorf("daemon: open store: %w", err)
	}
	d.store = st

	d.bus = eventbus.New()
	d.bus.Start()

	d.mon = monitor.New(d.store, d.bus, d.log)
	d.mon.Start(ctx)

	meshR := mesh.New(d.store, d.driver)
	afterworkR := afterwork.New(d.store, d.driver)
	api := httpapi.New(d.store, d.bus, d.mon, meshR, afterworkR, d.driver, d.log)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(d.cfg.Port))
	d.server = httpapi.NewServer(addr, api)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		d.mon.Stop()
		d.bus.Stop()
		_ = d.store.Close()
		d.releaseLock()
		if isAddrInUse(err) {
			return fmt.Errorf("daemon: %s already in use: %w", addr, err)
		}
		return fmt.Errorf("daemon: listen on %s: %w", addr, err)
	}

	d.startTime = time.Now()
	d.log.Log("daemon listening on %s (pid %d)", addr, os.Getpid())

	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Log("http server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server, the monitor, the event bus, the store,
// and finally releases the lock — the reverse of Start.
func (d *Daemon) Stop(ctx context.Context) error {
	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = d.server.Shutdown(shutdownCtx)
	}
	if d.mon != nil {
		d.mon.Stop()
	}
	if d.bus != nil {
		d.bus.Stop()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.shutdownMetrics != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = d.shutdownMetrics(shutdownCtx)
	}
	d.releaseLock()
	d.log.Log("daemon stopped")
	return nil
}

func isAddrInUse(err error) bool {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return errors.Is(sysErr.Err, syscall.EADDRINUSE)
	}
	return false
}

// acquireLock opens (or creates) daemon.lock, takes a non-blocking
// exclusive flock on it, and writes the current process's lockInfo plus a
// companion daemon.pid file for tools that only understand PID files.
func (d *Daemon) acquireLock() error {
	lockPath := filepath.Join(d.dir, lockFileName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("daemon: open lock file: %w", err)
	}

	if err := lockfile.FlockExclusiveNonBlocking(f); err != nil {
		_ = f.Close()
		if lockfile.IsLocked(err) {
			if existing, readErr := readLockInfo(lockPath); readErr == nil {
				return fmt.Errorf("%w (pid %d, started %s)", ErrAlreadyRunning, existing.PID, existing.StartedAt.Format(time.RFC3339))
			}
			return ErrAlreadyRunning
		}
		return fmt.Errorf("daemon: lock %s: %w", lockPath, err)
	}

	info := lockInfo{
		PID:       os.Getpid(),
		Database:  d.cfg.DBPath,
		Version:   httpapi.Version,
		StartedAt: time.Now().UTC(),
	}
	if err := writeLockInfo(f, info); err != nil {
		_ = lockfile.FlockUnlock(f)
		_ = f.Close()
		return err
	}

	pidPath := filepath.Join(d.dir, pidFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		d.log.Log("warning: failed to write pid file %s: %v", pidPath, err)
	}

	d.lockFile = f
	return nil
}

func (d *Daemon) releaseLock() {
	if d.lockFile == nil {
		return
	}
	_ = d.lockFile.Truncate(0)
	_ = lockfile.FlockUnlock(d.lockFile)
	_ = d.lockFile.Close()
	_ = os.Remove(filepath.Join(d.dir, pidFileName))
	d.lockFile = nil
}

func writeLockInfo(f *os.File, info lockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("daemon: marshal lock info: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("daemon: truncate lock file: %w", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("daemon: write lock info: %w", err)
	}
	return nil
}

func readLockInfo(path string) (lockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockInfo{}, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return lockInfo{}, err
	}
	return info, nil
}

// Running reports whether a daemon is already running against dir, by
// reading the lock info and checking that the recorded PID is alive —
// mirroring pid.py's is_running(). It does not itself take any lock.
func Running(dir string) (bool, int) {
	info, err := readLockInfo(filepath.Join(dir, lockFileName))
	if err != nil {
		return false, 0
	}
	if info.PID <= 0 {
		return false, 0
	}
	if syscall.Kill(info.PID, 0) != nil {
		return false, info.PID
	}
	return true, info.PID
}

// StopRunning sends SIGTERM to a running daemon's PID, polls for exit, and
// falls back to SIGKILL — mirroring pid.py's stop_daemon().
func StopRunning(dir string) error {
	running, pid := Running(dir)
	if !running {
		return errors.New("daemon: not running")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("daemon: signal pid %d: %w", pid, err)
	}
	for i := 0; i < 20; i++ {
		if syscall.Kill(pid, 0) != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}
