// Package daemon is the supervisor that owns the profile directory, starts
// and stops every other component, and answers to the process's signals.
// Single-instance guard follows the teacher's engine.IsProcessAlive idiom
// (internal/engine/state.go); signal handling follows the teacher's
// runDaemon in internal/cli/run.go (signal.Notify, select loop,
// context.CancelFunc), extended here with SIGHUP triggering a config
// reload instead of shutdown.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/re-cinq/devtrackd/internal/config"
	"github.com/re-cinq/devtrackd/internal/errs"
	"github.com/re-cinq/devtrackd/internal/fileutil"
	"github.com/re-cinq/devtrackd/internal/gitwatch"
	"github.com/re-cinq/devtrackd/internal/ipc"
	"github.com/re-cinq/devtrackd/internal/monitor"
	"github.com/re-cinq/devtrackd/internal/scheduler"
	"github.com/re-cinq/devtrackd/internal/store"
)

// statusSnapshotKey is the store config key the running daemon refreshes
// periodically so a separate `status` CLI invocation can read scheduler
// state without a live IPC round trip. Grounded on the teacher's
// WriteStatus/ReadStatus JSON-file idiom (internal/engine/state.go),
// generalized from one JSON file per station to one config-table row.
const statusSnapshotKey = "status_snapshot"

// statusSnapshotInterval is how often the running daemon refreshes its
// status snapshot.
const statusSnapshotInterval = 5 * time.Second

// StatusSnapshot is the JSON-serialized status the running daemon keeps
// current in the store, and the `status` CLI command reads back.
type StatusSnapshot struct {
	PID             int                     `json:"pid"`
	StartedAt       time.Time               `json:"started_at"`
	RepositoryCount int                     `json:"repository_count"`
	Scheduler       scheduler.Stats         `json:"scheduler"`
	WorkHours       scheduler.WorkHoursStatus `json:"work_hours"`
}

// retentionSweepInterval is how often CleanOldRecords runs while the daemon
// is up (SPEC_FULL §4.2 supplemented feature: the spec only requires the
// sweep exist, not a specific cadence).
const retentionSweepInterval = 6 * time.Hour

// retentionDays is the age at which processed triggers and all logs are
// eligible for the retention sweep.
const retentionDays = 30

// Daemon supervises the profile directory's config, store, watchers,
// scheduler, and IPC server for the process's lifetime.
type Daemon struct {
	profileDir string
	logFile    *os.File
	logger     *log.Logger

	startedAt time.Time

	mu      sync.Mutex
	cfg     *config.Config
	st      *store.Store
	srv     *ipc.Server
	mon     *monitor.Monitor
	sched   *scheduler.Scheduler
}

// New resolves the profile directory, opens the daemon log, and claims the
// PID file. Callers must eventually call Close even if Run is never called.
func New() (*Daemon, error) {
	profileDir, err := fileutil.ProfileDir()
	if err != nil {
		return nil, fmt.Errorf("resolving profile directory: %w", err)
	}
	if err := acquirePIDFile(profileDir); err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(fileutil.LogPath(profileDir), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		_ = releasePIDFile(profileDir)
		return nil, fmt.Errorf("opening daemon log: %w", err)
	}

	return &Daemon{
		profileDir: profileDir,
		logFile:    logFile,
		logger:     log.New(logFile, "", log.LstdFlags),
		startedAt:  time.Now().UTC(),
	}, nil
}

// Run loads the config, wires every component, and blocks until ctx is
// cancelled or a terminating signal arrives. It always releases the PID
// file and closes the store before returning.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	if err := d.start(ctx); err != nil {
		return err
	}

	sweepTicker := time.NewTicker(retentionSweepInterval)
	defer sweepTicker.Stop()

	statusTicker := time.NewTicker(statusSnapshotInterval)
	defer statusTicker.Stop()

	d.logger.Printf("daemon started, profile dir %s", d.profileDir)
	d.writeStatusSnapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				d.logger.Printf("received SIGHUP, reloading config")
				if err := d.reload(ctx); err != nil {
					d.logger.Printf("config reload failed: %v", err)
				}
			default:
				d.logger.Printf("received %s, shutting down", sig)
				cancel()
			}

		case <-sweepTicker.C:
			d.sweep(ctx)

		case <-statusTicker.C:
			d.writeStatusSnapshot(ctx)
		}
	}
}

// writeStatusSnapshot refreshes the store's status_snapshot config row.
func (d *Daemon) writeStatusSnapshot(ctx context.Context) {
	d.mu.Lock()
	st, cfg, sched := d.st, d.cfg, d.sched
	d.mu.Unlock()
	if st == nil {
		return
	}

	snap := StatusSnapshot{PID: os.Getpid(), StartedAt: d.startedAt}
	if cfg != nil {
		snap.RepositoryCount = len(cfg.EnabledRepositories())
	}
	if sched != nil {
		snap.Scheduler = sched.GetStats()
		snap.WorkHours = sched.GetWorkHoursStatus()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		d.logger.Printf("marshaling status snapshot: %v", err)
		return
	}
	if err := st.SetConfig(ctx, statusSnapshotKey, string(data)); err != nil {
		d.logger.Printf("persisting status snapshot: %v", err)
	}
}

// ReadStatusSnapshot reads, from an already-open store, the last snapshot a
// running daemon wrote, or the zero value and false if none exists yet.
func ReadStatusSnapshot(st *store.Store, ctx context.Context) (StatusSnapshot, bool, error) {
	raw, ok, err := st.GetConfig(ctx, statusSnapshotKey)
	if err != nil || !ok {
		return StatusSnapshot{}, ok, err
	}
	var snap StatusSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return StatusSnapshot{}, false, fmt.Errorf("parsing status snapshot: %w", err)
	}
	return snap, true, nil
}

// start loads config and wires the store, IPC server, monitor, scheduler,
// and one watcher per enabled repository.
func (d *Daemon) start(ctx context.Context) error {
	cfg, err := config.Load(d.profileDir)
	if err != nil {
		return err
	}

	st, err := store.Open(fileutil.DBPath(d.profileDir))
	if err != nil {
		return err
	}

	srv := ipc.NewServer(fileutil.SocketPath(d.profileDir), d.logger)
	if err := srv.Start(ctx); err != nil {
		st.Close()
		return err
	}

	mon := monitor.New(st, srv, d.logger)
	srv.RegisterHandler(ipc.TypeResponse, mon.HandleResponse)
	srv.RegisterHandler(ipc.TypeTaskUpdate, mon.HandleTaskUpdate)
	srv.RegisterHandler(ipc.TypeError, mon.HandleError)
	srv.RegisterHandler(ipc.TypeControlCommand, mon.HandleControlCommand)
	srv.RegisterHandler(ipc.TypeAck, mon.HandleAck)

	sched := scheduler.New(scheduler.Config{
		IntervalMinutes:  cfg.Settings.PromptIntervalMinutes,
		WorkHoursEnabled: cfg.Settings.WorkHoursEnabled,
		WorkStartHour:    cfg.Settings.WorkStartHour,
		WorkEndHour:      cfg.Settings.WorkEndHour,
	}, mon.OnTimer())
	mon.SetScheduler(sched)

	for _, repo := range cfg.EnabledRepositories() {
		w, err := gitwatch.New(repo.Path, repo.IgnorePatterns)
		if err != nil {
			d.logger.Printf("skipping repository %s: %v", repo.Name, err)
			continue
		}
		mon.AddWatcher(w)

		// Advisory only (spec.md §4.3, §6): the watcher works without it, so
		// a failure here is logged and never blocks the repository.
		if err := gitwatch.InstallPostCommitHook(repo.Path, d.profileDir); err != nil {
			d.logger.Printf("installing post-commit hook for %s: %v", repo.Name, err)
		}
	}

	if err := mon.Start(ctx); err != nil {
		d.logger.Printf("monitor start: %v", err)
	}

	d.mu.Lock()
	d.cfg, d.st, d.srv, d.mon, d.sched = cfg, st, srv, mon, sched
	d.mu.Unlock()
	return nil
}

// reload re-reads config.yaml and applies the parts of it that can change
// without a restart: the scheduler's interval and work-hours window. It
// does not add or remove repository watchers — that requires a restart
// (DESIGN.md's "SIGHUP reload scope" Open Question, resolved in favor of
// the simpler, safer behavior).
func (d *Daemon) reload(ctx context.Context) error {
	cfg, err := config.Load(d.profileDir)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	if d.sched != nil {
		d.sched.SetInterval(cfg.Settings.PromptIntervalMinutes)
		d.sched.SetWorkHours(cfg.Settings.WorkHoursEnabled, cfg.Settings.WorkStartHour, cfg.Settings.WorkEndHour)
	}
	return nil
}

func (d *Daemon) sweep(ctx context.Context) {
	d.mu.Lock()
	st := d.st
	d.mu.Unlock()
	if st == nil {
		return
	}
	if err := st.CleanOldRecords(ctx, retentionDays); err != nil {
		d.logger.Printf("retention sweep: %v", err)
	}
}

// shutdown stops the monitor and IPC server (which broadcasts its own
// shutdown message with a grace period) in dependency order.
func (d *Daemon) shutdown() {
	d.mu.Lock()
	mon, srv := d.mon, d.srv
	d.mu.Unlock()

	if mon != nil {
		mon.Stop()
	}
	if srv != nil {
		if err := srv.Stop(); err != nil {
			d.logger.Printf("ipc server stop: %v", err)
		}
	}
	d.logger.Printf("daemon stopped")
}

// Close releases the PID file, closes the store, and closes the log file.
// Safe to call after Run has already returned.
func (d *Daemon) Close() error {
	d.mu.Lock()
	st := d.st
	d.mu.Unlock()

	if st != nil {
		_ = st.Close()
	}
	_ = releasePIDFile(d.profileDir)
	return d.logFile.Close()
}

// Status is a read-only, in-process snapshot of the daemon. The `status`
// CLI command does not use it: it reads the StatusSnapshot the running
// daemon writes into the store (see ReadStatusSnapshot).
type Status struct {
	ProfileDir      string
	RepositoryCount int
	SchedulerStats  scheduler.Stats
	StoreStats      store.Stats
}

// Snapshot returns the daemon's current status.
func (d *Daemon) Snapshot(ctx context.Context) (Status, error) {
	d.mu.Lock()
	cfg, st, sched := d.cfg, d.st, d.sched
	d.mu.Unlock()

	status := Status{ProfileDir: d.profileDir}
	if cfg != nil {
		status.RepositoryCount = len(cfg.EnabledRepositories())
	}
	if sched != nil {
		status.SchedulerStats = sched.GetStats()
	}
	if st != nil {
		stats, err := st.GetStats(ctx)
		if err != nil {
			return Status{}, err
		}
		status.StoreStats = stats
	}
	return status, nil
}

// IsRunning reports whether a daemon is currently running for profileDir,
// per its PID file.
func IsRunning(profileDir string) (int, bool) {
	pid, err := readPID(profileDir)
	if err != nil || pid == 0 {
		return 0, false
	}
	return pid, isProcessAlive(pid)
}

// Kill sends SIGTERM to the running daemon (if any) and polls whether the
// process is still alive every 200ms, escalating to SIGKILL after 5
// seconds — mirroring the
// teacher's stale-process handling discipline (ResetActiveStatuses,
// internal/engine/state.go) applied to process termination rather than
// state-file cleanup.
func Kill(profileDir string) error {
	pid, running := IsRunning(profileDir)
	if !running {
		return errs.ErrNotRunning
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := proc.Signal(syscall.SIGKILL); err != nil {
		return err
	}
	return releasePIDFile(profileDir)
}

// GetLogs reads the daemon's log file and returns the last n lines,
// exactly like the teacher's readLastLines (internal/cli/status.go).
func GetLogs(profileDir string, n int) (string, error) {
	path := fileutil.LogPath(profileDir)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n") + "\n", nil
}
