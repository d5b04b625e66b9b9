// Package main implements the warden daemon, which guards a single-instance
// worker: it holds the exclusive instance lock, translates OS signals into a
// cooperative stop flag, drains a directory spool through the configured job
// command, and answers status and stop requests on a local control socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	rootpkg "warden"
	"warden/internal/config"
	"warden/internal/control"
	"warden/internal/lock"
	"warden/internal/logger"
	"warden/internal/notify"
	"warden/internal/paths"
	"warden/internal/signals"
	"warden/internal/spool"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - release: -X main.version={{.Version}} -> "0.1.0"
//
// When ldflags are not set (bare go build), resolveVersion reads the VCS info
// that Go embeds automatically, so dev builds get a useful version string
// without needing git at runtime.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags at build time it is returned as-is; otherwise VCS revision and dirty
// state embedded by the Go toolchain are used to construct a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// Run State
// ///////////////////////////////////////////////

// runState is the mutable state shared between the drain loop, signal
// handlers, and control-socket status snapshots.
type runState struct {
	// startedAt is when the daemon came up; status derives uptime from it.
	startedAt time.Time

	// mu guards lastSignal, which is written on the dispatch goroutine and
	// read by control connections.
	mu sync.Mutex
	// lastSignal is the canonical name of the most recent handled signal.
	lastSignal string

	// jobsDone and jobsFailed count archived jobs for this run.
	jobsDone   atomic.Int64
	jobsFailed atomic.Int64
}

func (rs *runState) recordSignal(name string) {
	rs.mu.Lock()
	rs.lastSignal = name
	rs.mu.Unlock()
}

func (rs *runState) signalName() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastSignal
}

// ///////////////////////////////////////////////
// Signal Policy
// ///////////////////////////////////////////////

// subscribeSignals wires the configured signal policy into the registry:
// every shutdown signal raises the stop flag, the stats signal logs a
// counters line, and the rotate signal forces log rotation. Signals the
// platform cannot intercept are logged and skipped so one exotic name does
// not keep the daemon from starting.
func subscribeSignals(cfg *config.Config, reg *signals.Registry, rs *runState, queue *spool.Queue, sink *lumberjack.Logger) error {
	nums, err := cfg.ShutdownNumbers()
	if err != nil {
		return fmt.Errorf("resolve shutdown signals: %w", err)
	}
	if len(nums) == 0 {
		nums = signals.ShutdownDefaults()
	}

	for _, num := range nums {
		err := reg.Subscribe(num, func(n signals.Notification) {
			rs.recordSignal(n.Name)
			slog.Warn("shutdown requested", "signal", n.Name, "number", n.Signal)
			reg.RequestStop()
		})
		if err != nil {
			if errors.Is(err, signals.ErrNotTrappable) {
				slog.Warn("shutdown signal not interceptable here, skipping", "number", num)
				continue
			}
			return fmt.Errorf("subscribe shutdown signal %d: %w", num, err)
		}
	}

	return subscribeExtras(cfg, reg, rs, queue, sink)
}

// subscribeExtras registers the optional stats and rotate signals.
func subscribeExtras(cfg *config.Config, reg *signals.Registry, rs *runState, queue *spool.Queue, sink *lumberjack.Logger) error {
	stats := func(n signals.Notification) {
		rs.recordSignal(n.Name)
		pending, _ := queue.Pending()
		slog.Info("stats",
			"uptime", time.Since(rs.startedAt).Round(time.Second).String(),
			"jobs_done", rs.jobsDone.Load(),
			"jobs_failed", rs.jobsFailed.Load(),
			"jobs_pending", pending,
		)
	}
	if err := subscribeOptional(reg, cfg.Signals.Stats, "stats", stats); err != nil {
		return err
	}

	rotate := func(n signals.Notification) {
		rs.recordSignal(n.Name)
		if err := sink.Rotate(); err != nil {
			slog.Warn("log rotation failed", "error", err)
			return
		}
		slog.Info("log rotated", "signal", n.Name)
	}
	return subscribeOptional(reg, cfg.Signals.Rotate, "rotate", rotate)
}

// subscribeOptional registers a handler for an optionally configured signal
// name, tolerating platforms that cannot intercept it. An empty name means
// the feature is disabled.
func subscribeOptional(reg *signals.Registry, name, role string, fn signals.Handler) error {
	if name == "" {
		return nil
	}
	err := reg.SubscribeName(name, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, signals.ErrNotTrappable) {
		slog.Warn("signal not interceptable here, skipping", "signal", name, "role", role)
		return nil
	}
	return fmt.Errorf("subscribe %s signal %s: %w", role, name, err)
}

// ///////////////////////////////////////////////
// Control Hooks
// ///////////////////////////////////////////////

// controlHooks builds the status and stop callbacks served on the control
// socket. Stop goes through Deliver so a remote stop runs the same
// subscribers a real SIGTERM would, with a direct RequestStop behind it for
// configs where SIGTERM is not in the shutdown set.
func controlHooks(cfg *config.Config, reg *signals.Registry, queue *spool.Queue, rs *runState) (control.StatusFunc, control.StopFunc) {
	term, _ := signals.Number("SIGTERM")

	status := func() control.Status {
		pending, _ := queue.Pending()
		return control.Status{
			PID:         os.Getpid(),
			Worker:      cfg.Worker.Name,
			StartedAt:   rs.startedAt,
			Stopping:    reg.ShouldStop(),
			LastSignal:  rs.signalName(),
			JobsDone:    int(rs.jobsDone.Load()),
			JobsFailed:  int(rs.jobsFailed.Load()),
			JobsPending: pending,
		}
	}

	stop := func() {
		slog.Info("stop requested on control socket")
		if err := reg.Deliver(term); err != nil {
			slog.Warn("synthetic SIGTERM delivery failed", "error", err)
		}
		reg.RequestStop()
	}

	return status, stop
}

// ///////////////////////////////////////////////
// Job Execution
// ///////////////////////////////////////////////

// executeJob runs the configured worker command against one claimed job and
// returns the receipt describing the outcome. The job file path is appended
// as the final argument. Job output inherits the daemon's stdout and stderr;
// the receipt records only the exit code and error text.
func executeJob(cfg *config.Config, job *spool.Job) spool.Receipt {
	r := spool.Receipt{ClaimedAt: time.Now().UTC(), ExitCode: -1}

	argv := append(append([]string{}, cfg.Worker.Command...), job.Path)

	ctx := context.Background()
	if timeout := cfg.JobTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	r.FinishedAt = time.Now().UTC()

	switch {
	case err == nil:
		r.ExitCode = 0
	case ctx.Err() == context.DeadlineExceeded:
		r.Error = fmt.Sprintf("timed out after %s", cfg.JobTimeout())
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			r.ExitCode = exitErr.ExitCode()
		}
		r.Error = err.Error()
	}
	return r
}

// runJob claims, executes, and archives a single job, updating the counters.
// A failed claim is not an error: a concurrent manual move or delete simply
// means the next scan decides what is left.
func runJob(cfg *config.Config, queue *spool.Queue, rs *runState, job *spool.Job) {
	claimed, err := queue.Claim(job)
	if err != nil {
		slog.Debug("claim failed", "job", job.Name, "error", err)
		return
	}

	slog.Info("job started", "job", claimed.Name)
	receipt := executeJob(cfg, claimed)
	duration := receipt.FinishedAt.Sub(receipt.ClaimedAt).Round(time.Millisecond)

	if receipt.Error == "" {
		if err := queue.Complete(claimed, receipt); err != nil {
			slog.Error("failed to archive job", "job", claimed.Name, "error", err)
			return
		}
		rs.jobsDone.Add(1)
		slog.Info("job done", "job", claimed.Name, "duration", duration.String())
		return
	}

	if err := queue.Fail(claimed, receipt); err != nil {
		slog.Error("failed to archive job", "job", claimed.Name, "error", err)
		return
	}
	rs.jobsFailed.Add(1)
	slog.Warn("job failed",
		"job", claimed.Name,
		"exit_code", receipt.ExitCode,
		"error", receipt.Error,
		"duration", duration.String(),
	)
}

// drainSpool claims and runs pending jobs oldest-first until the spool is
// empty or the stop flag rises. Returns false once the daemon is stopping.
// Each job runs inside [signals.Registry.Step], so a shutdown signal landing
// mid-job lets that job finish and skips the rest.
func drainSpool(cfg *config.Config, reg *signals.Registry, queue *spool.Queue, rs *runState) bool {
	for {
		job, err := queue.Next()
		if err != nil {
			slog.Warn("spool scan failed", "error", err)
			return !reg.ShouldStop()
		}
		if job == nil {
			return !reg.ShouldStop()
		}

		ran := reg.Step(func() {
			runJob(cfg, queue, rs, job)
		})
		if !ran {
			return false
		}
	}
}

// ///////////////////////////////////////////////
// Main Loop
// ///////////////////////////////////////////////

// run is the daemon's main loop. With a worker command configured it drains
// the spool, waking on watcher events and the poll ticker; without one it
// parks until the stop flag rises, guarding the lock and serving signals and
// control requests.
func run(cfg *config.Config, reg *signals.Registry, queue *spool.Queue, watcher *spool.Watcher, rs *runState) {
	if len(cfg.Worker.Command) == 0 {
		slog.Info("no worker command configured, guarding without job execution")
		<-reg.Stopped()
		return
	}

	pollTicker := time.NewTicker(cfg.PollInterval())
	defer pollTicker.Stop()

	for {
		if !drainSpool(cfg, reg, queue, rs) {
			return
		}

		select {
		case <-reg.Stopped():
			return
		case <-watcher.Events():
		case <-pollTicker.C:
		}
	}
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

// defaultDataDir returns the platform default directory for warden data,
// typically ~/.warden. Falls back to ./.warden if the home directory cannot
// be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".warden")
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config, lock, spool, and logs")
	worker := flag.String("worker", "", "Worker name override (scopes the instance lock)")
	logLevel := flag.String("log-level", "", "Log level override (trace, debug, info, warn, error)")
	flag.Parse()

	os.Exit(realMain(*dataDir, *worker, *logLevel))
}

// realMain carries the daemon lifecycle and returns the process exit code.
// Keeping it out of main lets deferred cleanup run before os.Exit.
func realMain(dataRoot, workerOverride, levelOverride string) int {
	d := paths.DataDir{Root: dataRoot}

	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		return 1
	}

	// First run: materialize the documented default config.
	if _, err := os.Stat(d.Config()); os.IsNotExist(err) {
		if writeErr := os.WriteFile(d.Config(), rootpkg.DefaultConfigTOML, 0o644); writeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", writeErr)
		}
	}

	cfg, err := config.Load(d.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		return 1
	}
	if workerOverride != "" {
		if !config.ValidateWorkerName(workerOverride) {
			fmt.Fprintf(os.Stderr, "fatal: invalid worker name %q\n", workerOverride)
			return 1
		}
		cfg.Worker.Name = workerOverride
	}

	level := cfg.Log.Level
	if levelOverride != "" {
		level = levelOverride
	}
	minLevel, err := logger.ParseLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	log, sink := logger.NewLogger(d.Log(), minLevel, cfg.Log.MaxSizeMB)
	defer sink.Close()
	slog.SetDefault(log)

	slog.Info("wardend starting",
		"version", resolveVersion(),
		"data_dir", d.Root,
		"worker", cfg.Worker.Name,
		"pid", os.Getpid(),
	)

	notifier := notify.New(cfg.Notify.URL, cfg.Worker.Name,
		time.Duration(cfg.Notify.TimeoutSeconds)*time.Second, cfg.Notify.RetryMax)

	lockPath := cfg.LockPath(d)
	handle, err := lock.TryAcquire(lockPath)
	if err != nil {
		if errors.Is(err, lock.ErrContended) {
			_, holder := lock.Probe(lockPath)
			notifier.LockContended(holder)
			slog.Warn("another instance holds the lock", "path", lockPath, "holder_pid", holder)
			return lock.ExitContended
		}
		slog.Error("cannot acquire instance lock", "path", lockPath, "error", err)
		return 1
	}
	defer handle.Close()
	slog.Info("instance lock acquired", "path", lockPath, "pid", os.Getpid())

	queue, err := spool.New(d, cfg.ShouldClaim)
	if err != nil {
		slog.Error("cannot open spool", "error", err)
		return 1
	}
	// Orphans in work/ can only be ours: the instance lock proves no other
	// daemon is draining this spool.
	if moved, recErr := queue.Recover(); recErr != nil {
		slog.Warn("orphaned job recovery failed", "error", recErr)
	} else if len(moved) > 0 {
		slog.Info("recovered orphaned jobs", "count", len(moved))
	}

	reg := signals.New()
	defer reg.Close()

	rs := &runState{startedAt: time.Now()}
	if err := subscribeSignals(cfg, reg, rs, queue, sink); err != nil {
		slog.Error("signal setup failed", "error", err)
		return 1
	}

	if cfg.Control.Enabled {
		statusFn, stopFn := controlHooks(cfg, reg, queue, rs)
		ctl, ctlErr := control.NewServer(d.Socket(), statusFn, stopFn)
		if ctlErr != nil {
			slog.Error("cannot start control server", "error", ctlErr)
			return 1
		}
		defer ctl.Close()
		slog.Info("control socket ready", "addr", ctl.Addr())
	}

	var watcher *spool.Watcher
	if len(cfg.Worker.Command) > 0 {
		watcher, err = spool.NewWatcher(queue)
		if err != nil {
			slog.Error("cannot watch spool", "error", err)
			return 1
		}
		defer watcher.Close()
		if watcher.Polling() {
			slog.Info("using polling mode for spool watching")
		}
	}

	// Post the stopping event the moment the stop flag rises, not after the
	// in-flight job finishes. run only returns once Stopped is closed, so
	// waiting on this channel cannot deadlock.
	stoppingPosted := make(chan struct{})
	go func() {
		defer close(stoppingPosted)
		<-reg.Stopped()
		notifier.Stopping(rs.signalName())
	}()

	notifier.Started()
	run(cfg, reg, queue, watcher, rs)
	<-stoppingPosted

	done, failed := int(rs.jobsDone.Load()), int(rs.jobsFailed.Load())
	slog.Info("wardend stopped", "jobs_done", done, "jobs_failed", failed, "signal", rs.signalName())
	notifier.Stopped(done, failed)
	return 0
}
