package main

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"warden/internal/config"
	"warden/internal/paths"
	"warden/internal/signals"
	"warden/internal/spool"
)

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	// When version is set to something other than "dev", it should be returned as-is.
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	got := resolveVersion()
	if got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	// When version is "dev", resolveVersion falls through to debug.ReadBuildInfo.
	// In test binaries, ReadBuildInfo may or may not return VCS info.
	// We just verify it returns a non-empty string.
	original := version
	defer func() { version = original }()

	version = "dev"
	got := resolveVersion()
	if got == "" {
		t.Error("resolveVersion() returned empty string")
	}
	// It should either be "dev" (no VCS info) or "dev+<hash>" or "dev+<hash>.dirty".
	if !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, expected to start with 'dev'", got)
	}
}

// ///////////////////////////////////////////////
// defaultDataDir Tests
// ///////////////////////////////////////////////

func TestDefaultDataDir(t *testing.T) {
	got := defaultDataDir()
	if got == "" {
		t.Fatal("defaultDataDir() returned empty string")
	}
	if !strings.HasSuffix(got, ".warden") {
		t.Errorf("defaultDataDir() = %q, expected to end with .warden", got)
	}
}

// ///////////////////////////////////////////////
// runState Tests
// ///////////////////////////////////////////////

func TestRunStateRecordsLastSignal(t *testing.T) {
	rs := &runState{startedAt: time.Now()}
	if got := rs.signalName(); got != "" {
		t.Errorf("signalName() before any delivery = %q, want empty", got)
	}

	rs.recordSignal("SIGTERM")
	if got := rs.signalName(); got != "SIGTERM" {
		t.Errorf("signalName() = %q, want SIGTERM", got)
	}

	rs.recordSignal("SIGUSR1")
	if got := rs.signalName(); got != "SIGUSR1" {
		t.Errorf("signalName() = %q, want SIGUSR1", got)
	}
}

func TestRunStateConcurrentRecords(t *testing.T) {
	rs := &runState{startedAt: time.Now()}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				rs.recordSignal("SIGHUP")
				_ = rs.signalName()
			}
		}()
	}
	wg.Wait()

	if got := rs.signalName(); got != "SIGHUP" {
		t.Errorf("signalName() = %q, want SIGHUP", got)
	}
}

// ///////////////////////////////////////////////
// Job Execution Tests
// ///////////////////////////////////////////////

// shellConfig returns a config whose worker command runs the given shell
// script. The claimed job path is appended as the final argument, so the
// script sees it as $0.
func shellConfig(t *testing.T, script string, timeoutSeconds int) *config.Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("job execution tests use sh")
	}
	return &config.Config{
		Worker: config.WorkerConfig{
			Command:           []string{"sh", "-c", script},
			JobTimeoutSeconds: timeoutSeconds,
		},
	}
}

func tempJob(t *testing.T, content string) *spool.Job {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job-001.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return &spool.Job{Name: filepath.Base(path), Path: path}
}

func TestExecuteJobSuccess(t *testing.T) {
	cfg := shellConfig(t, "exit 0", 0)
	job := tempJob(t, "{}")

	r := executeJob(cfg, job)
	if r.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", r.ExitCode)
	}
	if r.Error != "" {
		t.Errorf("Error = %q, want empty", r.Error)
	}
	if r.ClaimedAt.IsZero() || r.FinishedAt.IsZero() {
		t.Error("receipt timestamps not stamped")
	}
	if r.FinishedAt.Before(r.ClaimedAt) {
		t.Errorf("FinishedAt %v before ClaimedAt %v", r.FinishedAt, r.ClaimedAt)
	}
}

func TestExecuteJobAppendsJobPath(t *testing.T) {
	// The script exits 0 only if $0 names an existing file, proving the job
	// path arrives as the final argument.
	cfg := shellConfig(t, `[ -f "$0" ]`, 0)
	job := tempJob(t, "{}")

	r := executeJob(cfg, job)
	if r.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0 (job path not passed?)", r.ExitCode)
	}
}

func TestExecuteJobFailure(t *testing.T) {
	cfg := shellConfig(t, "exit 3", 0)
	job := tempJob(t, "{}")

	r := executeJob(cfg, job)
	if r.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", r.ExitCode)
	}
	if r.Error == "" {
		t.Error("Error is empty, want exit status text")
	}
}

func TestExecuteJobCommandNotFound(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("job execution tests use sh")
	}
	cfg := &config.Config{
		Worker: config.WorkerConfig{
			Command: []string{"wardend-test-no-such-binary"},
		},
	}
	job := tempJob(t, "{}")

	r := executeJob(cfg, job)
	if r.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", r.ExitCode)
	}
	if r.Error == "" {
		t.Error("Error is empty, want lookup failure text")
	}
}

func TestExecuteJobTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timeout test in short mode")
	}
	cfg := shellConfig(t, "sleep 10", 1)
	job := tempJob(t, "{}")

	start := time.Now()
	r := executeJob(cfg, job)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("executeJob took %v, expected the timeout to fire around 1s", elapsed)
	}
	if !strings.Contains(r.Error, "timed out") {
		t.Errorf("Error = %q, want a timeout message", r.Error)
	}
	if r.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 for a killed job", r.ExitCode)
	}
}

// ///////////////////////////////////////////////
// Drain Loop Tests
// ///////////////////////////////////////////////

func newTestQueue(t *testing.T) *spool.Queue {
	t.Helper()
	q, err := spool.New(paths.DataDir{Root: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func writeSpoolJob(t *testing.T, q *spool.Queue, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(q.Dir(), name), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestDrainSpoolRunsAllJobs(t *testing.T) {
	cfg := shellConfig(t, "exit 0", 0)
	q := newTestQueue(t)
	writeSpoolJob(t, q, "a.json")
	writeSpoolJob(t, q, "b.json")

	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	if !drainSpool(cfg, reg, q, rs) {
		t.Error("drainSpool = false, want true while not stopping")
	}
	if got := rs.jobsDone.Load(); got != 2 {
		t.Errorf("jobsDone = %d, want 2", got)
	}
	if got := rs.jobsFailed.Load(); got != 0 {
		t.Errorf("jobsFailed = %d, want 0", got)
	}

	pending, err := q.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 {
		t.Errorf("Pending() = %d after drain, want 0", pending)
	}
}

func TestDrainSpoolCountsFailures(t *testing.T) {
	cfg := shellConfig(t, "exit 7", 0)
	q := newTestQueue(t)
	writeSpoolJob(t, q, "bad.json")

	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	drainSpool(cfg, reg, q, rs)
	if got := rs.jobsFailed.Load(); got != 1 {
		t.Errorf("jobsFailed = %d, want 1", got)
	}
	if got := rs.jobsDone.Load(); got != 0 {
		t.Errorf("jobsDone = %d, want 0", got)
	}
}

func TestDrainSpoolStopsBeforeClaiming(t *testing.T) {
	cfg := shellConfig(t, "exit 0", 0)
	q := newTestQueue(t)
	writeSpoolJob(t, q, "a.json")
	writeSpoolJob(t, q, "b.json")

	reg := signals.New()
	defer reg.Close()
	reg.RequestStop()
	rs := &runState{startedAt: time.Now()}

	if drainSpool(cfg, reg, q, rs) {
		t.Error("drainSpool = true, want false once stopping")
	}
	if got := rs.jobsDone.Load(); got != 0 {
		t.Errorf("jobsDone = %d, want 0 when stopping before the first claim", got)
	}

	pending, err := q.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if pending != 2 {
		t.Errorf("Pending() = %d, want 2 (jobs left for the next run)", pending)
	}
}

func TestDrainSpoolEmptyNotStopping(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("job execution tests use sh")
	}
	cfg := shellConfig(t, "exit 0", 0)
	q := newTestQueue(t)

	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	if !drainSpool(cfg, reg, q, rs) {
		t.Error("drainSpool = false on empty spool, want true")
	}
}

// ///////////////////////////////////////////////
// Control Hook Tests
// ///////////////////////////////////////////////

func TestControlHooksStatusSnapshot(t *testing.T) {
	cfg := &config.Config{Worker: config.WorkerConfig{Name: "render"}}
	q := newTestQueue(t)
	writeSpoolJob(t, q, "queued.json")

	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now().Add(-time.Minute)}
	rs.jobsDone.Add(4)
	rs.jobsFailed.Add(1)
	rs.recordSignal("SIGUSR1")

	statusFn, _ := controlHooks(cfg, reg, q, rs)
	st := statusFn()

	if st.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", st.PID, os.Getpid())
	}
	if st.Worker != "render" {
		t.Errorf("Worker = %q, want render", st.Worker)
	}
	if !st.StartedAt.Equal(rs.startedAt) {
		t.Errorf("StartedAt = %v, want %v", st.StartedAt, rs.startedAt)
	}
	if st.Stopping {
		t.Error("Stopping = true before any stop request")
	}
	if st.LastSignal != "SIGUSR1" {
		t.Errorf("LastSignal = %q, want SIGUSR1", st.LastSignal)
	}
	if st.JobsDone != 4 || st.JobsFailed != 1 {
		t.Errorf("counters = %d/%d, want 4/1", st.JobsDone, st.JobsFailed)
	}
	if st.JobsPending != 1 {
		t.Errorf("JobsPending = %d, want 1", st.JobsPending)
	}
}

func TestControlHooksStopRaisesFlag(t *testing.T) {
	cfg := &config.Config{}
	q := newTestQueue(t)

	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	term, err := signals.Number("SIGTERM")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Subscribe(term, func(n signals.Notification) {
		rs.recordSignal(n.Name)
		reg.RequestStop()
	}); err != nil {
		t.Fatal(err)
	}

	statusFn, stopFn := controlHooks(cfg, reg, q, rs)
	stopFn()

	if !reg.ShouldStop() {
		t.Error("ShouldStop() = false after control stop")
	}
	if got := rs.signalName(); got != "SIGTERM" {
		t.Errorf("signalName() = %q, want SIGTERM (stop delivers a synthetic SIGTERM)", got)
	}
	if st := statusFn(); !st.Stopping {
		t.Error("status Stopping = false after control stop")
	}
}

func TestControlHooksStopWithoutSubscribers(t *testing.T) {
	// SIGTERM not subscribed: the direct RequestStop behind Deliver still
	// raises the flag.
	cfg := &config.Config{}
	q := newTestQueue(t)

	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	_, stopFn := controlHooks(cfg, reg, q, rs)
	stopFn()

	if !reg.ShouldStop() {
		t.Error("ShouldStop() = false after control stop with no SIGTERM subscriber")
	}
}

// ///////////////////////////////////////////////
// Signal Policy Tests
// ///////////////////////////////////////////////

func testSink(t *testing.T) *lumberjack.Logger {
	t.Helper()
	sink := &lumberjack.Logger{Filename: filepath.Join(t.TempDir(), "warden.log")}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestSubscribeSignalsConfiguredShutdown(t *testing.T) {
	cfg := &config.Config{
		Signals: config.SignalsConfig{Shutdown: []string{"SIGINT"}},
	}
	q := newTestQueue(t)
	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	if err := subscribeSignals(cfg, reg, rs, q, testSink(t)); err != nil {
		t.Fatalf("subscribeSignals() error = %v", err)
	}

	num, err := signals.Number("SIGINT")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Deliver(num); err != nil {
		t.Fatal(err)
	}

	if !reg.ShouldStop() {
		t.Error("ShouldStop() = false after delivering a configured shutdown signal")
	}
	if got := rs.signalName(); got != "SIGINT" {
		t.Errorf("signalName() = %q, want SIGINT", got)
	}
}

func TestSubscribeSignalsDefaultsWhenEmpty(t *testing.T) {
	cfg := &config.Config{}
	q := newTestQueue(t)
	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	if err := subscribeSignals(cfg, reg, rs, q, testSink(t)); err != nil {
		t.Fatalf("subscribeSignals() error = %v", err)
	}

	defaults := signals.ShutdownDefaults()
	if len(defaults) == 0 {
		t.Fatal("ShutdownDefaults() is empty")
	}
	if err := reg.Deliver(defaults[0]); err != nil {
		t.Fatal(err)
	}

	if !reg.ShouldStop() {
		t.Error("ShouldStop() = false after delivering a default shutdown signal")
	}
	if got := rs.signalName(); got == "" {
		t.Error("signalName() is empty, want the delivered signal recorded")
	}
}

func TestSubscribeSignalsStats(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("SIGUSR1 is not interceptable on windows")
	}
	cfg := &config.Config{
		Signals: config.SignalsConfig{
			Shutdown: []string{"SIGTERM"},
			Stats:    "SIGUSR1",
		},
	}
	q := newTestQueue(t)
	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	if err := subscribeSignals(cfg, reg, rs, q, testSink(t)); err != nil {
		t.Fatalf("subscribeSignals() error = %v", err)
	}

	usr1, err := signals.Number("SIGUSR1")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Deliver(usr1); err != nil {
		t.Fatal(err)
	}

	if reg.ShouldStop() {
		t.Error("stats signal raised the stop flag")
	}
	if got := rs.signalName(); got != "SIGUSR1" {
		t.Errorf("signalName() = %q, want SIGUSR1", got)
	}
}

func TestSubscribeSignalsRotate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("SIGUSR2 is not interceptable on windows")
	}
	cfg := &config.Config{
		Signals: config.SignalsConfig{
			Shutdown: []string{"SIGTERM"},
			Rotate:   "SIGUSR2",
		},
	}
	q := newTestQueue(t)
	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	if err := subscribeSignals(cfg, reg, rs, q, testSink(t)); err != nil {
		t.Fatalf("subscribeSignals() error = %v", err)
	}

	usr2, err := signals.Number("SIGUSR2")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Deliver(usr2); err != nil {
		t.Fatal(err)
	}
	if reg.ShouldStop() {
		t.Error("rotate signal raised the stop flag")
	}
}

func TestSubscribeSignalsUnknownName(t *testing.T) {
	cfg := &config.Config{
		Signals: config.SignalsConfig{Shutdown: []string{"SIGNOPE"}},
	}
	q := newTestQueue(t)
	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	if err := subscribeSignals(cfg, reg, rs, q, testSink(t)); err == nil {
		t.Error("subscribeSignals() = nil error for an unknown shutdown signal")
	}
}

// ///////////////////////////////////////////////
// Main Loop Tests
// ///////////////////////////////////////////////

func TestRunGuardOnlyParksUntilStop(t *testing.T) {
	cfg := &config.Config{} // no worker command
	q := newTestQueue(t)
	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	returned := make(chan struct{})
	go func() {
		run(cfg, reg, q, nil, rs)
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("run returned before the stop flag was raised")
	case <-time.After(100 * time.Millisecond):
	}

	reg.RequestStop()

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the stop flag was raised")
	}
}

func TestRunDrainsThenStops(t *testing.T) {
	cfg := shellConfig(t, "exit 0", 0)
	cfg.Worker.PollIntervalSeconds = 1
	q := newTestQueue(t)
	writeSpoolJob(t, q, "a.json")

	reg := signals.New()
	defer reg.Close()
	rs := &runState{startedAt: time.Now()}

	watcher, err := spool.NewWatcher(q)
	if err != nil {
		t.Fatal(err)
	}
	defer watcher.Close()

	returned := make(chan struct{})
	go func() {
		run(cfg, reg, q, watcher, rs)
		close(returned)
	}()

	// Wait for the pre-seeded job to be archived.
	deadline := time.Now().Add(5 * time.Second)
	for rs.jobsDone.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rs.jobsDone.Load() != 1 {
		t.Fatal("pre-seeded job was not drained")
	}

	reg.RequestStop()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the stop flag was raised")
	}
}
