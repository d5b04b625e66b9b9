package spool

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher monitors the spool directory for new job files using fsnotify with
// a polling fallback.
type Watcher struct {
	// dir is the spool directory being monitored.
	dir string
	// claim filters file names the same way the queue does; nil matches all.
	claim func(name string) bool
	// events delivers a signal each time a job file arrives or changes.
	// The channel is buffered to 1 so back-to-back arrivals coalesce.
	events chan struct{}
	// done is closed by [Watcher.Close] to signal goroutines to exit.
	done chan struct{}
	// mu guards fsw: the watch goroutine swaps it out on fallback while
	// Close tears it down.
	mu sync.Mutex
	// fsw is the underlying fsnotify watcher; nil when polling.
	fsw *fsnotify.Watcher
	// once ensures [Watcher.Close] is idempotent.
	once sync.Once
	// polling is true when the watcher has fallen back to stat-based polling.
	polling atomic.Bool
	// pollInterval is the duration between directory scans in polling mode.
	pollInterval time.Duration
}

// NewWatcher creates a Watcher for the queue's spool directory. It uses
// fsnotify as the primary change detection mechanism and falls back to
// polling if fsnotify is unavailable.
func NewWatcher(q *Queue) (*Watcher, error) {
	w := &Watcher{
		dir:          q.dir,
		claim:        q.claim,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: 2 * time.Second,
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to spool polling", "error", err)
		w.polling.Store(true)
		go w.poll()
		return w, nil
	}

	w.fsw = fsw
	if err := fsw.Add(w.dir); err != nil {
		slog.Info("cannot watch spool directory, falling back to polling", "path", w.dir, "error", err)
		fsw.Close()
		w.fsw = nil
		w.polling.Store(true)
		go w.poll()
		return w, nil
	}

	go w.watch(fsw)
	return w, nil
}

// isJob reports whether name is a claimable job file.
func (w *Watcher) isJob(name string) bool {
	if w.claim == nil {
		return true
	}
	return w.claim(filepath.Base(name))
}

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a signal when a job file arrives.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.fsw != nil {
			if closeErr := w.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
			w.fsw = nil
		}
	})
	return err
}

// watch loops over fsnotify events, forwarding write/create notifications
// for job files to the events channel. Files renamed into the directory
// surface as create events. If fsnotify encounters an error, watch closes
// the native watcher and falls back to [Watcher.poll]. fsw arrives as a
// parameter so the loop never reads the mu-guarded field.
func (w *Watcher) watch(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) && w.isJob(event.Name) {
				w.notify()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to spool polling", "error", err)
			w.mu.Lock()
			if w.fsw != nil {
				w.fsw.Close()
				w.fsw = nil
			}
			w.mu.Unlock()
			w.polling.Store(true)
			go w.poll()
			return
		}
	}
}

// poll periodically scans the spool and notifies when the newest job mtime
// advances or the number of job files changes. Jobs are usually renamed
// into the spool, which preserves their original mtime, so mtime alone
// would miss arrivals.
func (w *Watcher) poll() {
	lastMod, lastCount := w.scan()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			mod, count := w.scan()
			if mod.After(lastMod) || count != lastCount {
				lastMod, lastCount = mod, count
				w.notify()
			}
		}
	}
}

// scan returns the most recent modification time among job files in the
// spool and how many there are.
func (w *Watcher) scan() (time.Time, int) {
	var latest time.Time
	var count int

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return latest, 0
	}
	for _, e := range entries {
		if e.IsDir() || !w.isJob(e.Name()) {
			continue
		}
		count++
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest, count
}

// notify sends a single signal to the events channel. If a signal is already
// pending the call is a no-op, coalescing rapid successive arrivals.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
		// Channel already has a pending event, skip
	}
}
