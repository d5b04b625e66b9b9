package signals

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"
)

// ///////////////////////////////////////////////
// Notifications
// ///////////////////////////////////////////////

// Notification describes one delivered signal. It is passed to every
// subscriber registered for that signal, in subscription order.
type Notification struct {
	// Signal is the table number of the delivered signal (1..64).
	Signal int
	// Name is the canonical symbolic name, e.g. "SIGTERM".
	Name string
	// Time is when the dispatcher observed the delivery.
	Time time.Time
}

// Handler is a subscriber callback. Handlers run synchronously on the
// dispatch path and may fire at any point relative to the host's work, so
// they must be short and non-blocking; the canonical handler sets the stop
// flag and returns.
type Handler func(Notification)

// ///////////////////////////////////////////////
// Registry
// ///////////////////////////////////////////////

// Registry owns the signal subscriptions and the stop flag for one process.
// Construct with [New], subscribe during startup, then poll [Registry.ShouldStop]
// (or wrap units of work in [Registry.Step]) from the work loop. Delivered
// signals are converted into [Notification] values and fanned out to
// subscribers in registration order.
//
// Subscriptions are expected during setup only; delivery may start as soon
// as the first subscription installs an OS handler.
type Registry struct {
	// mu guards subs and installed.
	mu sync.Mutex
	// subs maps a signal number to its subscribers in registration order.
	// Entries are never removed; registration lasts the process lifetime.
	subs map[int][]Handler
	// installed tracks signal numbers whose OS handler is already wired,
	// so repeated subscriptions do not re-register with the runtime.
	installed map[int]bool

	// ch receives raw OS deliveries for every installed signal.
	ch chan os.Signal
	// done stops the dispatcher goroutine.
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// stop is the one-way cooperative shutdown flag.
	stop atomic.Bool
	// stopped is closed the first time stop is set.
	stopped chan struct{}
}

// New creates a Registry and starts its dispatcher. Callers should Close it
// when the registry is no longer needed (typically only in tests; a daemon
// keeps its registry for the process lifetime).
func New() *Registry {
	r := &Registry{
		subs:      make(map[int][]Handler),
		installed: make(map[int]bool),
		ch:        make(chan os.Signal, 8),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.watch()
	return r
}

// Close detaches all OS handlers and stops the dispatcher. Pending
// deliveries already read from the OS channel finish dispatching first.
func (r *Registry) Close() {
	r.once.Do(func() {
		signal.Stop(r.ch)
		close(r.done)
	})
	r.wg.Wait()
}

// ///////////////////////////////////////////////
// Subscription
// ///////////////////////////////////////////////

// Subscribe registers fn for the given signal number. The number must be a
// table entry (ErrUnknownSignal otherwise) and trappable on this platform
// (ErrNotTrappable for SIGKILL/SIGSTOP or signals the platform cannot
// intercept). The OS handler is installed once per signal; later
// subscriptions to the same number only append fn, and all accumulated
// subscribers run on each delivery in the order they subscribed.
func (r *Registry) Subscribe(num int, fn Handler) error {
	name, err := Name(num)
	if err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("subscribe %s: nil handler", name)
	}
	if !IsTrappable(num) {
		return fmt.Errorf("%w: %s", ErrNotTrappable, name)
	}
	osSig, ok := osSignal(num)
	if !ok {
		return fmt.Errorf("%w: %s not interceptable on this platform", ErrNotTrappable, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.installed[num] {
		signal.Notify(r.ch, osSig)
		r.installed[num] = true
	}
	r.subs[num] = append(r.subs[num], fn)
	slog.Debug("signal subscription added", "signal", name, "number", num, "subscribers", len(r.subs[num]))
	return nil
}

// SubscribeName is [Registry.Subscribe] with a symbolic name, resolved
// through the signal table ("SIGTERM", "term", and "TERM" are equivalent).
func (r *Registry) SubscribeName(name string, fn Handler) error {
	num, err := Number(name)
	if err != nil {
		return err
	}
	return r.Subscribe(num, fn)
}

// ///////////////////////////////////////////////
// Delivery
// ///////////////////////////////////////////////

// Deliver injects a synthetic delivery for the given signal number,
// dispatching to subscribers exactly as an OS delivery would. It returns
// ErrUnknownSignal for numbers outside the table. Dispatch happens on the
// caller's goroutine and returns after every subscriber has run.
func (r *Registry) Deliver(num int) error {
	name, err := Name(num)
	if err != nil {
		return err
	}
	r.dispatch(Notification{Signal: num, Name: name, Time: time.Now()})
	return nil
}

// watch is the dispatcher goroutine: it drains the OS channel and fans each
// delivery out to subscribers until Close.
func (r *Registry) watch() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case sig := <-r.ch:
			num, ok := tableNumber(sig)
			if !ok {
				continue
			}
			name, _ := Name(num)
			r.dispatch(Notification{Signal: num, Name: name, Time: time.Now()})
		}
	}
}

// dispatch invokes the subscribers for one notification in registration
// order. The subscriber slice is copied out of the lock so handlers may
// themselves subscribe or deliver without deadlocking.
func (r *Registry) dispatch(n Notification) {
	r.mu.Lock()
	handlers := make([]Handler, len(r.subs[n.Signal]))
	copy(handlers, r.subs[n.Signal])
	r.mu.Unlock()

	slog.Debug("signal delivered", "signal", n.Name, "number", n.Signal, "subscribers", len(handlers))
	for _, fn := range handlers {
		fn(n)
	}
}

// ///////////////////////////////////////////////
// Stop Flag
// ///////////////////////////////////////////////

// RequestStop sets the cooperative shutdown flag. The transition is one-way
// and idempotent; once set it stays set for the process lifetime.
func (r *Registry) RequestStop() {
	if r.stop.CompareAndSwap(false, true) {
		close(r.stopped)
	}
}

// ShouldStop reports whether shutdown has been requested. Work loops poll
// this once per unit of work.
func (r *Registry) ShouldStop() bool {
	return r.stop.Load()
}

// Stopped returns a channel that is closed the first time shutdown is
// requested, for hosts that select rather than poll.
func (r *Registry) Stopped() <-chan struct{} {
	return r.stopped
}

// Step runs unit unless shutdown has been requested and reports whether the
// hosting loop should keep going. A false return means the unit was skipped
// and the loop should wind down; skipping is normal control flow, not an
// error.
func (r *Registry) Step(unit func()) bool {
	if r.stop.Load() {
		return false
	}
	unit()
	return true
}

// ///////////////////////////////////////////////
// Default Shutdown Policy
// ///////////////////////////////////////////////

// ShutdownDefaults returns the platform's default graceful-shutdown set:
// SIGTERM, SIGINT, SIGQUIT, SIGHUP on unix; interrupt only on Windows. These
// are the numbers [Registry.InstallShutdownHandlers] subscribes.
func ShutdownDefaults() []int {
	return shutdownNumbers()
}

// InstallShutdownHandlers subscribes the platform's default shutdown set
// (SIGTERM, SIGINT, SIGQUIT, SIGHUP on unix; interrupt only on Windows) to
// a handler that sets the stop flag and logs the triggering signal at warn
// level.
func (r *Registry) InstallShutdownHandlers() error {
	for _, num := range shutdownNumbers() {
		if err := r.Subscribe(num, r.stopOnSignal); err != nil {
			return err
		}
	}
	return nil
}

// stopOnSignal is the default graceful-shutdown subscriber.
func (r *Registry) stopOnSignal(n Notification) {
	r.RequestStop()
	slog.Warn("shutdown requested by signal", "signal", n.Name, "number", n.Signal)
}
