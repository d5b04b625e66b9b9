// Package notify posts daemon lifecycle events to an operator webhook.
//
// Events fire when the daemon starts, begins stopping, exits, and when it
// loses the instance lock to another process. Delivery is best-effort:
// failures are logged and swallowed, never surfaced into the lifecycle
// itself. A Notifier built with an empty URL discards every event, so
// callers never branch on whether notification is configured.
package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ///////////////////////////////////////////////
// Events
// ///////////////////////////////////////////////

// Event names posted to the webhook.
const (
	EventStarted       = "started"
	EventStopping      = "stopping"
	EventStopped       = "stopped"
	EventLockContended = "lock_contended"
)

// Event is the JSON payload posted for each lifecycle transition.
type Event struct {
	// Event is one of the Event* constants.
	Event string `json:"event"`
	// Worker is the configured worker name, when one is set.
	Worker string `json:"worker,omitempty"`
	// PID is the posting daemon's process id.
	PID int `json:"pid"`
	// Time is when the event was posted, in UTC.
	Time time.Time `json:"time"`

	// Signal names the delivery that triggered a stopping event.
	Signal string `json:"signal,omitempty"`
	// HolderPID is the pid holding the instance lock, for lock_contended
	// events. Zero when the holder could not be read.
	HolderPID int `json:"holderPid,omitempty"`
	// JobsDone and JobsFailed summarize the run, for stopped events.
	JobsDone   int `json:"jobsDone,omitempty"`
	JobsFailed int `json:"jobsFailed,omitempty"`
}

// ///////////////////////////////////////////////
// Notifier
// ///////////////////////////////////////////////

// Notifier delivers lifecycle events to a single webhook URL.
type Notifier struct {
	// url is the webhook endpoint; empty disables the notifier.
	url string
	// worker is stamped into every event's Worker field.
	worker string
	// client is the retrying HTTP client; nil when disabled.
	client *retryablehttp.Client
}

// New builds a Notifier for the given webhook URL. An empty URL produces a
// disabled notifier whose methods are no-ops.
func New(url, worker string, timeout time.Duration, retryMax int) *Notifier {
	n := &Notifier{url: url, worker: worker}
	if url == "" {
		return n
	}

	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.HTTPClient.Timeout = timeout
	client.Logger = nil // suppress retryablehttp's default logging
	n.client = client
	return n
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.url != ""
}

// Started posts the startup event.
func (n *Notifier) Started() {
	n.post(Event{Event: EventStarted})
}

// Stopping posts the shutdown-initiated event, naming the signal that
// triggered it ("wardenctl" for a control-socket stop).
func (n *Notifier) Stopping(signal string) {
	n.post(Event{Event: EventStopping, Signal: signal})
}

// Stopped posts the final event of a run with its job counts.
func (n *Notifier) Stopped(jobsDone, jobsFailed int) {
	n.post(Event{Event: EventStopped, JobsDone: jobsDone, JobsFailed: jobsFailed})
}

// LockContended posts the lost-the-lock event. holderPID is the pid read
// from the lock file, or zero when unknown.
func (n *Notifier) LockContended(holderPID int) {
	n.post(Event{Event: EventLockContended, HolderPID: holderPID})
}

// ///////////////////////////////////////////////
// Delivery
// ///////////////////////////////////////////////

// post fills the common fields and delivers the event. Failures are logged
// and swallowed; a webhook outage must never take the daemon down.
func (n *Notifier) post(ev Event) {
	if n.url == "" {
		return
	}

	ev.Worker = n.worker
	ev.PID = os.Getpid()
	ev.Time = time.Now().UTC()

	body, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("failed to encode lifecycle event", "event", ev.Event, "error", err)
		return
	}

	resp, err := n.client.Post(n.url, "application/json", body)
	if err != nil {
		slog.Warn("lifecycle webhook delivery failed", "event", ev.Event, "url", n.url, "error", err)
		return
	}
	defer resp.Body.Close()
	// Drain so the underlying connection can be reused.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		slog.Warn("lifecycle webhook rejected event", "event", ev.Event, "status", resp.StatusCode)
	}
}
