package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "worker.command")
// to their [FieldDoc] entries. The genconfig tool uses this map to annotate the
// generated config.default.toml with inline comments and alternative examples.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version — do not edit.",
	},

	// ── Worker ───────────────────────────────────────────────────
	"worker.name": {
		Comment: "Optional worker name. Scopes the default lock file so differently\nnamed workers can share a data directory without excluding each other.\nLowercase alphanumeric with hyphens.",
		Alternatives: []string{
			`name = "ingest"`,
		},
	},
	"worker.command": {
		Comment: "Command run for each claimed job. The job file path is appended as\nthe final argument. Empty disables job execution: the daemon still\nholds the lock and serves signals and control requests.",
		Alternatives: []string{
			`command = ["/usr/local/bin/process-job"]`,
			`command = ["sh", "-c", "jq .payload \"$1\"", "wardend-job"]`,
		},
	},
	"worker.poll_interval_seconds": {
		Comment: "How often to rescan the spool directory (seconds). Filesystem\nnotification is primary, this is the fallback interval.",
	},
	"worker.job_timeout_seconds": {
		Comment: "Kill a job command running longer than this many seconds. 0 = no timeout.",
		Alternatives: []string{
			`job_timeout_seconds = 300`,
		},
	},
	"worker.include": {
		Comment: "Spool file names must match one of these glob patterns to be claimed.",
	},
	"worker.ignore": {
		Comment: "Spool file names matching any of these patterns are never claimed,\neven when they match an include pattern.",
	},

	// ── Lock ─────────────────────────────────────────────────────
	"lock.path": {
		Comment: "Override the instance lock file location. Empty uses the data\ndirectory default, scoped by worker name when one is set.",
		Alternatives: []string{
			`path = "/run/lock/wardend.lock"`,
		},
	},

	// ── Signals ──────────────────────────────────────────────────
	"signals.shutdown": {
		Comment: "Signals that request graceful stop. Names are case-insensitive and\nthe SIG prefix is optional. Empty uses the platform default set.\nSIGKILL and SIGSTOP cannot be trapped and are rejected.",
	},
	"signals.stats": {
		Comment: "Signal that logs runtime counters without stopping. Empty disables.",
	},
	"signals.rotate": {
		Comment: "Signal that forces log rotation. Empty disables.",
	},

	// ── Log ──────────────────────────────────────────────────────
	"log": {
		Comment: "Logging configuration",
	},
	"log.level": {
		Comment: "Minimum log level. Options: \"trace\", \"debug\", \"info\", \"warn\", \"error\"",
		Alternatives: []string{
			`level = "debug"`,
			`level = "warn"`,
		},
	},
	"log.max_size_mb": {
		Comment: "Maximum log file size in megabytes before rotation.",
	},

	// ── Notify ───────────────────────────────────────────────────
	"notify.url": {
		Comment: "Webhook that receives a JSON POST for lifecycle events\n(started, stopping, stopped, lock_contended). Empty disables.",
		Alternatives: []string{
			`url = "https://hooks.example.com/wardend"`,
		},
	},
	"notify.timeout_seconds": {
		Comment: "Timeout for each webhook attempt (seconds).",
	},
	"notify.retry_max": {
		Comment: "Retries after a failed webhook attempt.",
	},

	// ── Control ──────────────────────────────────────────────────
	"control.enabled": {
		Comment: "Serve status/stop requests on the local control socket\n(unix socket in the data dir; named pipe on Windows).",
	},
}
