// Package main implements wardenctl, the control client for the warden
// daemon. It reports daemon status, requests a graceful stop, and tails the
// daemon log, talking to wardend over its local control socket.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"warden/internal/config"
	"warden/internal/control"
	"warden/internal/lock"
	"warden/internal/logger"
	"warden/internal/paths"
)

// ///////////////////////////////////////////////
// Usage
// ///////////////////////////////////////////////

const usageText = `wardenctl controls a running warden daemon.

Usage:
  wardenctl [-data-dir DIR] status
  wardenctl [-data-dir DIR] stop [-wait] [-timeout DURATION]
  wardenctl [-data-dir DIR] logs [-n LINES]

Commands:
  status   Print daemon status (pid, uptime, job counters).
  stop     Request a graceful stop; -wait blocks until the lock is released.
  logs     Print the last LINES lines of the daemon log (default 50).

Exit status is 0 on success, 1 on failure or when no daemon is running.
`

func usage() {
	fmt.Fprint(os.Stderr, usageText)
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	flag.PrintDefaults()
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

// defaultDataDir mirrors the daemon's default so both sides agree on the
// socket and lock locations without any flags.
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
	flag.Usage = usage
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory of the daemon to control")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	d := paths.DataDir{Root: *dataDir}
	cfg, err := config.Load(d.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "status":
		os.Exit(runStatus(os.Stdout, d, cfg))
	case "stop":
		os.Exit(runStop(os.Stdout, d, cfg, flag.Args()[1:]))
	case "logs":
		os.Exit(runLogs(os.Stdout, d, flag.Args()[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}
}

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

// runStatus prints the daemon's self-reported status. When the control
// socket is unreachable it falls back to probing the instance lock, so the
// running/not-running answer survives a daemon with the socket disabled.
func runStatus(w io.Writer, d paths.DataDir, cfg *config.Config) int {
	st, err := control.NewClient(d.Socket()).Status()
	if err == nil {
		printStatus(w, st)
		return 0
	}

	if held, pid := lock.Probe(cfg.LockPath(d)); held {
		fmt.Fprintf(w, "daemon running (pid %d), control socket unavailable\n", pid)
		return 0
	}
	fmt.Fprintln(w, "daemon not running")
	return 1
}

func printStatus(w io.Writer, st *control.Status) {
	fmt.Fprintf(w, "pid:          %d\n", st.PID)
	if st.Worker != "" {
		fmt.Fprintf(w, "worker:       %s\n", st.Worker)
	}
	fmt.Fprintf(w, "uptime:       %s\n", time.Since(st.StartedAt).Round(time.Second))
	fmt.Fprintf(w, "stopping:     %t\n", st.Stopping)
	if st.LastSignal != "" {
		fmt.Fprintf(w, "last signal:  %s\n", st.LastSignal)
	}
	fmt.Fprintf(w, "jobs:         %d done, %d failed, %d pending\n",
		st.JobsDone, st.JobsFailed, st.JobsPending)
}

// ///////////////////////////////////////////////
// Stop
// ///////////////////////////////////////////////

// runStop asks the daemon to stop. With -wait it then polls the instance
// lock until the daemon releases it, which happens only after the in-flight
// job has finished and receipts are written.
func runStop(w io.Writer, d paths.DataDir, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	wait := fs.Bool("wait", false, "Block until the daemon has released the instance lock")
	timeout := fs.Duration("timeout", 30*time.Second, "How long -wait is willing to block")
	fs.Parse(args)

	if err := control.NewClient(d.Socket()).Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "stop failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(w, "stop requested")

	if !*wait {
		return 0
	}

	lockPath := cfg.LockPath(d)
	deadline := time.Now().Add(*timeout)
	for time.Now().Before(deadline) {
		if held, _ := lock.Probe(lockPath); !held {
			fmt.Fprintln(w, "daemon stopped")
			return 0
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Fprintf(os.Stderr, "daemon still holds the lock after %s\n", *timeout)
	return 1
}

// ///////////////////////////////////////////////
// Logs
// ///////////////////////////////////////////////

// runLogs prints the tail of the daemon's current log file.
func runLogs(w io.Writer, d paths.DataDir, args []string) int {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	n := fs.Int("n", 50, "Number of trailing log lines to print")
	fs.Parse(args)

	lines, err := logger.Tail(d.Log(), *n)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "no log file yet")
			return 1
		}
		fmt.Fprintf(os.Stderr, "read log: %v\n", err)
		return 1
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	return 0
}
