// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import "path/filepath"

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	LockFile   = "wardend.lock"
	ConfigFile = "config.toml"
	LogFile    = "wardend.log"
	SocketFile = "wardend.sock"
	SpoolDir   = "spool"
)

// Spool subdirectories. Jobs move incoming → work → done/failed; the
// subdirectory a job file sits in is its state.
const (
	SpoolWorkDir   = "work"
	SpoolDoneDir   = "done"
	SpoolFailedDir = "failed"
)

// Job file extensions.
const (
	JobExt     = ".job"
	ReceiptExt = ".receipt.json"
)

const (
	BinaryName = "wardend"
	DataDirRel = ".warden" // relative to $HOME
)

// LockFileForWorker returns the per-worker lock file name, so differently
// named workers can share a data directory without excluding each other.
// For example, LockFileForWorker("ingest") returns "wardend.ingest.lock".
func LockFileForWorker(worker string) string {
	return "wardend." + worker + ".lock"
}

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// Lock returns the full path to the default instance lock file.
func (d DataDir) Lock() string { return filepath.Join(d.Root, LockFile) }

// LockForWorker returns the full path to a named worker's lock file.
func (d DataDir) LockForWorker(worker string) string {
	return filepath.Join(d.Root, LockFileForWorker(worker))
}

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Socket returns the full path to the control socket.
func (d DataDir) Socket() string { return filepath.Join(d.Root, SocketFile) }

// Spool returns the full path to the spool directory, where new job files
// arrive.
func (d DataDir) Spool() string { return filepath.Join(d.Root, SpoolDir) }

// SpoolWork returns the full path to the claimed-jobs directory.
func (d DataDir) SpoolWork() string { return filepath.Join(d.Root, SpoolDir, SpoolWorkDir) }

// SpoolDone returns the full path to the completed-jobs directory.
func (d DataDir) SpoolDone() string { return filepath.Join(d.Root, SpoolDir, SpoolDoneDir) }

// SpoolFailed returns the full path to the failed-jobs directory.
func (d DataDir) SpoolFailed() string { return filepath.Join(d.Root, SpoolDir, SpoolFailedDir) }
