package paths

import (
	"path/filepath"
	"testing"
)

// ///////////////////////////////////////////////
// Constant Value Tests
// ///////////////////////////////////////////////

func TestConstantValues(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DataDirRel", DataDirRel, ".warden"},
		{"LockFile", LockFile, "wardend.lock"},
		{"ConfigFile", ConfigFile, "config.toml"},
		{"LogFile", LogFile, "wardend.log"},
		{"SocketFile", SocketFile, "wardend.sock"},
		{"SpoolDir", SpoolDir, "spool"},
		{"SpoolWorkDir", SpoolWorkDir, "work"},
		{"SpoolDoneDir", SpoolDoneDir, "done"},
		{"SpoolFailedDir", SpoolFailedDir, "failed"},
		{"JobExt", JobExt, ".job"},
		{"ReceiptExt", ReceiptExt, ".receipt.json"},
		{"BinaryName", BinaryName, "wardend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLockFileForWorker(t *testing.T) {
	if got, want := LockFileForWorker("ingest"), "wardend.ingest.lock"; got != want {
		t.Errorf("LockFileForWorker(ingest) = %q, want %q", got, want)
	}
}

// ///////////////////////////////////////////////
// DataDir Method Tests
// ///////////////////////////////////////////////

func TestDataDirMethods(t *testing.T) {
	root := filepath.Join("home", "user", ".warden")
	d := DataDir{Root: root}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Lock", d.Lock(), filepath.Join(root, "wardend.lock")},
		{"LockForWorker", d.LockForWorker("ingest"), filepath.Join(root, "wardend.ingest.lock")},
		{"Config", d.Config(), filepath.Join(root, "config.toml")},
		{"Log", d.Log(), filepath.Join(root, "wardend.log")},
		{"Socket", d.Socket(), filepath.Join(root, "wardend.sock")},
		{"Spool", d.Spool(), filepath.Join(root, "spool")},
		{"SpoolWork", d.SpoolWork(), filepath.Join(root, "spool", "work")},
		{"SpoolDone", d.SpoolDone(), filepath.Join(root, "spool", "done")},
		{"SpoolFailed", d.SpoolFailed(), filepath.Join(root, "spool", "failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestDataDirEmptyRoot(t *testing.T) {
	d := DataDir{Root: ""}

	// With an empty root, methods should return just the filename.
	if got := d.Lock(); got != LockFile {
		t.Errorf("Lock() with empty root = %q, want %q", got, LockFile)
	}
	if got := d.Config(); got != ConfigFile {
		t.Errorf("Config() with empty root = %q, want %q", got, ConfigFile)
	}
}
