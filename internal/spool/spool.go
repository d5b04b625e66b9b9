// Package spool implements a directory-backed job queue.
//
// New job files land in the spool directory. Claiming a job renames it into
// work/, so a file's location always reflects its state and a crash leaves
// claimed jobs on disk for recovery. Finished jobs move to done/ or failed/
// and a JSON receipt is written alongside the archived file.
//
// The queue has no index: the directory tree is the whole data structure.
// Rename is atomic within a filesystem, which makes every state transition
// crash-safe without fsync bookkeeping.
package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"warden/internal/atomicfile"
	"warden/internal/paths"
)

// ///////////////////////////////////////////////
// Job Types
// ///////////////////////////////////////////////

// Job is a single unit of work: one file in the spool directory.
type Job struct {
	// Name is the job file's base name, unique within the spool.
	Name string
	// Path is the file's current location on disk. Claiming a job changes it.
	Path string
	// ModTime is the file's modification time, used for oldest-first ordering.
	ModTime time.Time
}

// Receipt statuses.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Receipt records the outcome of one job. It is written next to the archived
// job file as <name>.receipt.json.
type Receipt struct {
	// Job is the job file's base name. Stamped by [Queue.Complete] and [Queue.Fail].
	Job string `json:"job"`
	// Status is [StatusDone] or [StatusFailed]. Stamped by Complete and Fail.
	Status string `json:"status"`
	// ClaimedAt is when the job was taken from the spool.
	ClaimedAt time.Time `json:"claimedAt"`
	// FinishedAt is when execution ended.
	FinishedAt time.Time `json:"finishedAt"`
	// ExitCode is the job command's exit code; -1 when it never ran.
	ExitCode int `json:"exitCode"`
	// Error describes the failure for [StatusFailed] receipts.
	Error string `json:"error,omitempty"`
}

// ///////////////////////////////////////////////
// Queue
// ///////////////////////////////////////////////

// Queue is a job queue over a spool directory tree.
type Queue struct {
	// dir receives incoming job files.
	dir string
	// work holds the job currently being executed.
	work string
	// done and failed hold archived jobs and their receipts.
	done   string
	failed string
	// claim filters incoming file names; nil claims every regular file.
	claim func(name string) bool
}

// New opens a queue rooted at the data directory's spool tree, creating the
// directories if needed. claim decides which file names are jobs; pass nil
// to claim every regular file.
func New(d paths.DataDir, claim func(name string) bool) (*Queue, error) {
	q := &Queue{
		dir:    d.Spool(),
		work:   d.SpoolWork(),
		done:   d.SpoolDone(),
		failed: d.SpoolFailed(),
		claim:  claim,
	}
	for _, dir := range []string{q.dir, q.work, q.done, q.failed} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating spool directory: %w", err)
		}
	}
	return q, nil
}

// Dir returns the directory watched for incoming job files.
func (q *Queue) Dir() string { return q.dir }

// Next returns the oldest claimable job, or nil when the spool is empty.
// Jobs are ordered by modification time, then name, so the order is stable
// across rescans.
func (q *Queue) Next() (*Job, error) {
	jobs, err := q.list()
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// Pending returns the number of claimable jobs waiting in the spool.
func (q *Queue) Pending() (int, error) {
	jobs, err := q.list()
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// list scans the spool for claimable jobs in delivery order.
func (q *Queue) list() ([]Job, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("reading spool: %w", err)
	}

	var jobs []Job
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if q.claim != nil && !q.claim(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Raced with a delete or rename; the file is no longer ours to claim.
			continue
		}
		jobs = append(jobs, Job{
			Name:    name,
			Path:    filepath.Join(q.dir, name),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].ModTime.Equal(jobs[j].ModTime) {
			return jobs[i].ModTime.Before(jobs[j].ModTime)
		}
		return jobs[i].Name < jobs[j].Name
	})
	return jobs, nil
}

// ///////////////////////////////////////////////
// State Transitions
// ///////////////////////////////////////////////

// Claim moves the job into the work directory, taking ownership of it.
// The returned copy points at the new location; the input is unchanged.
func (q *Queue) Claim(j *Job) (*Job, error) {
	dst := filepath.Join(q.work, j.Name)
	if err := os.Rename(j.Path, dst); err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", j.Name, err)
	}
	claimed := *j
	claimed.Path = dst
	return &claimed, nil
}

// Complete archives a claimed job as done and writes its receipt.
func (q *Queue) Complete(j *Job, r Receipt) error {
	r.Status = StatusDone
	return q.archive(j, q.done, r)
}

// Fail archives a claimed job as failed and writes its receipt.
func (q *Queue) Fail(j *Job, r Receipt) error {
	r.Status = StatusFailed
	return q.archive(j, q.failed, r)
}

// archive renames the job into dir and writes its receipt next to it.
func (q *Queue) archive(j *Job, dir string, r Receipt) error {
	r.Job = j.Name

	dst := filepath.Join(dir, j.Name)
	if err := os.Rename(j.Path, dst); err != nil {
		return fmt.Errorf("archiving job %s: %w", j.Name, err)
	}

	receiptPath := dst + paths.ReceiptExt
	if err := atomicfile.WriteJSON(receiptPath, r, 0o600); err != nil {
		return fmt.Errorf("writing receipt for %s: %w", j.Name, err)
	}
	return nil
}

// Recover moves any job left in the work directory back into the spool and
// returns the names moved. A job sits in work/ only while an instance is
// executing it, so files found there at startup are orphans from a crash.
// The instance lock guarantees no live owner exists when Recover runs.
func (q *Queue) Recover() ([]string, error) {
	entries, err := os.ReadDir(q.work)
	if err != nil {
		return nil, fmt.Errorf("reading work directory: %w", err)
	}

	var moved []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(q.work, e.Name())
		dst := filepath.Join(q.dir, e.Name())
		if err := os.Rename(src, dst); err != nil {
			return moved, fmt.Errorf("recovering job %s: %w", e.Name(), err)
		}
		moved = append(moved, e.Name())
	}
	return moved, nil
}

// ReadReceipt loads the receipt archived next to a done or failed job file.
func ReadReceipt(jobPath string) (*Receipt, error) {
	data, err := os.ReadFile(jobPath + paths.ReceiptExt)
	if err != nil {
		return nil, fmt.Errorf("reading receipt: %w", err)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing receipt: %w", err)
	}
	return &r, nil
}
