// Package signals maintains the mapping between OS signal numbers, their
// symbolic names, and the callbacks a worker registers for them. A
// [Registry] converts asynchronous signal delivery into ordered callback
// invocations and a one-way stop flag that the hosting work loop polls
// between units of work.
//
// The number<->name table follows the classic Linux numbering (SIGHUP=1
// through SIGRTMAX=64) on every platform so that operator expectations like
// `kill -TERM` -> "SIGTERM" hold regardless of where warden runs.
package signals

import (
	"errors"
	"fmt"
	"strings"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

// ErrUnknownSignal is returned when a signal number or name is not in the
// table. Subscribing to an unknown signal never silently no-ops.
var ErrUnknownSignal = errors.New("unknown signal")

// ErrNotTrappable is returned when a handler is requested for a signal the
// OS never delivers to userspace handlers (SIGKILL, SIGSTOP).
var ErrNotTrappable = errors.New("signal cannot be trapped")

// ///////////////////////////////////////////////
// Signal Table
// ///////////////////////////////////////////////

// Valid signal numbers span [MinSignal, MaxSignal]. Numbers above rtBase
// are the real-time range.
const (
	MinSignal = 1
	MaxSignal = 64
	rtBase    = 31
)

// signalNames maps signal numbers to canonical names. Index 0 is unused.
// Numbers 1..31 are the standard set; 32..64 are the POSIX real-time range
// named relative to SIGRTMIN (32) and SIGRTMAX (64).
var signalNames = [MaxSignal + 1]string{
	1:  "SIGHUP",
	2:  "SIGINT",
	3:  "SIGQUIT",
	4:  "SIGILL",
	5:  "SIGTRAP",
	6:  "SIGABRT",
	7:  "SIGBUS",
	8:  "SIGFPE",
	9:  "SIGKILL",
	10: "SIGUSR1",
	11: "SIGSEGV",
	12: "SIGUSR2",
	13: "SIGPIPE",
	14: "SIGALRM",
	15: "SIGTERM",
	16: "SIGSTKFLT",
	17: "SIGCHLD",
	18: "SIGCONT",
	19: "SIGSTOP",
	20: "SIGTSTP",
	21: "SIGTTIN",
	22: "SIGTTOU",
	23: "SIGURG",
	24: "SIGXCPU",
	25: "SIGXFSZ",
	26: "SIGVTALRM",
	27: "SIGPROF",
	28: "SIGWINCH",
	29: "SIGIO",
	30: "SIGPWR",
	31: "SIGSYS",
	32: "SIGRTMIN",
	33: "SIGRTMIN+1",
	34: "SIGRTMIN+2",
	35: "SIGRTMIN+3",
	36: "SIGRTMIN+4",
	37: "SIGRTMIN+5",
	38: "SIGRTMIN+6",
	39: "SIGRTMIN+7",
	40: "SIGRTMIN+8",
	41: "SIGRTMIN+9",
	42: "SIGRTMIN+10",
	43: "SIGRTMIN+11",
	44: "SIGRTMIN+12",
	45: "SIGRTMIN+13",
	46: "SIGRTMIN+14",
	47: "SIGRTMIN+15",
	48: "SIGRTMAX-16",
	49: "SIGRTMAX-15",
	50: "SIGRTMAX-14",
	51: "SIGRTMAX-13",
	52: "SIGRTMAX-12",
	53: "SIGRTMAX-11",
	54: "SIGRTMAX-10",
	55: "SIGRTMAX-9",
	56: "SIGRTMAX-8",
	57: "SIGRTMAX-7",
	58: "SIGRTMAX-6",
	59: "SIGRTMAX-5",
	60: "SIGRTMAX-4",
	61: "SIGRTMAX-3",
	62: "SIGRTMAX-2",
	63: "SIGRTMAX-1",
	64: "SIGRTMAX",
}

// signalNumbers is the reverse index, built once from signalNames plus
// historical aliases that dispatch to the same number.
var signalNumbers = buildReverseIndex()

// buildReverseIndex inverts signalNames and adds the aliases SIGIOT,
// SIGCLD, SIGPOLL, and SIGUNUSED, which older tooling still emits.
func buildReverseIndex() map[string]int {
	idx := make(map[string]int, MaxSignal+4)
	for num := MinSignal; num <= MaxSignal; num++ {
		idx[signalNames[num]] = num
	}
	idx["SIGIOT"] = idx["SIGABRT"]
	idx["SIGCLD"] = idx["SIGCHLD"]
	idx["SIGPOLL"] = idx["SIGIO"]
	idx["SIGUNUSED"] = idx["SIGSYS"]
	return idx
}

// ///////////////////////////////////////////////
// Lookups
// ///////////////////////////////////////////////

// Name returns the canonical symbolic name for a signal number.
// Returns ErrUnknownSignal for numbers outside [MinSignal, MaxSignal].
func Name(num int) (string, error) {
	if num < MinSignal || num > MaxSignal {
		return "", fmt.Errorf("%w: %d", ErrUnknownSignal, num)
	}
	return signalNames[num], nil
}

// Number resolves a symbolic name to its signal number. Matching is
// case-insensitive and the "SIG" prefix is optional, so "SIGTERM", "term",
// and "Term" all resolve to 15. Historical aliases (SIGIOT, SIGCLD,
// SIGPOLL, SIGUNUSED) resolve to their canonical numbers.
func Number(name string) (int, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n != "" && !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	num, ok := signalNumbers[n]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	return num, nil
}

// IsTrappable reports whether a handler can be installed for the signal.
// SIGKILL and SIGSTOP are reserved by the kernel and never reach userspace
// handlers; num is assumed to be a valid table entry.
func IsTrappable(num int) bool {
	return num != 9 && num != 19 // SIGKILL, SIGSTOP
}
