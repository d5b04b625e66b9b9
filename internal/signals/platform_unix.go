//go:build !windows

package signals

import (
	"os"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

// osSignal resolves a table number to the platform signal to register with
// the runtime. Classic signals resolve by name so the table keeps working on
// platforms whose kernel numbering differs from the table (SIGUSR1 is 10 in
// the table but 30 on the BSDs). Real-time numbers pass through untranslated
// and exist only on Linux.
func osSignal(num int) (os.Signal, bool) {
	if num > rtBase {
		if runtime.GOOS == "linux" {
			return syscall.Signal(num), true
		}
		return nil, false
	}
	s := unix.SignalNum(signalNames[num])
	if s == 0 {
		return nil, false
	}
	return s, true
}

// tableNumber maps a delivered OS signal back to its table number.
func tableNumber(sig os.Signal) (int, bool) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return 0, false
	}
	if name := unix.SignalName(s); name != "" {
		if num, err := Number(name); err == nil {
			return num, true
		}
	}
	// Unnamed signals are the real-time range, which already carries table
	// numbering on Linux.
	if n := int(s); n >= MinSignal && n <= MaxSignal {
		return n, true
	}
	return 0, false
}

// shutdownNumbers is the default graceful-shutdown set installed by
// [Registry.InstallShutdownHandlers].
func shutdownNumbers() []int {
	return []int{
		int(syscall.SIGTERM),
		int(syscall.SIGINT),
		int(syscall.SIGQUIT),
		int(syscall.SIGHUP),
	}
}
