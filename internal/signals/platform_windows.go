//go:build windows

package signals

import (
	"os"
	"syscall"
)

// osSignal resolves a table number to the platform signal to register with
// the runtime. Windows has no POSIX signals; the console delivers Ctrl+C as
// an interrupt and nothing else is interceptable, so only SIGINT resolves.
func osSignal(num int) (os.Signal, bool) {
	if num == int(syscall.SIGINT) {
		return os.Interrupt, true
	}
	return nil, false
}

// tableNumber maps a delivered OS signal back to its table number.
func tableNumber(sig os.Signal) (int, bool) {
	if sig == os.Interrupt {
		return int(syscall.SIGINT), true
	}
	if s, ok := sig.(syscall.Signal); ok {
		if n := int(s); n >= MinSignal && n <= MaxSignal {
			return n, true
		}
	}
	return 0, false
}

// shutdownNumbers is the default graceful-shutdown set installed by
// [Registry.InstallShutdownHandlers].
func shutdownNumbers() []int {
	return []int{int(syscall.SIGINT)}
}
