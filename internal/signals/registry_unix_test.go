//go:build !windows

// OS-level delivery tests: a real signal sent to this process must reach
// subscribers with table numbering, regardless of the platform's own
// numbering for that signal.
package signals

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestOSDeliveryReachesSubscriber(t *testing.T) {
	r := New()
	defer r.Close()

	got := make(chan Notification, 1)
	if err := r.SubscribeName("SIGUSR1", func(n Notification) {
		select {
		case got <- n:
		default:
		}
	}); err != nil {
		t.Fatalf("SubscribeName: %v", err)
	}

	if err := unix.Kill(os.Getpid(), unix.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case n := <-got:
		if n.Signal != 10 || n.Name != "SIGUSR1" {
			t.Errorf("notification = %+v, want Signal=10 Name=SIGUSR1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for SIGUSR1 delivery")
	}
}

func TestOSDeliverySetsStopFlag(t *testing.T) {
	r := New()
	defer r.Close()

	if err := r.InstallShutdownHandlers(); err != nil {
		t.Fatalf("InstallShutdownHandlers: %v", err)
	}

	if err := unix.Kill(os.Getpid(), unix.SIGHUP); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-r.Stopped():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stop flag after SIGHUP")
	}
	if !r.ShouldStop() {
		t.Error("ShouldStop false after OS shutdown signal")
	}
}
