// socket_unix.go binds the control channel to a unix domain socket inside
// the data directory, mode 0600 so only the owning user can command the
// daemon.

//go:build !windows

package control

import (
	"fmt"
	"net"
	"os"
)

// ///////////////////////////////////////////////
// Socket Binding
// ///////////////////////////////////////////////

// listen binds the daemon's unix socket, replacing any stale socket file
// left by a previous run.
func listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale control socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("restricting control socket: %w", err)
	}
	return ln, nil
}

// dial connects to a daemon's unix socket.
func dial(path string) (net.Conn, error) {
	return net.DialTimeout("unix", path, dialTimeout)
}
