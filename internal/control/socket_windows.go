// socket_windows.go binds the control channel to a named pipe via go-winio.
// The socket path is hashed into a stable pipe name, so each daemon (one per
// data directory and worker) gets its own endpoint and both ends derive the
// same name independently.

//go:build windows

package control

import (
	"crypto/sha256"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// ///////////////////////////////////////////////
// Pipe Binding
// ///////////////////////////////////////////////

// pipeName derives the named pipe endpoint for a control socket path.
func pipeName(path string) string {
	sum := sha256.Sum256([]byte(path))
	return fmt.Sprintf(`\\.\pipe\wardend-%x`, sum[:8])
}

// listen binds the daemon's named pipe.
func listen(path string) (net.Listener, error) {
	return winio.ListenPipe(pipeName(path), nil)
}

// dial connects to a daemon's named pipe.
func dial(path string) (net.Conn, error) {
	timeout := dialTimeout
	return winio.DialPipe(pipeName(path), &timeout)
}
