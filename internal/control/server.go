package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////

// StatusFunc supplies the current runtime snapshot for a status command.
type StatusFunc func() Status

// StopFunc requests a graceful daemon stop. It must not block: handlers
// call it from the connection goroutine.
type StopFunc func()

// Server answers status and stop commands on the control socket.
type Server struct {
	// ln is the platform listener (unix socket or named pipe).
	ln net.Listener
	// status and stop are the daemon callbacks behind the two commands.
	status StatusFunc
	stop   StopFunc
	// wg tracks the accept loop and in-flight connection handlers.
	wg sync.WaitGroup
	// once ensures [Server.Close] is idempotent.
	once sync.Once
}

// NewServer binds the control socket at path and starts answering commands.
// On unix, path is a socket path inside the data directory; on Windows it is
// translated to a named pipe. Any stale socket left by an earlier run is
// replaced, which is safe because the caller already holds the instance lock.
func NewServer(path string, status StatusFunc, stop StopFunc) (*Server, error) {
	ln, err := listen(path)
	if err != nil {
		return nil, fmt.Errorf("binding control socket: %w", err)
	}

	s := &Server{ln: ln, status: status, stop: stop}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

// Addr returns the bound address: the socket path on unix, the pipe name on
// Windows.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops accepting connections and waits for in-flight handlers.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ln.Close()
		s.wg.Wait()
	})
	return err
}

// accept hands each connection to its own goroutine until the listener closes.
func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			// Listener closed, or the accept loop is wedged; either way we
			// are done serving.
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// handle reads one command frame, executes it, and replies. The connection
// carries exactly one request.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	opcode, payload, err := DecodeFrame(conn)
	if err != nil {
		slog.Debug("control: dropping unreadable connection", "error", err)
		return
	}
	if opcode != OpCommand {
		s.reply(conn, Response{Error: fmt.Sprintf("unexpected opcode %d", opcode)})
		return
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.reply(conn, Response{Error: "malformed request: " + err.Error()})
		return
	}

	slog.Debug("control: command received", "command", req.Command)

	switch req.Command {
	case CommandStatus:
		st := s.status()
		s.reply(conn, Response{OK: true, Status: &st})
	case CommandStop:
		s.stop()
		s.reply(conn, Response{OK: true})
	default:
		s.reply(conn, Response{Error: fmt.Sprintf("unknown command %q", req.Command)})
	}
}

// reply encodes and writes a single result frame. Write failures are logged
// and dropped; the peer may already be gone.
func (s *Server) reply(conn net.Conn, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("control: failed to encode response", "error", err)
		return
	}
	frame, err := EncodeFrame(OpResult, payload)
	if err != nil {
		slog.Warn("control: failed to frame response", "error", err)
		return
	}
	if _, err := conn.Write(frame); err != nil {
		slog.Debug("control: failed to write response", "error", err)
	}
}
