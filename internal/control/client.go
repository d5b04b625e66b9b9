package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Client issues commands to a running daemon's control socket.
type Client struct {
	// path is the control socket path (translated to a pipe name on Windows).
	path string
}

// NewClient creates a client for the control socket at path. No connection
// is made until a command is issued; each command uses its own connection.
func NewClient(path string) *Client {
	return &Client{path: path}
}

// Status fetches the daemon's runtime snapshot.
func (c *Client) Status() (*Status, error) {
	resp, err := c.roundTrip(Request{Command: CommandStatus})
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, errors.New("daemon reply carried no status")
	}
	return resp.Status, nil
}

// Stop asks the daemon to shut down gracefully. A nil return means the
// daemon accepted the request, not that it has finished stopping.
func (c *Client) Stop() error {
	_, err := c.roundTrip(Request{Command: CommandStop})
	return err
}

// roundTrip performs one command exchange on a fresh connection.
func (c *Client) roundTrip(req Request) (*Response, error) {
	conn, err := dial(c.path)
	if err != nil {
		return nil, fmt.Errorf("connecting to control socket: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	frame, err := EncodeFrame(OpCommand, payload)
	if err != nil {
		return nil, fmt.Errorf("framing request: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	opcode, data, err := DecodeFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}
	if opcode != OpResult {
		return nil, fmt.Errorf("unexpected reply opcode %d", opcode)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parsing reply: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("daemon rejected %s: %s", req.Command, resp.Error)
	}
	return &resp, nil
}
