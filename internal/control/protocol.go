// Package control implements the daemon's local command channel.
//
// A running daemon listens on a unix domain socket (named pipe on Windows)
// and answers two commands: status, which returns a runtime snapshot, and
// stop, which requests a graceful shutdown. wardenctl is the only intended
// client. The wire format is a framed protocol: a 4-byte little-endian
// opcode, a 4-byte little-endian payload length, then a JSON payload.
package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Opcode represents a control protocol frame opcode.
type Opcode uint32

const (
	// OpCommand carries a client request.
	OpCommand Opcode = 0
	// OpResult carries the daemon's reply.
	OpResult Opcode = 1

	// frameHeaderSize is the byte length of the frame header consisting of
	// a 4-byte little-endian opcode followed by a 4-byte little-endian
	// payload length.
	frameHeaderSize = 8

	// MaxPayloadSize is the maximum allowed payload size (64 KiB). Control
	// payloads are small; anything larger is a broken or hostile peer.
	MaxPayloadSize = 64 << 10
)

// Connection deadlines. A peer is either prompt or gone.
const (
	dialTimeout = 2 * time.Second
	connTimeout = 5 * time.Second
)

// ErrPayloadTooLarge is returned when a frame payload exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("payload too large")

// Command names accepted on the control socket.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
)

// ///////////////////////////////////////////////
// Message Types
// ///////////////////////////////////////////////

// Request is the JSON payload of an [OpCommand] frame.
type Request struct {
	// Command is one of the Command* constants.
	Command string `json:"command"`
}

// Response is the JSON payload of an [OpResult] frame.
type Response struct {
	// OK is true when the command was accepted.
	OK bool `json:"ok"`
	// Error describes the rejection when OK is false.
	Error string `json:"error,omitempty"`
	// Status carries the runtime snapshot for status commands.
	Status *Status `json:"status,omitempty"`
}

// Status is the daemon's runtime snapshot, returned for status commands.
type Status struct {
	// PID is the daemon's process id.
	PID int `json:"pid"`
	// Worker is the configured worker name, when one is set.
	Worker string `json:"worker,omitempty"`
	// StartedAt is when the daemon started; clients derive uptime from it.
	StartedAt time.Time `json:"startedAt"`
	// Stopping is true once a shutdown signal has been accepted.
	Stopping bool `json:"stopping"`
	// LastSignal names the most recent signal delivery, when any.
	LastSignal string `json:"lastSignal,omitempty"`
	// JobsDone and JobsFailed count archived jobs for this run.
	JobsDone   int `json:"jobsDone"`
	JobsFailed int `json:"jobsFailed"`
	// JobsPending counts claimable jobs waiting in the spool.
	JobsPending int `json:"jobsPending"`
}

// ///////////////////////////////////////////////
// Frame Encoding
// ///////////////////////////////////////////////

// EncodeFrame builds a control frame: [4-byte LE opcode][4-byte LE length][payload].
func EncodeFrame(opcode Opcode, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(opcode))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame, nil
}

// ///////////////////////////////////////////////
// Frame Decoding
// ///////////////////////////////////////////////

// DecodeFrame reads a single control frame from reader.
// It handles partial reads via io.ReadFull.
func DecodeFrame(reader io.Reader) (opcode Opcode, payload []byte, err error) {
	header := make([]byte, frameHeaderSize)
	if _, err = io.ReadFull(reader, header); err != nil {
		return 0, nil, fmt.Errorf("reading frame header: %w", err)
	}

	opcode = Opcode(binary.LittleEndian.Uint32(header[0:4]))
	length := binary.LittleEndian.Uint32(header[4:8])

	if length > MaxPayloadSize {
		return 0, nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, length, MaxPayloadSize)
	}

	payload = make([]byte, length)
	if _, err = io.ReadFull(reader, payload); err != nil {
		return 0, nil, fmt.Errorf("reading frame payload: %w", err)
	}

	return opcode, payload, nil
}
