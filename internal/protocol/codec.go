package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single envelope on the wire. Frames beyond this
// are a protocol violation, not a transport failure.
const MaxFrameSize = 8 * 1024

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// ProtocolError marks a malformed or unrecognised envelope. The
// connection stays open; the handler replies with an error envelope.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is a recoverable protocol
// violation rather than a transport failure.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) || errors.Is(err, ErrFrameTooLarge)
}

// Decoder reads newline-framed envelopes from a stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r for envelope decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, MaxFrameSize)}
}

// Decode reads the next frame and unmarshals it.
//
// Postcondition: A malformed frame returns a *ProtocolError and the
// stream position advances past the offending line, so the caller can
// keep reading. Transport failures are returned as-is.
func (d *Decoder) Decode() (Envelope, error) {
	line, err := d.readFrame()
	if err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, &ProtocolError{Reason: "malformed envelope", Err: err}
	}
	if env.Kind == "" {
		return Envelope{}, &ProtocolError{Reason: "missing kind"}
	}
	return env, nil
}

// readFrame reads one LF-terminated line, tolerating a trailing CR and
// skipping blank lines.
func (d *Decoder) readFrame() ([]byte, error) {
	for {
		line, err := d.r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			// Drain the oversized frame so the next read starts clean.
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = d.r.ReadSlice('\n')
			}
			if err != nil {
				return nil, err
			}
			return nil, ErrFrameTooLarge
		}
		if err != nil {
			if len(bytes.TrimSpace(line)) > 0 && errors.Is(err, io.EOF) {
				// Final unterminated frame before EOF.
				return bytes.TrimSpace(line), nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		// ReadSlice's buffer is invalidated by the next read.
		frame := make([]byte, len(line))
		copy(frame, line)
		return frame, nil
	}
}

// Encoder writes newline-framed envelopes to a stream.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w for envelope encoding.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals env and writes it as a single LF-terminated frame.
func (e *Encoder) Encode(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}
	if len(data)+1 > MaxFrameSize {
		return ErrFrameTooLarge
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Marshal renders an envelope as a single frame without the trailing
// newline. Useful for message-oriented transports such as WebSocket.
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Unmarshal parses a single complete frame.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &ProtocolError{Reason: "malformed envelope", Err: err}
	}
	if env.Kind == "" {
		return Envelope{}, &ProtocolError{Reason: "missing kind"}
	}
	return env, nil
}
