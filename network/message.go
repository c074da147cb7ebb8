// Package network carries captures and configurations between the assisted
// side and the assistant over a single TCP connection.
//
// Every message is a 5-byte header (1 byte type, 4 byte big-endian payload
// length) followed by a CBOR payload. Messages on a connection are
// delivered in the order they were sent.
package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/screenpack/screenpack/capture"
	"github.com/screenpack/screenpack/codec"
	"github.com/screenpack/screenpack/squeeze"
)

// MessageType is the first byte of every frame.
type MessageType byte

const (
	// MessageCaptureConfig carries a capture.Config. Assistant to assisted.
	MessageCaptureConfig MessageType = 0x01

	// MessageCompressorConfig carries a squeeze.Config. Assistant to
	// assisted.
	MessageCompressorConfig MessageType = 0x02

	// MessageMouseLocation carries the pointer position on the assisted
	// screen. Assisted to assistant.
	MessageMouseLocation MessageType = 0x03

	// MessageCaptureData carries a squeeze.Capture. Assisted to assistant.
	MessageCaptureData MessageType = 0x04

	// MessageByteCount carries the sender's own count of bytes written,
	// for telemetry. Assisted to assistant.
	MessageByteCount MessageType = 0x05
)

func (t MessageType) String() string {
	switch t {
	case MessageCaptureConfig:
		return "capture-config"
	case MessageCompressorConfig:
		return "compressor-config"
	case MessageMouseLocation:
		return "mouse-location"
	case MessageCaptureData:
		return "capture-data"
	case MessageByteCount:
		return "byte-count"
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

// messageHeaderLength is 1 byte type + 4 bytes payload length.
const messageHeaderLength = 5

// MaxPayloadLength bounds a single message. A full-screen capture of a
// large display left uncompressed stays well below it.
const MaxPayloadLength = 64 << 20

var (
	// ErrPayloadTooLarge is returned for frames over MaxPayloadLength.
	ErrPayloadTooLarge = errors.New("network: payload too large")

	// ErrUnknownMessage is returned for a frame whose type is not known.
	ErrUnknownMessage = errors.New("network: unknown message type")
)

// A Message is one frame.
type Message struct {
	Type    MessageType
	Payload []byte
}

// MouseLocation is the pointer position in screen pixels.
type MouseLocation struct {
	X int `cbor:"x"`
	Y int `cbor:"y"`
}

// ByteCount is a count of bytes, reported by the sender.
type ByteCount struct {
	Count int64 `cbor:"count"`
}

// WriteMessage writes a framed message to w.
func WriteMessage(w io.Writer, message Message) error {
	if len(message.Payload) > MaxPayloadLength {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(message.Payload))
	}
	var header [messageHeaderLength]byte
	header[0] = byte(message.Type)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(message.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write message header: %w", err)
	}
	if len(message.Payload) > 0 {
		if _, err := w.Write(message.Payload); err != nil {
			return fmt.Errorf("write message payload: %w", err)
		}
	}
	return nil
}

// ReadMessage reads a framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var header [messageHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, fmt.Errorf("read message header: %w", err)
	}
	payloadLength := binary.BigEndian.Uint32(header[1:5])
	if payloadLength > MaxPayloadLength {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payloadLength)
	}
	payload := make([]byte, payloadLength)
	if payloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("read message payload: %w", err)
		}
	}
	return Message{Type: MessageType(header[0]), Payload: payload}, nil
}

// Encode wraps one of the wire types (capture.Config, squeeze.Config,
// MouseLocation, *squeeze.Capture, ByteCount) in a message.
func Encode(v any) (Message, error) {
	var t MessageType
	switch v.(type) {
	case capture.Config:
		t = MessageCaptureConfig
	case squeeze.Config:
		t = MessageCompressorConfig
	case MouseLocation:
		t = MessageMouseLocation
	case *squeeze.Capture:
		t = MessageCaptureData
	case ByteCount:
		t = MessageByteCount
	default:
		return Message{}, fmt.Errorf("network: no message type for %T", v)
	}
	payload, err := codec.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %v: %w", t, err)
	}
	return Message{Type: t, Payload: payload}, nil
}

// Decode unwraps a message into the matching wire type. Captures come
// back as *squeeze.Capture, everything else by value.
func Decode(m Message) (any, error) {
	var (
		v   any
		err error
	)
	switch m.Type {
	case MessageCaptureConfig:
		var c capture.Config
		err = codec.Unmarshal(m.Payload, &c)
		v = c
	case MessageCompressorConfig:
		var c squeeze.Config
		err = codec.Unmarshal(m.Payload, &c)
		v = c
	case MessageMouseLocation:
		var l MouseLocation
		err = codec.Unmarshal(m.Payload, &l)
		v = l
	case MessageCaptureData:
		c := new(squeeze.Capture)
		err = codec.Unmarshal(m.Payload, c)
		v = c
	case MessageByteCount:
		var b ByteCount
		err = codec.Unmarshal(m.Payload, &b)
		v = b
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, m.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %v: %w", m.Type, err)
	}
	return v, nil
}

// maxDiagnostic bounds the diagnostic notation logged for a message that
// failed to decode.
const maxDiagnostic = 512

// Diagnostic renders the payload in CBOR diagnostic notation, cut to a
// length fit for a log line.
func (m Message) Diagnostic() string {
	d, err := codec.Diagnose(m.Payload)
	if err != nil {
		return fmt.Sprintf("%d bytes of invalid CBOR: %v", len(m.Payload), err)
	}
	if len(d) > maxDiagnostic {
		d = d[:maxDiagnostic] + "..."
	}
	return d
}

// countingReader reports the size of every successful read.
type countingReader struct {
	r      io.Reader
	onRead func(n int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.onRead(n)
	}
	return n, err
}
