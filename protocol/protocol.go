// Package protocol frames port messages on a byte stream.
//
// A stream port (TCP, unix socket, stdio pipe) has no message boundaries, so each
// envelope travels as a fixed 14-byte header followed by a variable-length body.
// The receiver reads the header first, then exactly BodyLen bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│ft│   seq   │ bodyLen │    body ...    │
//	│ prt  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "prt" (port).
const (
	MagicNumber byte = 0x70 // 'p'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x74 // 't'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (frameType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame so a corrupt length cannot force a huge allocation.
	MaxBodyLen uint32 = 16 << 20
)

// FrameType distinguishes message, heartbeat, and close frames.
type FrameType byte

const (
	FrameMessage   FrameType = 0 // Carries one encoded envelope
	FrameHeartbeat FrameType = 1 // KeepAlive ping (no body)
	FrameClose     FrameType = 2 // Sender is disconnecting (no body)
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed 14-byte frame header.
type Header struct {
	CodecType byte      // Envelope encoding of the body: 0=JSON, 1=Binary
	FrameType FrameType // Message, Heartbeat, or Close
	Seq       uint32    // Per-sender frame counter, for diagnostics
	BodyLen   uint32    // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same writer.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) > MaxBodyLen {
		return fmt.Errorf("frame body too large: %d", len(body))
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.FrameType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))

	// One Write per frame keeps frames intact on writers that are not buffered.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates magic number, version, codec type, frame type and body length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	frameType := FrameType(headerBuf[5])
	if frameType != FrameMessage && frameType != FrameHeartbeat && frameType != FrameClose {
		return nil, nil, fmt.Errorf("unsupported frame type: %d", frameType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("frame body too large: %d", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		FrameType: frameType,
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
