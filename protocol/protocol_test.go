package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		FrameType: FrameMessage,
		Seq:       12345,
	}
	body := []byte(`{"trpc":{"id":"1","method":"query"}}`)

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decodedHeader.CodecType != header.CodecType {
		t.Errorf("CodecType mismatch: got %d, want %d", decodedHeader.CodecType, header.CodecType)
	}
	if decodedHeader.FrameType != header.FrameType {
		t.Errorf("FrameType mismatch: got %d, want %d", decodedHeader.FrameType, header.FrameType)
	}
	if decodedHeader.Seq != header.Seq {
		t.Errorf("Seq mismatch: got %d, want %d", decodedHeader.Seq, header.Seq)
	}
	if decodedHeader.BodyLen != uint32(len(body)) {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, len(body))
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", decodedBody, body)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalidHeader := []byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, byte(FrameMessage), 0x00, 0x00, 0x30, 0x39, 0x00, 0x00, 0x00, 0x0B}
	var buf bytes.Buffer
	buf.Write(invalidHeader)
	buf.Write([]byte("hello world"))

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("Expected error for invalid magic number, but got nil")
	}
	if !strings.Contains(err.Error(), "invalid magic number") {
		t.Errorf("Error message should contain 'invalid magic number', instead: %v", err)
	}
}

func TestDecodeControlFrames(t *testing.T) {
	for _, ft := range []FrameType{FrameHeartbeat, FrameClose} {
		var buf bytes.Buffer
		if err := Encode(&buf, &Header{FrameType: ft, Seq: 1}, nil); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}

		decodedHeader, decodedBody, err := Decode(&buf)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if decodedHeader.FrameType != ft {
			t.Errorf("FrameType mismatch: got %d, want %d", decodedHeader.FrameType, ft)
		}
		if len(decodedBody) != 0 {
			t.Errorf("Expected empty body, got length %d", len(decodedBody))
		}
	}
}

func TestDecodeInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{
		MagicNumber, MagicByte2, MagicByte3,
		0xFF,
		CodecTypeJSON,
		byte(FrameMessage),
		0, 0, 0, 1,
		0, 0, 0, 0,
	})

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("expected an error for a bad version")
	}
	if !strings.Contains(err.Error(), "unsupported version") {
		t.Errorf("error should mention 'unsupported version', got: %v", err)
	}
}

func TestDecodeOversizedBody(t *testing.T) {
	frame := []byte{
		MagicNumber, MagicByte2, MagicByte3,
		Version,
		CodecTypeJSON,
		byte(FrameMessage),
		0, 0, 0, 1,
		0, 0, 0, 0,
	}
	binary.BigEndian.PutUint32(frame[10:14], MaxBodyLen+1)

	_, _, err := Decode(bytes.NewReader(frame))
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected a too large error, got %v", err)
	}
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	header := &Header{
		CodecType: CodecTypeBinary,
		FrameType: FrameMessage,
		Seq:       999,
	}

	if err := Encode(&buf, header, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("large body mismatch")
	}
}
