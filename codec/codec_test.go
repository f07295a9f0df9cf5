package codec

import (
	"encoding/json"
	"port-rpc/message"
	"strings"
	"testing"
)

func checkRequest(t *testing.T, cdc Codec) {
	t.Helper()

	original := message.NewRequest("42", message.MethodQuery, "Arith.Add", json.RawMessage(`{"a":1,"b":2}`))

	data, err := cdc.Encode(original)
	if err != nil {
		t.Fatalf("%T Encode failed: %v", cdc, err)
	}

	var decoded message.Envelope
	if err := cdc.Decode(data, &decoded); err != nil {
		t.Fatalf("%T Decode failed: %v", cdc, err)
	}

	req, ok := decoded.Request()
	if !ok {
		t.Fatalf("%T: decoded envelope is not a request", cdc)
	}
	if req.ID != "42" || req.Method != message.MethodQuery || req.Path != "Arith.Add" {
		t.Errorf("request mismatch: %+v", req)
	}
	if string(req.Input) != `{"a":1,"b":2}` {
		t.Errorf("Input mismatch: got %s", req.Input)
	}
}

func checkResponses(t *testing.T, cdc Codec) {
	t.Helper()

	data, err := cdc.Encode(message.NewResult("7", message.ResultStopped, nil))
	if err != nil {
		t.Fatal(err)
	}
	var env message.Envelope
	if err := cdc.Decode(data, &env); err != nil {
		t.Fatal(err)
	}
	resp, ok := env.Response()
	if !ok {
		t.Fatal("expect response")
	}
	rr, ok := resp.(*message.ResultResponse)
	if !ok || rr.Result.Type != message.ResultStopped {
		t.Fatalf("expect stopped result, got %#v", resp)
	}

	data, err = cdc.Encode(message.NewError("8", message.CodeNotFound, "no such procedure"))
	if err != nil {
		t.Fatal(err)
	}
	env = message.Envelope{}
	if err := cdc.Decode(data, &env); err != nil {
		t.Fatal(err)
	}
	resp, _ = env.Response()
	er, ok := resp.(*message.ErrorResponse)
	if !ok {
		t.Fatalf("expect error response, got %#v", resp)
	}
	if er.Error.Code != message.CodeNotFound || er.Error.Message != "no such procedure" {
		t.Errorf("error mismatch: %+v", er.Error)
	}
}

func TestJSONCodec(t *testing.T) {
	checkRequest(t, &JSONCodec{})
	checkResponses(t, &JSONCodec{})
}

func TestBinaryCodec(t *testing.T) {
	checkRequest(t, &BinaryCodec{})
	checkResponses(t, &BinaryCodec{})
}

func TestBinaryCodecFieldLimits(t *testing.T) {
	cdc := &BinaryCodec{}

	fits := message.NewResult("1", message.ResultType(strings.Repeat("t", 255)), nil)
	data, err := cdc.Encode(fits)
	if err != nil {
		t.Fatalf("255-byte result type: %v", err)
	}
	var env message.Envelope
	if err := cdc.Decode(data, &env); err != nil {
		t.Fatal(err)
	}
	if len(env.TRPC.Result.Type) != 255 {
		t.Fatalf("result type length: got %d", len(env.TRPC.Result.Type))
	}

	if _, err := cdc.Encode(message.NewResult("1", message.ResultType(strings.Repeat("t", 256)), nil)); err == nil {
		t.Error("256-byte result type must not encode")
	}
	if _, err := cdc.Encode(message.NewResult("1", message.ResultType(strings.Repeat("t", 300)), nil)); err == nil {
		t.Error("300-byte result type must not encode")
	}

	data, err = cdc.Encode(message.NewError("2", message.CodeBadRequest, strings.Repeat("m", 65535)))
	if err != nil {
		t.Fatalf("65535-byte error message: %v", err)
	}
	env = message.Envelope{}
	if err := cdc.Decode(data, &env); err != nil {
		t.Fatal(err)
	}
	if len(env.TRPC.Error.Message) != 65535 {
		t.Fatalf("error message length: got %d", len(env.TRPC.Error.Message))
	}

	if _, err := cdc.Encode(message.NewError("2", message.CodeBadRequest, strings.Repeat("m", 70000))); err == nil {
		t.Error("70000-byte error message must not encode")
	}
	if _, err := cdc.Encode(message.NewRequest(message.ID(strings.Repeat("9", 65536)), message.MethodQuery, "a", nil)); err == nil {
		t.Error("65536-byte id must not encode")
	}
}

func TestDecodeForeignData(t *testing.T) {
	var env message.Envelope
	if err := (&JSONCodec{}).Decode([]byte(`{"type":"ping"}`), &env); err == nil {
		t.Error("JSONCodec must reject messages without a trpc body")
	}
	if err := (&BinaryCodec{}).Decode([]byte(`{"trpc":{}}`), &env); err == nil {
		t.Error("BinaryCodec must reject JSON input")
	}
	// Truncated frame: marker plus a length that runs past the end.
	if err := (&BinaryCodec{}).Decode([]byte{binaryMarker, 0x00, 0x09, 'a'}, &env); err == nil {
		t.Error("BinaryCodec must reject truncated input")
	}
}

func TestParseType(t *testing.T) {
	if ct, ok := ParseType("binary"); !ok || ct != CodecTypeBinary {
		t.Fatalf("binary: got %v %v", ct, ok)
	}
	if ct, ok := ParseType(""); !ok || ct != CodecTypeJSON {
		t.Fatalf("default: got %v %v", ct, ok)
	}
	if _, ok := ParseType("xml"); ok {
		t.Fatal("xml must not parse")
	}
}
