package codec

import "port-rpc/message"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// Codec turns envelopes into port messages and back.
// Decode returns an error for anything that is not an envelope in this format;
// callers treat that as a foreign message, not a failure.
type Codec interface {
	Encode(env *message.Envelope) ([]byte, error)
	Decode(data []byte, env *message.Envelope) error
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeBinary {
		return &BinaryCodec{}
	}

	return &JSONCodec{}
}

// ParseType maps a config name ("json", "binary") to a CodecType.
func ParseType(name string) (CodecType, bool) {
	switch name {
	case "", "json":
		return CodecTypeJSON, true
	case "binary":
		return CodecTypeBinary, true
	}
	return 0, false
}

func (t CodecType) String() string {
	if t == CodecTypeBinary {
		return "binary"
	}
	return "json"
}
