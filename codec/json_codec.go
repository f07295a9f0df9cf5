package codec

import (
	"encoding/json"
	"errors"

	"port-rpc/message"
)

// JSONCodec is the default: it matches what browser ports carry and what
// remote tRPC peers expect.
type JSONCodec struct{}

func (c *JSONCodec) Encode(env *message.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (c *JSONCodec) Decode(data []byte, env *message.Envelope) error {
	if err := json.Unmarshal(data, env); err != nil {
		return err
	}
	if env.TRPC == nil {
		return errors.New("JSONCodec: missing trpc body")
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
