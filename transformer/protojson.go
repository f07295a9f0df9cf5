package transformer

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// ProtoJSON carries protobuf messages as their canonical JSON mapping.
// Serialize accepts a proto.Message; Deserialize builds a fresh message with
// New and fills it from the wire JSON.
type ProtoJSON struct {
	New       func() proto.Message
	Marshal   protojson.MarshalOptions
	Unmarshal protojson.UnmarshalOptions
}

func (p ProtoJSON) Serialize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("transformer: ProtoJSON cannot serialize %T", v)
	}
	b, err := p.Marshal.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func (p ProtoJSON) Deserialize(v any) (any, error) {
	b, err := rawJSON(v)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	if p.New == nil {
		return nil, fmt.Errorf("transformer: ProtoJSON has no message constructor")
	}
	m := p.New()
	if err := p.Unmarshal.Unmarshal(b, m); err != nil {
		return nil, err
	}
	return m, nil
}
