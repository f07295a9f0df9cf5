// Package transformer normalizes the optional data transformer a link is
// configured with.
//
// A transformer converts call inputs into wire values on the way out and wire
// values into results on the way in. Users may configure nothing, one
// transformer for both directions, or a Combined pair; Resolve turns any of
// those into a Combined value the link can use without further checks.
package transformer

import (
	"encoding/json"
	"fmt"
)

// DataTransformer converts values to and from their wire representation.
type DataTransformer interface {
	Serialize(v any) (any, error)
	Deserialize(v any) (any, error)
}

// Combined holds one transformer per direction: Input for call arguments,
// Output for results.
type Combined struct {
	Input  DataTransformer
	Output DataTransformer
}

type identity struct{}

func (identity) Serialize(v any) (any, error)   { return v, nil }
func (identity) Deserialize(v any) (any, error) { return v, nil }

// Identity passes values through unchanged.
var Identity DataTransformer = identity{}

// Default is the Combined value used when no transformer is configured.
var Default = Combined{Input: Identity, Output: Identity}

// Resolve normalizes t. Checked in order:
//   - nil resolves to Default
//   - a Combined (or *Combined) is returned as is
//   - a DataTransformer is used for both directions
//
// Anything else also resolves to Default. Resolve never fails.
func Resolve(t any) Combined {
	switch v := t.(type) {
	case nil:
		return Default
	case Combined:
		return v
	case *Combined:
		if v == nil {
			return Default
		}
		return *v
	case DataTransformer:
		return Combined{Input: v, Output: v}
	}
	return Default
}

// Funcs adapts a pair of functions. A nil function acts as identity.
type Funcs struct {
	SerializeFunc   func(any) (any, error)
	DeserializeFunc func(any) (any, error)
}

func (f Funcs) Serialize(v any) (any, error) {
	if f.SerializeFunc == nil {
		return v, nil
	}
	return f.SerializeFunc(v)
}

func (f Funcs) Deserialize(v any) (any, error) {
	if f.DeserializeFunc == nil {
		return v, nil
	}
	return f.DeserializeFunc(v)
}

// rawJSON returns the JSON text of a wire value. Codecs hand wire values to
// transformers as json.RawMessage.
func rawJSON(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	}
	return nil, fmt.Errorf("transformer: expected JSON data, got %T", v)
}
