package transformer

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type upper struct{}

func (upper) Serialize(v any) (any, error)   { return strings.ToUpper(v.(string)), nil }
func (upper) Deserialize(v any) (any, error) { return strings.ToLower(v.(string)), nil }

func TestResolveNilIsIdentity(t *testing.T) {
	c := Resolve(nil)
	values := []any{nil, 1, "x", json.RawMessage(`{"a":1}`), []int{1, 2}}
	for _, v := range values {
		for _, dt := range []DataTransformer{c.Input, c.Output} {
			got, err := dt.Serialize(v)
			require.NoError(t, err)
			assert.Equal(t, v, got)
			got, err = dt.Deserialize(v)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	}
}

func TestResolveCombinedUnchanged(t *testing.T) {
	c := Combined{Input: Identity, Output: upper{}}

	got := Resolve(c)
	assert.Equal(t, c, got)

	got = Resolve(&c)
	assert.Equal(t, c, got)
}

func TestResolveBareUsedForBothDirections(t *testing.T) {
	got := Resolve(upper{})
	assert.Equal(t, upper{}, got.Input)
	assert.Equal(t, upper{}, got.Output)
}

func TestResolveUnknownIsIdentity(t *testing.T) {
	assert.Equal(t, Default, Resolve(42))
	var nilCombined *Combined
	assert.Equal(t, Default, Resolve(nilCombined))
}

func TestFuncsNilActsAsIdentity(t *testing.T) {
	f := Funcs{DeserializeFunc: func(any) (any, error) { return nil, errors.New("boom") }}
	v, err := f.Serialize("same")
	require.NoError(t, err)
	assert.Equal(t, "same", v)
	_, err = f.Deserialize("x")
	assert.EqualError(t, err, "boom")
}

func TestProtoJSONRoundTrip(t *testing.T) {
	pj := ProtoJSON{New: func() proto.Message { return &wrapperspb.StringValue{} }}

	wire, err := pj.Serialize(wrapperspb.String("world"))
	require.NoError(t, err)
	assert.JSONEq(t, `"world"`, string(wire.(json.RawMessage)))

	back, err := pj.Deserialize(wire)
	require.NoError(t, err)
	assert.True(t, proto.Equal(wrapperspb.String("world"), back.(proto.Message)))
}

func TestProtoJSONStruct(t *testing.T) {
	pj := ProtoJSON{New: func() proto.Message { return &structpb.Struct{} }}

	back, err := pj.Deserialize(json.RawMessage(`{"greeting":"hello","n":2}`))
	require.NoError(t, err)
	s := back.(*structpb.Struct)
	assert.Equal(t, "hello", s.Fields["greeting"].GetStringValue())
	assert.Equal(t, float64(2), s.Fields["n"].GetNumberValue())
}

func TestProtoJSONRejectsForeignValues(t *testing.T) {
	pj := ProtoJSON{New: func() proto.Message { return &wrapperspb.StringValue{} }}
	_, err := pj.Serialize("not a proto")
	assert.Error(t, err)
	_, err = pj.Deserialize(42)
	assert.Error(t, err)

	v, err := pj.Deserialize(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestBind(t *testing.T) {
	type reply struct {
		Greeting string `json:"greeting"`
	}

	var r reply
	require.NoError(t, Bind(json.RawMessage(`{"greeting":"hi"}`), &r))
	assert.Equal(t, "hi", r.Greeting)

	var s string
	require.NoError(t, Bind("direct", &s))
	assert.Equal(t, "direct", s)

	var fromMap reply
	require.NoError(t, Bind(map[string]any{"greeting": "converted"}, &fromMap))
	assert.Equal(t, "converted", fromMap.Greeting)

	var untouched = reply{Greeting: "keep"}
	require.NoError(t, Bind(nil, &untouched))
	assert.Equal(t, "keep", untouched.Greeting)

	assert.Error(t, Bind(json.RawMessage(`1`), r))
}
