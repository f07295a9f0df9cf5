package transformer

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Bind stores a transformed value into dst, which must be a non-nil pointer.
// Raw JSON is unmarshalled; a value assignable to *dst is assigned; anything
// else is converted through a JSON round trip. Empty data leaves dst untouched.
func Bind(src any, dst any) error {
	if dst == nil {
		return nil
	}
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("transformer: bind target must be a non-nil pointer, got %T", dst)
	}

	switch v := src.(type) {
	case nil:
		return nil
	case json.RawMessage:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(rv.Elem().Type()) {
		rv.Elem().Set(sv)
		return nil
	}

	b, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("transformer: bind %T: %w", src, err)
	}
	return json.Unmarshal(b, dst)
}
