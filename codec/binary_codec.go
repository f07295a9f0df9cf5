package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"port-rpc/message"
)

// binaryMarker is the first byte of every binary envelope. JSON text never
// starts with it, so a receiver can drop foreign data early.
const binaryMarker byte = 0xB1

const (
	flagParams byte = 1 << iota
	flagResult
	flagError
)

var errShortBuffer = errors.New("BinaryCodec: short buffer")

// BinaryCodec lays an envelope out as length-prefixed fields:
//
//	marker(1) id(2+n) method(1+n) flags(1)
//	[params: path(2+n) input(4+n)]
//	[result: type(1+n) data(4+n)]
//	[error:  code(4) message(2+n) data(4+n)]
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(env *message.Envelope) ([]byte, error) {
	if env == nil || env.TRPC == nil {
		return nil, errors.New("BinaryCodec: envelope has no body")
	}
	b := env.TRPC

	var flags byte
	if b.Params != nil {
		flags |= flagParams
	}
	if b.Result != nil {
		flags |= flagResult
	}
	if b.Error != nil {
		flags |= flagError
	}

	w := writer{buf: make([]byte, 0, 64)}
	w.buf = append(w.buf, binaryMarker)
	w.string16("id", string(b.ID))
	w.string8("method", string(b.Method))
	w.buf = append(w.buf, flags)

	if b.Params != nil {
		w.string16("path", b.Params.Path)
		w.bytes32("input", b.Params.Input)
	}
	if b.Result != nil {
		w.string8("result type", string(b.Result.Type))
		w.bytes32("result data", b.Result.Data)
	}
	if b.Error != nil {
		w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(int32(b.Error.Code)))
		w.string16("error message", b.Error.Message)
		w.bytes32("error data", b.Error.Data)
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

func (c *BinaryCodec) Decode(data []byte, env *message.Envelope) error {
	if len(data) == 0 || data[0] != binaryMarker {
		return errors.New("BinaryCodec: not a binary envelope")
	}
	r := reader{buf: data[1:]}

	b := &message.Body{}
	b.ID = message.ID(r.string16())
	b.Method = message.Method(r.string8())
	flags := r.byte()

	if flags&flagParams != 0 {
		b.Params = &message.Params{Path: r.string16(), Input: r.bytes32()}
	}
	if flags&flagResult != 0 {
		b.Result = &message.Result{Type: message.ResultType(r.string8()), Data: r.bytes32()}
	}
	if flags&flagError != 0 {
		code := int32(r.uint32())
		b.Error = &message.ErrorShape{Code: int(code), Message: r.string16(), Data: r.bytes32()}
	}

	if r.err != nil {
		return r.err
	}
	env.TRPC = b
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// writer appends length-prefixed fields and remembers the first field that
// does not fit its prefix.
type writer struct {
	buf []byte
	err error
}

func (w *writer) fits(field string, n, limit int) bool {
	if w.err != nil {
		return false
	}
	if n > limit {
		w.err = fmt.Errorf("BinaryCodec: %s is %d bytes, limit %d", field, n, limit)
		return false
	}
	return true
}

func (w *writer) string8(field, s string) {
	if w.fits(field, len(s), math.MaxUint8) {
		w.buf = append(w.buf, byte(len(s)))
		w.buf = append(w.buf, s...)
	}
}

func (w *writer) string16(field, s string) {
	if w.fits(field, len(s), math.MaxUint16) {
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
		w.buf = append(w.buf, s...)
	}
}

func (w *writer) bytes32(field string, p []byte) {
	if w.fits(field, len(p), math.MaxUint32) {
		w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(p)))
		w.buf = append(w.buf, p...)
	}
}

// reader consumes fields and remembers the first error, so Decode can check once.
type reader struct {
	buf []byte
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.buf) {
		r.err = errShortBuffer
		return nil
	}
	p := r.buf[:n]
	r.buf = r.buf[n:]
	return p
}

func (r *reader) byte() byte {
	p := r.next(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *reader) uint32() uint32 {
	p := r.next(4)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint32(p)
}

func (r *reader) string8() string {
	return string(r.next(int(r.byte())))
}

func (r *reader) string16() string {
	p := r.next(2)
	if p == nil {
		return ""
	}
	return string(r.next(int(binary.BigEndian.Uint16(p))))
}

func (r *reader) bytes32() []byte {
	n := r.uint32()
	p := r.next(int(n))
	if len(p) == 0 {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
