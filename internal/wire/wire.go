// Package wire is a thin canonical protobuf encoder/decoder over protowire.
// Fields are written in the order the caller emits them (callers emit in tag
// order), proto3 zero values are omitted and unknown fields are skipped.
package wire

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrInvalidUTF8 = errors.New("wire: string field is not valid UTF-8")

type Marshaler interface {
	Marshal() ([]byte, error)
}

type Encoder struct {
	buf []byte
	err error
}

func (e *Encoder) String(num protowire.Number, s string) {
	if e.err != nil || s == "" {
		return
	}
	if !utf8.ValidString(s) {
		e.err = fmt.Errorf("field %d: %w", num, ErrInvalidUTF8)
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, s)
}

func (e *Encoder) Bytes(num protowire.Number, v []byte) {
	if e.err != nil || len(v) == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
}

func (e *Encoder) Uint64(num protowire.Number, v uint64) {
	if e.err != nil || v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *Encoder) Int64(num protowire.Number, v int64) {
	e.Uint64(num, uint64(v))
}

func (e *Encoder) Uint32(num protowire.Number, v uint32) {
	e.Uint64(num, uint64(v))
}

// Message writes a nested message; nil is omitted, an empty message is kept so
// that presence survives the round trip.
func (e *Encoder) Message(num protowire.Number, m Marshaler, present bool) {
	if e.err != nil || !present {
		return
	}
	b, err := m.Marshal()
	if err != nil {
		e.err = fmt.Errorf("field %d: %w", num, err)
		return
	}
	e.Embedded(num, b)
}

// Embedded writes already-encoded message bytes, including empty ones.
func (e *Encoder) Embedded(num protowire.Number, b []byte) {
	if e.err != nil {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
}

// Fail records an error discovered by the caller.
func (e *Encoder) Fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) Result() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	varint uint64
	raw    []byte
}

func (f Field) expect(t protowire.Type) error {
	if f.Type != t {
		return fmt.Errorf("wire: field %d: unexpected wire type %d", f.Num, f.Type)
	}
	return nil
}

func (f Field) Text() (string, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return "", err
	}
	if !utf8.Valid(f.raw) {
		return "", fmt.Errorf("field %d: %w", f.Num, ErrInvalidUTF8)
	}
	return string(f.raw), nil
}

// Bytes returns a copy of a length-delimited value.
func (f Field) Bytes() ([]byte, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}
	return append([]byte(nil), f.raw...), nil
}

func (f Field) Uint64() (uint64, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}
	return f.varint, nil
}

func (f Field) Int64() (int64, error) {
	v, err := f.Uint64()
	return int64(v), err
}

func (f Field) Uint32() (uint32, error) {
	v, err := f.Uint64()
	return uint32(v), err
}

// Decode walks every field of b. Unknown fields are consumed and handed to fn,
// which is expected to ignore numbers it does not know.
func Decode(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		field := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(m))
			}
			field.varint = v
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(m))
			}
			field.raw = v
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(n))
			}
		}
		b = b[n:]
		if err := fn(field); err != nil {
			return err
		}
	}
	return nil
}

// AppendDelimited appends a varint length prefix followed by b.
func AppendDelimited(dst, b []byte) []byte {
	return protowire.AppendBytes(dst, b)
}

// ConsumeDelimited reads one length-prefixed record and returns it with the
// number of bytes consumed.
func ConsumeDelimited(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}
