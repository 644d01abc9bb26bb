// Package envelope wraps typed values into self-describing google.protobuf.Any
// envelopes and recovers them through a registry of decoders keyed by type URL.
package envelope

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

const TypeURLPrefix = "type.googleapis.com/"

var (
	ErrTypeNameRequired  = errors.New("envelope: type name required")
	ErrNilValue          = errors.New("envelope: value is nil")
	ErrEmptyValue        = errors.New("envelope: value encodes to zero bytes")
	ErrUnknownType       = errors.New("envelope: unknown type")
	ErrAlreadyRegistered = errors.New("envelope: type already registered")
)

// Value is anything with a canonical binary encoding.
type Value interface {
	Marshal() ([]byte, error)
}

// Named is a Value that knows its fully qualified, versioned schema name,
// e.g. "sf.substreams.v1.Clock".
type Named interface {
	Value
	TypeName() string
}

// TypeURL returns the type URL for a schema name. Names that already contain a
// host part are returned unchanged.
func TypeURL(typeName string) string {
	if strings.Contains(typeName, "/") {
		return typeName
	}
	return TypeURLPrefix + typeName
}

// TypeName strips everything up to the last '/' of a type URL.
func TypeName(typeURL string) string {
	if i := strings.LastIndexByte(typeURL, '/'); i >= 0 {
		return typeURL[i+1:]
	}
	return typeURL
}

// Encode serialises value and stamps it with typeName. Encoding failures are
// returned, never swallowed; an envelope is only produced with both a type URL
// and a non-empty value.
func Encode(typeName string, value Value) (*anypb.Any, error) {
	if typeName == "" {
		return nil, ErrTypeNameRequired
	}
	if value == nil {
		return nil, ErrNilValue
	}
	raw, err := value.Marshal()
	if err != nil {
		return nil, fmt.Errorf("envelope: encode %s: %w", typeName, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("envelope: encode %s: %w", typeName, ErrEmptyValue)
	}
	return &anypb.Any{TypeUrl: TypeURL(typeName), Value: raw}, nil
}

// EncodeValue encodes a value under its own schema name.
func EncodeValue(value Named) (*anypb.Any, error) {
	if value == nil {
		return nil, ErrNilValue
	}
	return Encode(value.TypeName(), value)
}

// EncodeProto wraps a generated protobuf message using deterministic encoding.
func EncodeProto(m proto.Message) (*anypb.Any, error) {
	if m == nil {
		return nil, ErrNilValue
	}
	name := string(m.ProtoReflect().Descriptor().FullName())
	raw, err := proto.MarshalOptions{Deterministic: true}.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode %s: %w", name, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("envelope: encode %s: %w", name, ErrEmptyValue)
	}
	return &anypb.Any{TypeUrl: TypeURL(name), Value: raw}, nil
}
