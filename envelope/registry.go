package envelope

import (
	"fmt"
	"sort"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// DecodeFunc turns the value bytes of an envelope back into a typed value.
type DecodeFunc func(value []byte) (any, error)

// Registry maps schema names to decoders. It is filled once at startup and
// read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

func NewRegistry() *Registry {
	return &Registry{decoders: map[string]DecodeFunc{}}
}

func (r *Registry) Register(typeName string, fn DecodeFunc) error {
	if typeName == "" {
		return ErrTypeNameRequired
	}
	if fn == nil {
		return fmt.Errorf("envelope: nil decoder for %s", typeName)
	}
	name := TypeName(typeName)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decoders[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.decoders[name] = fn
	return nil
}

func (r *Registry) MustRegister(typeName string, fn DecodeFunc) {
	if err := r.Register(typeName, fn); err != nil {
		panic(err)
	}
}

// Lookup accepts either a type URL or a bare schema name.
func (r *Registry) Lookup(typeURL string) (DecodeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.decoders[TypeName(typeURL)]
	return fn, ok
}

func (r *Registry) Decode(env *anypb.Any) (any, error) {
	if env == nil {
		return nil, ErrNilValue
	}
	return r.DecodeRaw(env.GetTypeUrl(), env.GetValue())
}

func (r *Registry) DecodeRaw(typeURL string, value []byte) (any, error) {
	fn, ok := r.Lookup(typeURL)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeURL)
	}
	out, err := fn(value)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode %s: %w", TypeName(typeURL), err)
	}
	return out, nil
}

// Names lists registered schema names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decodable is satisfied by pointer types with a canonical decoder.
type Decodable[T any] interface {
	*T
	Named
	Unmarshal([]byte) error
}

// RegisterType registers T under the schema name reported by its zero value.
func RegisterType[T any, PT Decodable[T]](r *Registry) error {
	name := PT(new(T)).TypeName()
	return r.Register(name, func(value []byte) (any, error) {
		out := PT(new(T))
		if err := out.Unmarshal(value); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// RegisterProto registers a generated protobuf message type.
func RegisterProto(r *Registry, prototype proto.Message) error {
	if prototype == nil {
		return ErrNilValue
	}
	mt := prototype.ProtoReflect().Type()
	return r.Register(string(mt.Descriptor().FullName()), func(value []byte) (any, error) {
		out := mt.New().Interface()
		if err := proto.Unmarshal(value, out); err != nil {
			return nil, err
		}
		return out, nil
	})
}
