// Package encoder holds the named serializers the framing codec delegates to.
// Encoders are registered once and looked up by name per message; the two
// builtins are "simple" (gob) and "advanced" (msgpack).
package encoder

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Builtin encoder names.
const (
	Simple   = "simple"
	Advanced = "advanced"
)

var (
	// ErrUnknownEncoder is returned when looking up a name nobody registered.
	ErrUnknownEncoder = errors.New("unknown encoder")
	// ErrDuplicateEncoder is returned when registering a name twice.
	ErrDuplicateEncoder = errors.New("encoder already registered")
	// ErrInvalidEncoder is returned for a nil encoder or an empty name.
	ErrInvalidEncoder = errors.New("invalid encoder")
)

// Encoder converts values of explicit Go types to bytes and back.
type Encoder interface {
	// Name returns the registry key of the encoder. It is written into every
	// frame header so the receiver can pick the same encoder.
	Name() string

	// Marshal serializes v.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into v, which must be a non-nil pointer.
	Unmarshal(data []byte, v any) error
}

// Registry maps encoder names to encoders. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	encoders map[string]Encoder
}

// Default is the process-wide registry used when a component is not given
// one explicitly.
var Default = NewRegistry()

// NewRegistry returns a registry holding the builtin encoders.
func NewRegistry() *Registry {
	r := &Registry{encoders: make(map[string]Encoder)}
	r.encoders[Simple] = GobEncoder{}
	r.encoders[Advanced] = MsgpackEncoder{}
	return r
}

// Register adds e under e.Name(). Names are validated here rather than at
// call time.
//
// Parameters:
//   - e: The encoder to add
//
// Returns:
//   - ErrInvalidEncoder if e is nil or has an empty name
//   - ErrDuplicateEncoder if the name is taken
func (r *Registry) Register(e Encoder) error {
	if e == nil || e.Name() == "" {
		return ErrInvalidEncoder
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.encoders[e.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateEncoder, e.Name())
	}

	r.encoders[e.Name()] = e
	return nil
}

// Lookup returns the encoder registered under name.
//
// Returns:
//   - The encoder, or an error wrapping ErrUnknownEncoder
func (r *Registry) Lookup(name string) (Encoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.encoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoder, name)
	}

	return e, nil
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.encoders))
	for name := range r.encoders {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}
