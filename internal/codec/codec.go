// Package codec provides named byte/text transcoders for legacy terminals
// and a registry resolving them by name.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownCodec is returned when a codec name is not registered.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec converts between terminal bytes and text.
type Codec interface {
	// Name is the registry key of the codec.
	Name() string
	// Encode converts text into terminal bytes. Runes outside the character
	// set are replaced.
	Encode(text string) []byte
	// Decode converts terminal bytes into text.
	Decode(data []byte) string
}

// Registry maps codec names to codecs.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry creates a Registry populated with the given codecs.
// Names are matched case-insensitively.
//
// Precondition: No two codecs may share a name.
// Postcondition: Returns a Registry or an error on name collisions.
func NewRegistry(codecs ...Codec) (*Registry, error) {
	r := &Registry{codecs: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		key := strings.ToLower(c.Name())
		if _, exists := r.codecs[key]; exists {
			return nil, fmt.Errorf("duplicate codec name: %q", c.Name())
		}
		r.codecs[key] = c
	}
	return r, nil
}

// DefaultRegistry creates a Registry with all built-in codecs.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Raw(), PETSCII(), Latin1(), CP437())
	if err != nil {
		panic(fmt.Sprintf("building default codec registry: %v", err))
	}
	return r
}

// Lookup resolves a codec by name.
//
// Postcondition: Returns the codec, or an error wrapping ErrUnknownCodec.
func (r *Registry) Lookup(name string) (Codec, error) {
	c, ok := r.codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownCodec, name, strings.Join(r.Names(), ", "))
	}
	return c, nil
}

// Names returns the registered codec names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.codecs))
	for _, c := range r.codecs {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}

type rawCodec struct{}

// Raw returns the passthrough codec: bytes are taken as-is in both directions.
func Raw() Codec { return rawCodec{} }

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Encode(text string) []byte { return []byte(text) }

func (rawCodec) Decode(data []byte) string { return string(data) }
