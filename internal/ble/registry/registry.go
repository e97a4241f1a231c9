// Package registry holds the BGAPI message catalog: which (class, id) pairs
// exist in each direction and how their payload fields are laid out.
//
// The catalog is data, not code. The built-in table ships as an embedded
// YAML document and additional entries can be loaded from a file, so a new
// message type only needs a table entry.
package registry

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownMessage    = errors.New("registry: unknown message")
	ErrFieldMismatch     = errors.New("registry: field mismatch")
	ErrTruncatedPayload  = errors.New("registry: truncated payload")
	ErrInvalidDescriptor = errors.New("registry: invalid descriptor")
)

// Kind is the direction of a message.
type Kind uint8

const (
	KindCommand Kind = iota
	KindResponse
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FieldSpec declares one payload field.
type FieldSpec struct {
	Name string
	Type FieldType
	// Length names the field carrying the byte count of a Uint8Array.
	Length string
}

// Descriptor is the immutable schema of one message.
type Descriptor struct {
	Name   string
	Kind   Kind
	Class  uint8
	ID     uint8
	Fields []FieldSpec
	// NoResponse marks commands the device never answers (system_reset).
	NoResponse bool

	// arrayFor maps a length field name to the array it sizes.
	arrayFor map[string]string
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s %s (class=%d id=%d)", d.Kind, d.Name, d.Class, d.ID)
}

// Field returns the named field.
func (d *Descriptor) Field(name string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// MinSize is the payload size with every array empty.
func (d *Descriptor) MinSize() int {
	n := 0
	for _, f := range d.Fields {
		n += f.Type.Size()
	}
	return n
}

// validate checks the field list and builds the length index.
func (d *Descriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: missing name (class=%d id=%d)", ErrInvalidDescriptor, d.Class, d.ID)
	}
	if d.Kind > KindEvent {
		return fmt.Errorf("%w: %s: bad kind %d", ErrInvalidDescriptor, d.Name, d.Kind)
	}
	if d.NoResponse && d.Kind != KindCommand {
		return fmt.Errorf("%w: %s: no_response is only valid on commands", ErrInvalidDescriptor, d.Name)
	}
	seen := make(map[string]FieldType, len(d.Fields))
	d.arrayFor = make(map[string]string)
	for i, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: %s: field %d has no name", ErrInvalidDescriptor, d.Name, i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate field %q", ErrInvalidDescriptor, d.Name, f.Name)
		}
		if !f.Type.valid() {
			return fmt.Errorf("%w: %s.%s: unknown type", ErrInvalidDescriptor, d.Name, f.Name)
		}
		if f.Type == Uint8Array {
			lt, ok := seen[f.Length]
			if !ok {
				return fmt.Errorf("%w: %s.%s: length field %q must be declared before the array",
					ErrInvalidDescriptor, d.Name, f.Name, f.Length)
			}
			if lt != Uint8 && lt != Uint16 {
				return fmt.Errorf("%w: %s.%s: length field %q must be uint8 or uint16",
					ErrInvalidDescriptor, d.Name, f.Name, f.Length)
			}
			if other, taken := d.arrayFor[f.Length]; taken {
				return fmt.Errorf("%w: %s: length field %q already sizes %q",
					ErrInvalidDescriptor, d.Name, f.Length, other)
			}
			d.arrayFor[f.Length] = f.Name
		} else if f.Length != "" {
			return fmt.Errorf("%w: %s.%s: only uint8array takes a length field", ErrInvalidDescriptor, d.Name, f.Name)
		}
		seen[f.Name] = f.Type
	}
	return nil
}

type key struct {
	kind      Kind
	class, id uint8
}

type nameKey struct {
	name string
	kind Kind
}

// Registry resolves descriptors by (kind, class, id) or by name. It is not
// modified after construction and is safe for concurrent readers.
type Registry struct {
	byKey  map[key]*Descriptor
	byName map[nameKey]*Descriptor
}

// New builds a registry from descriptors. Later entries override earlier
// ones with the same (kind, class, id).
func New(descs ...Descriptor) (*Registry, error) {
	r := &Registry{
		byKey:  make(map[key]*Descriptor, len(descs)),
		byName: make(map[nameKey]*Descriptor, len(descs)),
	}
	for i := range descs {
		if err := r.add(descs[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(d Descriptor) error {
	d.Fields = append([]FieldSpec(nil), d.Fields...)
	if err := d.validate(); err != nil {
		return err
	}
	k := key{kind: d.Kind, class: d.Class, id: d.ID}
	if old, ok := r.byKey[k]; ok {
		delete(r.byName, nameKey{name: old.Name, kind: old.Kind})
	}
	if old, ok := r.byName[nameKey{name: d.Name, kind: d.Kind}]; ok {
		delete(r.byKey, key{kind: old.Kind, class: old.Class, id: old.ID})
	}
	r.byKey[k] = &d
	r.byName[nameKey{name: d.Name, kind: d.Kind}] = &d
	return nil
}

// Merge returns a new registry holding r's entries overridden by other's.
func (r *Registry) Merge(other *Registry) (*Registry, error) {
	descs := append(r.Descriptors(), other.Descriptors()...)
	return New(descs...)
}

// Resolve finds the descriptor for a wire identity.
func (r *Registry) Resolve(kind Kind, class, id uint8) (*Descriptor, error) {
	d, ok := r.byKey[key{kind: kind, class: class, id: id}]
	if !ok {
		return nil, fmt.Errorf("%w: %s class=%d id=%d", ErrUnknownMessage, kind, class, id)
	}
	return d, nil
}

// Lookup finds a descriptor by catalog name.
func (r *Registry) Lookup(name string, kind Kind) (*Descriptor, error) {
	d, ok := r.byName[nameKey{name: name, kind: kind}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownMessage, kind, name)
	}
	return d, nil
}

// Descriptors returns copies of all entries ordered by kind, class and id.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.byKey))
	for _, d := range r.byKey {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		return a.ID < b.ID
	})
	return out
}

// Len reports the number of descriptors.
func (r *Registry) Len() int {
	return len(r.byKey)
}
