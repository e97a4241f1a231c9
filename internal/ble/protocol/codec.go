package protocol

import (
	"fmt"

	"github.com/chaz8081/bgapi-host/internal/ble/registry"
)

// Codec converts between catalog messages and wire bytes.
type Codec struct {
	reg *registry.Registry
}

// NewCodec returns a codec over reg, or the built-in catalog when reg is nil.
func NewCodec(reg *registry.Registry) *Codec {
	if reg == nil {
		reg = registry.Builtin()
	}
	return &Codec{reg: reg}
}

// Registry returns the catalog the codec resolves against.
func (c *Codec) Registry() *registry.Registry { return c.reg }

// Encode serializes the command (class, id) with values into a full frame.
func (c *Codec) Encode(class, id uint8, values registry.Fields) ([]byte, error) {
	d, err := c.reg.Resolve(registry.KindCommand, class, id)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return c.EncodeMessage(d, values)
}

// EncodeByName serializes the named command.
func (c *Codec) EncodeByName(name string, values registry.Fields) ([]byte, error) {
	d, err := c.reg.Lookup(name, registry.KindCommand)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return c.EncodeMessage(d, values)
}

// EncodeMessage serializes values against an already resolved descriptor.
// Events may be encoded too, which is how test fixtures and simulators
// produce device-side traffic.
func (c *Codec) EncodeMessage(d *registry.Descriptor, values registry.Fields) ([]byte, error) {
	payload, err := registry.EncodeFields(d, values)
	if err != nil {
		return nil, err
	}
	f, err := NewFrame(d.Kind == registry.KindEvent, d.Class, d.ID, payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", d.Name, err)
	}
	return f.Bytes()
}

// Decode resolves a received frame. The header's event bit selects between
// the response and event tables.
func (c *Codec) Decode(f Frame) (*registry.Message, error) {
	kind := registry.KindResponse
	if f.Header.Event {
		kind = registry.KindEvent
	}
	d, err := c.reg.Resolve(kind, f.Header.Class, f.Header.ID)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	fields, err := registry.DecodeFields(d, f.Payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", d.Name, err)
	}
	return &registry.Message{Descriptor: d, Fields: fields}, nil
}
