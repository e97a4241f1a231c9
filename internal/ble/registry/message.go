package registry

import "fmt"

// Message is a decoded frame: its descriptor plus the field values.
type Message struct {
	Descriptor *Descriptor
	Fields     Fields
}

// Name is the catalog name of the message.
func (m *Message) Name() string { return m.Descriptor.Name }

// Kind is the message direction.
func (m *Message) Kind() Kind { return m.Descriptor.Kind }

func (m *Message) String() string {
	return fmt.Sprintf("%s %s {%s}", m.Descriptor.Kind, m.Descriptor.Name, FormatFields(m.Descriptor, m.Fields))
}
