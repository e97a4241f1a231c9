package registry

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"strings"

	"tinygo.org/x/bluetooth"
)

// FieldType is the wire type of a payload field.
type FieldType uint8

const (
	Uint8 FieldType = iota + 1
	Int8
	Uint16
	Int16
	Uint32
	// Address is a 6-byte little-endian Bluetooth device address.
	Address
	// Uint8Array is a run of bytes sized by a preceding length field.
	Uint8Array
)

var fieldTypeNames = map[FieldType]string{
	Uint8:      "uint8",
	Int8:       "int8",
	Uint16:     "uint16",
	Int16:      "int16",
	Uint32:     "uint32",
	Address:    "bd_addr",
	Uint8Array: "uint8array",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseFieldType maps a catalog type name to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range fieldTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown field type %q", ErrInvalidDescriptor, s)
}

func (t FieldType) valid() bool {
	_, ok := fieldTypeNames[t]
	return ok
}

// Size is the fixed wire width, zero for arrays.
func (t FieldType) Size() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32:
		return 4
	case Address:
		return 6
	default:
		return 0
	}
}

// FieldError reports a field that cannot be encoded.
type FieldError struct {
	Message string
	Field   string
	Reason  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("registry: %s.%s: %s", e.Message, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrFieldMismatch }

// Fields maps field names to values. Decoded values use the canonical Go
// type of each wire type: uint8, int8, uint16, int16, uint32,
// bluetooth.MAC and []byte.
type Fields map[string]any

func (f Fields) Uint8(name string) uint8 {
	v, _ := f[name].(uint8)
	return v
}

func (f Fields) Int8(name string) int8 {
	v, _ := f[name].(int8)
	return v
}

func (f Fields) Uint16(name string) uint16 {
	v, _ := f[name].(uint16)
	return v
}

func (f Fields) Int16(name string) int16 {
	v, _ := f[name].(int16)
	return v
}

func (f Fields) Uint32(name string) uint32 {
	v, _ := f[name].(uint32)
	return v
}

func (f Fields) Address(name string) bluetooth.MAC {
	v, _ := f[name].(bluetooth.MAC)
	return v
}

// Bytes returns a copy of an array field.
func (f Fields) Bytes(name string) []byte {
	v, _ := f[name].([]byte)
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}

// EncodeFields serializes values in the descriptor's field order. Length
// fields may be omitted and are then computed from their array; when given
// they must agree with it.
func EncodeFields(d *Descriptor, values Fields) ([]byte, error) {
	arrays := make(map[string][]byte)
	for _, fs := range d.Fields {
		if fs.Type != Uint8Array {
			continue
		}
		raw, ok := values[fs.Name]
		if !ok {
			return nil, &FieldError{Message: d.Name, Field: fs.Name, Reason: "missing required field"}
		}
		b, ok := toBytes(raw)
		if !ok {
			return nil, &FieldError{Message: d.Name, Field: fs.Name, Reason: fmt.Sprintf("cannot use %T as %s", raw, fs.Type)}
		}
		arrays[fs.Name] = b
	}

	buf := make([]byte, 0, d.MinSize()+32)
	for _, fs := range d.Fields {
		if fs.Type == Uint8Array {
			buf = append(buf, arrays[fs.Name]...)
			continue
		}
		raw, ok := values[fs.Name]
		if arr, sizes := d.arrayFor[fs.Name]; sizes {
			n := uint64(len(arrays[arr]))
			if ok {
				declared, conv := toUint(raw, fs.Type.Size()*8)
				if !conv {
					return nil, &FieldError{Message: d.Name, Field: fs.Name, Reason: fmt.Sprintf("cannot use %v (%T) as %s", raw, raw, fs.Type)}
				}
				if declared != n {
					return nil, &FieldError{Message: d.Name, Field: fs.Name,
						Reason: fmt.Sprintf("length %d disagrees with %s (%d bytes)", declared, arr, n)}
				}
			}
			if n > maxUint(fs.Type.Size()*8) {
				return nil, &FieldError{Message: d.Name, Field: arr, Reason: fmt.Sprintf("%d bytes do not fit a %s length", n, fs.Type)}
			}
			raw, ok = n, true
		}
		if !ok {
			return nil, &FieldError{Message: d.Name, Field: fs.Name, Reason: "missing required field"}
		}
		var err error
		buf, err = appendScalar(buf, d, fs, raw)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendScalar(buf []byte, d *Descriptor, fs FieldSpec, raw any) ([]byte, error) {
	bad := func() error {
		return &FieldError{Message: d.Name, Field: fs.Name, Reason: fmt.Sprintf("cannot use %v (%T) as %s", raw, raw, fs.Type)}
	}
	switch fs.Type {
	case Uint8, Uint16, Uint32:
		v, ok := toUint(raw, fs.Type.Size()*8)
		if !ok {
			return nil, bad()
		}
		switch fs.Type {
		case Uint8:
			return append(buf, byte(v)), nil
		case Uint16:
			return binary.LittleEndian.AppendUint16(buf, uint16(v)), nil
		default:
			return binary.LittleEndian.AppendUint32(buf, uint32(v)), nil
		}
	case Int8, Int16:
		v, ok := toInt(raw, fs.Type.Size()*8)
		if !ok {
			return nil, bad()
		}
		if fs.Type == Int8 {
			return append(buf, byte(int8(v))), nil
		}
		return binary.LittleEndian.AppendUint16(buf, uint16(int16(v))), nil
	case Address:
		mac, ok := toMAC(raw)
		if !ok {
			return nil, bad()
		}
		return append(buf, mac[:]...), nil
	}
	return nil, bad()
}

// DecodeFields parses a payload against the descriptor. Bytes beyond the
// schema are ignored.
func DecodeFields(d *Descriptor, payload []byte) (Fields, error) {
	out := make(Fields, len(d.Fields))
	off := 0
	for _, fs := range d.Fields {
		if fs.Type == Uint8Array {
			var n int
			switch v := out[fs.Length].(type) {
			case uint8:
				n = int(v)
			case uint16:
				n = int(v)
			}
			if len(payload)-off < n {
				return nil, fmt.Errorf("%w: %s.%s wants %d bytes, %d left",
					ErrTruncatedPayload, d.Name, fs.Name, n, len(payload)-off)
			}
			b := make([]byte, n)
			copy(b, payload[off:off+n])
			out[fs.Name] = b
			off += n
			continue
		}
		size := fs.Type.Size()
		if len(payload)-off < size {
			return nil, fmt.Errorf("%w: %s.%s wants %d bytes, %d left",
				ErrTruncatedPayload, d.Name, fs.Name, size, len(payload)-off)
		}
		p := payload[off : off+size]
		switch fs.Type {
		case Uint8:
			out[fs.Name] = p[0]
		case Int8:
			out[fs.Name] = int8(p[0])
		case Uint16:
			out[fs.Name] = binary.LittleEndian.Uint16(p)
		case Int16:
			out[fs.Name] = int16(binary.LittleEndian.Uint16(p))
		case Uint32:
			out[fs.Name] = binary.LittleEndian.Uint32(p)
		case Address:
			var mac bluetooth.MAC
			copy(mac[:], p)
			out[fs.Name] = mac
		}
		off += size
	}
	return out, nil
}

// FormatFields renders values in schema order for logs.
func FormatFields(d *Descriptor, values Fields) string {
	var sb strings.Builder
	for i, fs := range d.Fields {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(fs.Name)
		sb.WriteByte('=')
		switch v := values[fs.Name].(type) {
		case []byte:
			sb.WriteString(hex.EncodeToString(v))
		case nil:
			sb.WriteString("<nil>")
		default:
			fmt.Fprint(&sb, v)
		}
	}
	return sb.String()
}

func maxUint(bits int) uint64 {
	if bits >= 64 {
		return math.MaxUint64
	}
	return 1<<uint(bits) - 1
}

func toUint(raw any, bits int) (uint64, bool) {
	var v uint64
	switch x := raw.(type) {
	case uint8:
		v = uint64(x)
	case uint16:
		v = uint64(x)
	case uint32:
		v = uint64(x)
	case uint64:
		v = x
	case uint:
		v = uint64(x)
	case bool:
		if x {
			v = 1
		}
	case int, int8, int16, int32, int64:
		i, _ := toInt64(x)
		if i < 0 {
			return 0, false
		}
		v = uint64(i)
	default:
		return 0, false
	}
	return v, v <= maxUint(bits)
}

func toInt(raw any, bits int) (int64, bool) {
	i, ok := toInt64(raw)
	if !ok {
		switch x := raw.(type) {
		case uint8:
			i, ok = int64(x), true
		case uint16:
			i, ok = int64(x), true
		case uint32:
			i, ok = int64(x), true
		}
		if !ok {
			return 0, false
		}
	}
	lim := int64(1) << uint(bits-1)
	return i, i >= -lim && i < lim
}

func toInt64(raw any) (int64, bool) {
	switch x := raw.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

func toBytes(raw any) ([]byte, bool) {
	switch x := raw.(type) {
	case []byte:
		return x, true
	case string:
		return []byte(x), true
	}
	return nil, false
}

func toMAC(raw any) (bluetooth.MAC, bool) {
	switch x := raw.(type) {
	case bluetooth.MAC:
		return x, true
	case [6]byte:
		return bluetooth.MAC(x), true
	case []byte:
		if len(x) != 6 {
			return bluetooth.MAC{}, false
		}
		var mac bluetooth.MAC
		copy(mac[:], x)
		return mac, true
	case string:
		// Printed form is most-significant byte first.
		hw, err := net.ParseMAC(x)
		if err != nil || len(hw) != 6 {
			return bluetooth.MAC{}, false
		}
		var mac bluetooth.MAC
		for i := range mac {
			mac[i] = hw[5-i]
		}
		return mac, true
	}
	return bluetooth.MAC{}, false
}
