// Package protocol implements BGAPI wire framing: the 4-byte header, the
// residual-buffer framer that turns a fragmented serial stream into frames,
// and the codec that maps frames to catalog messages.
//
// Header layout:
//
//	byte 0: bit 7 message type (0 command/response, 1 event)
//	        bits 6..3 technology type (0 Bluetooth Smart)
//	        bits 2..0 payload length bits 10..8
//	byte 1: payload length bits 7..0
//	byte 2: message class
//	byte 3: message id
package protocol

import (
	"errors"
	"fmt"
)

const (
	HeaderLen = 4
	// MaxPayloadLen is the largest length an 11-bit header can carry.
	MaxPayloadLen = 0x7ff
	// DefaultMaxPayload bounds buffering when the caller sets no limit.
	DefaultMaxPayload = 255

	eventFlag = 0x80
	techMask  = 0x78
	techShift = 3
	lenHiMask = 0x07
)

// TechBLE is the technology type of Bluetooth Smart frames.
const TechBLE uint8 = 0

var (
	// ErrIncomplete means the buffered bytes do not yet hold a whole frame.
	ErrIncomplete    = errors.New("protocol: incomplete frame")
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	ErrInvalidHeader = errors.New("protocol: invalid header")
)

// Header is the decoded 4-byte BGAPI header.
type Header struct {
	Event      bool
	Technology uint8
	Length     uint16
	Class      uint8
	ID         uint8
}

func (h Header) String() string {
	kind := "cmd/rsp"
	if h.Event {
		kind = "evt"
	}
	return fmt.Sprintf("%s class=%d id=%d len=%d", kind, h.Class, h.ID, h.Length)
}

// EncodeHeader packs h into its wire form.
func EncodeHeader(h Header) ([HeaderLen]byte, error) {
	var b [HeaderLen]byte
	if h.Length > MaxPayloadLen {
		return b, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, h.Length, MaxPayloadLen)
	}
	if h.Technology > techMask>>techShift {
		return b, fmt.Errorf("%w: technology %d", ErrInvalidHeader, h.Technology)
	}
	if h.Event {
		b[0] |= eventFlag
	}
	b[0] |= h.Technology << techShift
	b[0] |= byte(h.Length>>8) & lenHiMask
	b[1] = byte(h.Length)
	b[2] = h.Class
	b[3] = h.ID
	return b, nil
}

// DecodeHeader unpacks the first four bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrIncomplete
	}
	return Header{
		Event:      b[0]&eventFlag != 0,
		Technology: (b[0] & techMask) >> techShift,
		Length:     uint16(b[0]&lenHiMask)<<8 | uint16(b[1]),
		Class:      b[2],
		ID:         b[3],
	}, nil
}

// Frame is one complete message as transmitted.
type Frame struct {
	Header  Header
	Payload []byte
}

// NewFrame builds a BLE frame, filling in the header length.
func NewFrame(event bool, class, id uint8, payload []byte) (Frame, error) {
	if len(payload) > MaxPayloadLen {
		return Frame{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, len(payload), MaxPayloadLen)
	}
	return Frame{
		Header: Header{
			Event:      event,
			Technology: TechBLE,
			Length:     uint16(len(payload)),
			Class:      class,
			ID:         id,
		},
		Payload: payload,
	}, nil
}

// Bytes serializes the frame. The header length is taken from the payload.
func (f Frame) Bytes() ([]byte, error) {
	h := f.Header
	if len(f.Payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, len(f.Payload), MaxPayloadLen)
	}
	h.Length = uint16(len(f.Payload))
	hb, err := EncodeHeader(h)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, HeaderLen+len(f.Payload))
	out = append(out, hb[:]...)
	return append(out, f.Payload...), nil
}
