package protocol

import (
	"fmt"
	"iter"
)

// Framer assembles frames from a byte stream that may arrive in arbitrary
// fragments. Bytes that do not yet form a whole frame stay buffered until
// the next write. A Framer is not safe for concurrent use.
type Framer struct {
	maxPayload int
	buf        []byte
}

// NewFramer returns a framer rejecting declared lengths above maxPayload.
// A non-positive limit selects DefaultMaxPayload; anything above
// MaxPayloadLen is clamped.
func NewFramer(maxPayload int) *Framer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	if maxPayload > MaxPayloadLen {
		maxPayload = MaxPayloadLen
	}
	return &Framer{maxPayload: maxPayload}
}

// MaxPayload reports the configured length limit.
func (f *Framer) MaxPayload() int { return f.maxPayload }

// Buffered reports how many residual bytes are waiting.
func (f *Framer) Buffered() int { return len(f.buf) }

// Reset drops any buffered bytes.
func (f *Framer) Reset() { f.buf = f.buf[:0] }

// Write appends stream bytes to the residual buffer.
func (f *Framer) Write(p []byte) {
	f.buf = append(f.buf, p...)
}

// Next extracts one frame from the residual buffer. It returns
// ErrIncomplete when more bytes are needed. A header with a bad technology
// type or an oversized length costs exactly one byte: that byte is dropped
// so the next call rescans from the following offset.
func (f *Framer) Next() (Frame, error) {
	h, err := DecodeHeader(f.buf)
	if err != nil {
		return Frame{}, err
	}
	if h.Technology != TechBLE {
		b0 := f.buf[0]
		f.drop(1)
		return Frame{}, fmt.Errorf("%w: technology %d (byte0=%#02x)", ErrInvalidHeader, h.Technology, b0)
	}
	if int(h.Length) > f.maxPayload {
		f.drop(1)
		return Frame{}, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, h.Length, f.maxPayload)
	}
	total := HeaderLen + int(h.Length)
	if len(f.buf) < total {
		return Frame{}, ErrIncomplete
	}
	payload := make([]byte, h.Length)
	copy(payload, f.buf[HeaderLen:total])
	f.drop(total)
	return Frame{Header: h, Payload: payload}, nil
}

// Feed appends p and yields every frame that is now complete, along with
// any header errors met while resynchronizing. Iteration ends when the
// buffer holds no further complete frame. The bytes are buffered even if
// the sequence is never ranged over, and stopping early leaves the rest
// for the next Feed.
func (f *Framer) Feed(p []byte) iter.Seq2[Frame, error] {
	f.Write(p)
	return func(yield func(Frame, error) bool) {
		for {
			fr, err := f.Next()
			if err == ErrIncomplete {
				return
			}
			if !yield(fr, err) {
				return
			}
		}
	}
}

func (f *Framer) drop(n int) {
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
}
