package ipsec

import "encoding/binary"

// Buffer is a caller-owned byte slice viewed with explicit head-room,
// body, and tail-room regions. All transforms happen in place inside the
// caller's slice: encapsulate routines need HeadRoom bytes before
// BodyStart free to grow into, decapsulate routines only ever shrink the
// body view.
type Buffer struct {
	data      []byte
	headRoom  int // head room given to NewBuffer; HeadRoom() reports the current value
	bodyStart int
	bodyLen   int
	tailRoom  int // tail room given to NewBuffer; TailRoom() reports the current value
}

// NewBuffer wraps data with the body at data[headRoom:headRoom+bodyLen].
// It returns ErrDataSize if len(data) < headRoom+bodyLen+tailRoom. The
// current head and tail room are always derived from the body's position
// within data.
func NewBuffer(data []byte, headRoom, bodyLen, tailRoom int) (*Buffer, error) {
	if headRoom < 0 || bodyLen < 0 || tailRoom < 0 {
		return nil, ErrBadPacket
	}
	if headRoom+bodyLen+tailRoom > len(data) {
		return nil, ErrDataSize
	}
	return &Buffer{data: data, headRoom: headRoom, bodyStart: headRoom, bodyLen: bodyLen, tailRoom: tailRoom}, nil
}

// Body returns the current body view.
func (b *Buffer) Body() []byte { return b.data[b.bodyStart : b.bodyStart+b.bodyLen] }

// HeadRoom returns the number of free bytes before the body.
func (b *Buffer) HeadRoom() int { return b.bodyStart }

// TailRoom returns the number of free bytes after the body.
func (b *Buffer) TailRoom() int { return len(b.data) - b.bodyStart - b.bodyLen }

// GrowPrefix moves BodyStart back by n bytes, extending the body to cover
// the newly exposed prefix. Fails if fewer than n head-room bytes remain.
func (b *Buffer) GrowPrefix(n int) error {
	if n > b.HeadRoom() {
		return ErrDataSize
	}
	b.bodyStart -= n
	b.bodyLen += n
	return nil
}

// GrowSuffix extends the body by n bytes into the tail room.
func (b *Buffer) GrowSuffix(n int) error {
	if n > b.TailRoom() {
		return ErrDataSize
	}
	b.bodyLen += n
	return nil
}

// ShrinkPrefix moves BodyStart forward by n bytes (used by decapsulate
// routines to drop an outer header once its fields have been read).
func (b *Buffer) ShrinkPrefix(n int) error {
	if n > b.bodyLen {
		return ErrDataSize
	}
	b.bodyStart += n
	b.bodyLen -= n
	return nil
}

// ShrinkSuffix drops n bytes from the tail of the body (used to remove a
// trailing ICV once it has been verified and copied out).
func (b *Buffer) ShrinkSuffix(n int) error {
	if n > b.bodyLen {
		return ErrDataSize
	}
	b.bodyLen -= n
	return nil
}

// ErrDataSize reports insufficient head/tail room or a truncated packet.
var ErrDataSize = newStatusErr(StatusDataSizeError, "insufficient buffer room")

// --- byte-order helpers -----------------------------------------------

func be16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func be32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

func putBE16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func putBE32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// internetChecksum computes the standard Internet checksum (RFC 1071)
// over data.
func internetChecksum(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(be16(data[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
