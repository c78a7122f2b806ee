package ipsec

// IPv4 header field offsets. The header is the fixed 20 bytes: this
// engine never emits or expects IP options on outer or inner headers.
const (
	ipOffVHL      = 0
	ipOffTOS      = 1
	ipOffTotalLen = 2
	ipOffID       = 4
	ipOffFragOff  = 6
	ipOffTTL      = 8
	ipOffProtocol = 9
	ipOffChecksum = 10
	ipOffSrc      = 12
	ipOffDst      = 16
)

// ipHeaderView is a thin accessor over the first 20 bytes of an IPv4
// packet. It never copies; callers read/write through it in place.
type ipHeaderView []byte

func ipHeader(b []byte) ipHeaderView { return ipHeaderView(b[:ipHeaderLen]) }

func (h ipHeaderView) IHL() int          { return int(h[ipOffVHL]&0x0F) * 4 }
func (h ipHeaderView) TOS() byte         { return h[ipOffTOS] }
func (h ipHeaderView) TotalLen() int     { return int(be16(h[ipOffTotalLen:])) }
func (h ipHeaderView) TTL() byte         { return h[ipOffTTL] }
func (h ipHeaderView) Protocol() byte    { return h[ipOffProtocol] }
func (h ipHeaderView) Checksum() uint16  { return be16(h[ipOffChecksum:]) }
func (h ipHeaderView) Src() uint32       { return be32(h[ipOffSrc:]) }
func (h ipHeaderView) Dst() uint32       { return be32(h[ipOffDst:]) }

func (h ipHeaderView) SetTOS(v byte)        { h[ipOffTOS] = v }
func (h ipHeaderView) SetTotalLen(v int)    { putBE16(h[ipOffTotalLen:], uint16(v)) }
func (h ipHeaderView) SetID(v uint16)       { putBE16(h[ipOffID:], v) }
func (h ipHeaderView) SetFragOff(v uint16)  { putBE16(h[ipOffFragOff:], v) }
func (h ipHeaderView) SetTTL(v byte)        { h[ipOffTTL] = v }
func (h ipHeaderView) SetProtocol(v byte)   { h[ipOffProtocol] = v }
func (h ipHeaderView) SetChecksum(v uint16) { putBE16(h[ipOffChecksum:], v) }
func (h ipHeaderView) SetSrc(v uint32)      { putBE32(h[ipOffSrc:], v) }
func (h ipHeaderView) SetDst(v uint32)      { putBE32(h[ipOffDst:], v) }

// zeroMutableFields zeroes the fields RFC 2402 section 3.3.3.1.1.1 calls
// mutable in transit: ToS, flags/fragment-offset, TTL, header checksum.
func (h ipHeaderView) zeroMutableFields() {
	h.SetTOS(0)
	h.SetFragOff(0)
	h.SetTTL(0)
	h.SetChecksum(0)
}

// ipAddrMaskMatch reports whether addr falls within net/mask:
// (addr & mask) == (net & mask).
func ipAddrMaskMatch(addr, network, mask uint32) bool {
	return addr&mask == network&mask
}
