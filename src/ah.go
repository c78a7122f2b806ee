package ipsec

// AH header field offsets, relative to the start of the AH header itself:
// next_header(1) payload_len(1) reserved(2) spi(4) sequence(4) icv(12) =
// 24 bytes total for a 96-bit ICV.
const (
	ahOffNextHeader = 0
	ahOffPayloadLen = 1
	ahOffReserved   = 2
	ahOffSPI        = 4
	ahOffSeq        = 8
	ahOffICV        = 12
	ahFullLen       = ahHeaderLen + ICVTruncatedLen // 24
)

const ahNextHeaderIPinIP = 0x04

// AHEncapsulate builds the outer IP + AH header in buf's head room and
// computes the ICV over the resulting packet. buf's body must currently
// be exactly the inner IPv4 packet, and buf must have at least
// ahEncapOverhead (44) bytes of head room. The ICV is computed with the
// mutable outer fields (RFC 2402 3.3.3.1.1.1) zeroed; ToS and TTL are
// filled in afterwards.
//
// On success buf's body is grown to cover the new outer packet.
func AHEncapsulate(buf *Buffer, sa *SAEntry, src, dst uint32) error {
	inner := buf.Body()
	if len(inner) < ipHeaderLen {
		return ErrBadPacket
	}
	innerHdr := ipHeader(inner)
	if innerHdr.TTL() == 0 {
		return ErrTTLExpired
	}
	if sa.SequenceNumber == 0xFFFFFFFF {
		return ErrSeqOverflow
	}
	if buf.HeadRoom() < ahEncapOverhead {
		return ErrDataSize
	}

	innerTOS := innerHdr.TOS()
	innerLen := len(inner)

	if err := buf.GrowPrefix(ahEncapOverhead); err != nil {
		return err
	}
	full := buf.Body()
	outerHdr := ipHeader(full)
	ahHdr := full[ipHeaderLen : ipHeaderLen+ahFullLen]

	newSeq := sa.SequenceNumber + 1

	ahHdr[ahOffNextHeader] = ahNextHeaderIPinIP
	ahHdr[ahOffPayloadLen] = 0x04
	putBE16(ahHdr[ahOffReserved:], 0)
	putBE32(ahHdr[ahOffSPI:], sa.SPI)
	putBE32(ahHdr[ahOffSeq:], newSeq)
	for i := 0; i < ICVTruncatedLen; i++ {
		ahHdr[ahOffICV+i] = 0
	}

	outerHdr[ipOffVHL] = 0x45
	outerHdr.SetTOS(0)
	outerHdr.SetTotalLen(innerLen + ahEncapOverhead)
	outerHdr.SetID(nextOuterID())
	outerHdr.SetFragOff(0)
	outerHdr.SetTTL(0)
	outerHdr.SetProtocol(byte(ProtoAH))
	outerHdr.SetChecksum(0)
	outerHdr.SetSrc(src)
	outerHdr.SetDst(dst)

	icv, err := computeICV(sa.AuthAlg, sa.AuthKey[:authKeyLen(sa.AuthAlg)], full)
	if err != nil {
		return err
	}
	copy(ahHdr[ahOffICV:ahOffICV+ICVTruncatedLen], icv)

	outerHdr.SetTOS(innerTOS)
	outerHdr.SetTTL(64)
	outerHdr.SetChecksum(internetChecksum(outerHdr))

	sa.SequenceNumber = newSeq
	return nil
}

// AHCheck verifies the ICV and replay status of an inbound AH packet
// occupying the whole of buf's body. The replay window is consulted
// before the ICV computation as a cheap early reject and committed only
// after the ICV verifies. On success buf's body is shrunk to expose
// exactly the inner IP packet.
func AHCheck(buf *Buffer, sa *SAEntry) error {
	outer := buf.Body()
	if len(outer) < ipHeaderLen+ahHeaderLen {
		return ErrBadPacket
	}
	outerHdr := ipHeader(outer)
	ahOffset := outerHdr.IHL()
	if len(outer) < ahOffset+ahHeaderLen {
		return ErrBadPacket
	}
	ahHdr := outer[ahOffset:]
	payloadLenWords := int(ahHdr[ahOffPayloadLen])
	ahLen := ahHeaderLen + (payloadLenWords-1)*4
	if ahLen != ahFullLen {
		return ErrBadAHLength
	}
	if len(outer) < ahOffset+ahLen {
		return ErrBadPacket
	}
	if sa.Mode != ModeTunnel {
		return ErrNotTunnelMode
	}

	seq := be32(ahHdr[ahOffSeq:])
	if !ReplayCheck(seq, sa.Replay) {
		return ErrReplay
	}

	origICV := make([]byte, ICVTruncatedLen)
	copy(origICV, ahHdr[ahOffICV:ahOffICV+ICVTruncatedLen])
	for i := 0; i < ICVTruncatedLen; i++ {
		ahHdr[ahOffICV+i] = 0
	}
	outerHdr.zeroMutableFields()

	totalLen := outerHdr.TotalLen()
	if totalLen > len(outer) {
		return ErrBadPacket
	}
	digest, err := computeICV(sa.AuthAlg, sa.AuthKey[:authKeyLen(sa.AuthAlg)], outer[:totalLen])
	if err != nil {
		return err
	}
	if !constantTimeEqual(digest, origICV) {
		return ErrICVMismatch
	}

	if !ReplayUpdate(seq, &sa.Replay) {
		return ErrReplay
	}

	payloadOffset := ahOffset + ahLen
	if len(outer) < payloadOffset+ipHeaderLen {
		return ErrBadPacket
	}
	payloadSize := ipHeader(outer[payloadOffset:]).TotalLen()
	if payloadOffset+payloadSize > len(outer) {
		return ErrBadPacket
	}

	if err := buf.ShrinkPrefix(payloadOffset); err != nil {
		return err
	}
	return buf.ShrinkSuffix(len(buf.Body()) - payloadSize)
}

func authKeyLen(alg AuthAlg) int {
	switch alg {
	case AuthHMACMD5:
		return 16
	case AuthHMACSHA1:
		return 20
	default:
		return 0
	}
}
