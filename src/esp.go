package ipsec

// ESP header is just SPI(4) + sequence(4); the IV, ciphertext, and
// optional trailing ICV follow.
const (
	espOffSPI = 0
	espOffSeq = 4
)

const espNextHeaderIP = 0x04

// espPadding returns the padding length needed so that
// payloadLen+padding is a multiple of the DES block size.
func espPadding(payloadLen int) int {
	for padding := 0; padding < 8; padding++ {
		if (payloadLen+padding)%8 == 0 {
			return padding
		}
	}
	return 0 // unreachable: loop always finds a value in [0,7]
}

// ESPEncapsulate builds the outer IP + ESP header + IV in buf's head room,
// appends sequential padding + pad-length + next-header in the tail room,
// encrypts if the SA configures confidentiality, and appends an ICV if the
// SA configures authentication.
func ESPEncapsulate(buf *Buffer, sa *SAEntry, src, dst uint32, ivSource IVSource) error {
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

	innerTOS := innerHdr.TOS()
	innerLen := len(inner)
	padLen := espPadding(innerLen + 2)
	trailerLen := padLen + 2
	icvLen := 0
	if sa.AuthAlg != AuthNone {
		icvLen = ICVTruncatedLen
	}

	if buf.HeadRoom() < espEncapPrefix {
		return ErrDataSize
	}
	if buf.TailRoom() < trailerLen+icvLen {
		return ErrDataSize
	}

	// Append trailer: sequential padding bytes, pad length, next header.
	if err := buf.GrowSuffix(trailerLen); err != nil {
		return err
	}
	trailer := buf.Body()[innerLen:]
	for i := 0; i < padLen; i++ {
		trailer[i] = byte(i + 1)
	}
	trailer[padLen] = byte(padLen)
	trailer[padLen+1] = espNextHeaderIP

	cipherLen := innerLen + trailerLen
	plusIV := espIVLen + cipherLen

	if err := buf.GrowPrefix(espEncapPrefix); err != nil {
		return err
	}
	full := buf.Body()
	espHdr := full[ipHeaderLen : ipHeaderLen+espHeaderLen]
	iv := full[ipHeaderLen+espHeaderLen : ipHeaderLen+espHeaderLen+espIVLen]
	cipherRegion := full[ipHeaderLen+espHeaderLen+espIVLen : ipHeaderLen+espHeaderLen+espIVLen+cipherLen]

	if sa.EncAlg != EncNone {
		if err := ivSource(iv); err != nil {
			return err
		}
		cbcIV := append([]byte(nil), iv...)
		if err := cbcCipher(sa.EncAlg, cipherRegion, sa.EncKey[:], cbcIV, true); err != nil {
			return err
		}
	}

	newSeq := sa.SequenceNumber + 1
	putBE32(espHdr[espOffSPI:], sa.SPI)
	putBE32(espHdr[espOffSeq:], newSeq)

	espRegionLen := espHeaderLen + plusIV
	if sa.AuthAlg != AuthNone {
		icv, err := computeICV(sa.AuthAlg, sa.AuthKey[:authKeyLen(sa.AuthAlg)], full[ipHeaderLen:ipHeaderLen+espRegionLen])
		if err != nil {
			return err
		}
		if err := buf.GrowSuffix(icvLen); err != nil {
			return err
		}
		full = buf.Body()
		copy(full[ipHeaderLen+espRegionLen:ipHeaderLen+espRegionLen+icvLen], icv)
		espRegionLen += icvLen
	}

	totalLen := ipHeaderLen + espRegionLen
	outerHdr := ipHeader(full)
	outerHdr[ipOffVHL] = 0x45
	outerHdr.SetTOS(innerTOS)
	outerHdr.SetTotalLen(totalLen)
	outerHdr.SetID(nextOuterID())
	outerHdr.SetFragOff(0)
	outerHdr.SetTTL(64)
	outerHdr.SetProtocol(byte(ProtoESP))
	outerHdr.SetChecksum(0)
	outerHdr.SetSrc(src)
	outerHdr.SetDst(dst)
	outerHdr.SetChecksum(internetChecksum(outerHdr))

	sa.SequenceNumber = newSeq
	return nil
}

// ESPDecapsulate verifies (if configured) and decrypts (if configured) an
// inbound ESP packet occupying the whole of buf's body. On success buf's
// body is shrunk to the inner IP packet.
func ESPDecapsulate(buf *Buffer, sa *SAEntry) error {
	outer := buf.Body()
	if len(outer) < ipHeaderLen {
		return ErrBadPacket
	}
	outerHdr := ipHeader(outer)
	espOffset := outerHdr.IHL()
	totalLen := outerHdr.TotalLen()
	if totalLen > len(outer) || totalLen < espOffset+espHeaderLen {
		return ErrBadPacket
	}
	region := outer[espOffset:totalLen]
	if len(region) < espHeaderLen {
		return ErrBadPacket
	}
	espHdr := region[:espHeaderLen]
	seq := be32(espHdr[espOffSeq:])
	body := region[espHeaderLen:]

	if sa.AuthAlg != AuthNone {
		if !ReplayCheck(seq, sa.Replay) {
			return ErrReplay
		}
		if len(body) < ICVTruncatedLen {
			return ErrBadPacket
		}
		signedLen := len(region) - ICVTruncatedLen
		digest, err := computeICV(sa.AuthAlg, sa.AuthKey[:authKeyLen(sa.AuthAlg)], region[:signedLen])
		if err != nil {
			return err
		}
		origICV := region[signedLen:]
		if !constantTimeEqual(digest, origICV) {
			return ErrICVMismatch
		}
		body = body[:len(body)-ICVTruncatedLen]
		if !ReplayUpdate(seq, &sa.Replay) {
			return ErrReplay
		}
	}

	if sa.EncAlg != EncNone {
		if len(body) < espIVLen || (len(body)-espIVLen)%8 != 0 {
			return ErrBadPacket
		}
		iv := append([]byte(nil), body[:espIVLen]...)
		cipherText := body[espIVLen:]
		if err := cbcCipher(sa.EncAlg, cipherText, sa.EncKey[:], iv, false); err != nil {
			return err
		}
	}

	if len(body) < espIVLen+ipHeaderLen {
		return ErrBadPacket
	}
	innerStart := espOffset + espHeaderLen + espIVLen
	innerCandidate := outer[innerStart : innerStart+(len(body)-espIVLen)]
	innerLen := ipHeader(innerCandidate).TotalLen()
	if innerLen < ipHeaderLen || innerLen > IPSecMTU {
		return ErrBadPacket
	}

	if err := buf.ShrinkPrefix(innerStart); err != nil {
		return err
	}
	return buf.ShrinkSuffix(len(buf.Body()) - innerLen)
}
