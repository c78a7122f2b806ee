package ipsec

import "encoding/binary"

// buildIPv4Packet constructs a minimal, checksum-correct IPv4 packet with
// the given protocol and payload, used as the "inner" packet across the
// AH/ESP/pipeline tests.
func buildIPv4Packet(src, dst uint32, protocol byte, ttl byte, payload []byte) []byte {
	pkt := make([]byte, ipHeaderLen+len(payload))
	pkt[0] = 0x45
	pkt[1] = 0 // TOS
	binary.BigEndian.PutUint16(pkt[2:4], uint16(len(pkt)))
	binary.BigEndian.PutUint16(pkt[4:6], 0x1234) // ID
	binary.BigEndian.PutUint16(pkt[6:8], 0)       // flags/frag
	pkt[8] = ttl
	pkt[9] = protocol
	binary.BigEndian.PutUint32(pkt[12:16], src)
	binary.BigEndian.PutUint32(pkt[16:20], dst)
	copy(pkt[ipHeaderLen:], payload)
	binary.BigEndian.PutUint16(pkt[10:12], internetChecksum(pkt[:ipHeaderLen]))
	return pkt
}

func ipv4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// zeroIV is a deterministic IVSource for tests that need reproducible
// ciphertext rather than cryptographic randomness.
func zeroIV(iv []byte) error {
	for i := range iv {
		iv[i] = 0
	}
	return nil
}
