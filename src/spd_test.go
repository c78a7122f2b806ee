package ipsec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPDAddRequiresSAForApplyPolicy(t *testing.T) {
	spd := NewSPDTable(2, nil)
	_, err := spd.SPDAdd(Selector{}, PolicyApply, SARef{})
	assert.Error(t, err)
}

func TestSPDAddClearsSAForNonApplyPolicy(t *testing.T) {
	sad := NewSADTable(1)
	saRef, err := sad.SADAdd(sampleSA(1))
	require.NoError(t, err)

	spd := NewSPDTable(2, sad)
	ref, err := spd.SPDAdd(Selector{}, PolicyBypass, saRef)
	require.NoError(t, err)

	entry, ok := ref.Get()
	require.True(t, ok)
	assert.Equal(t, SARef{}, entry.SA)
}

func TestSPDLookupMatchesBySelector(t *testing.T) {
	spd := NewSPDTable(4, nil)
	narrow := Selector{
		Src: ipv4(10, 0, 0, 0), SrcMask: 0xFFFFFF00,
		Dst: ipv4(192, 168, 1, 1), DstMask: 0xFFFFFFFF,
		Protocol: 6, DstPort: 443,
	}
	ref, err := spd.SPDAdd(narrow, PolicyBypass, SARef{})
	require.NoError(t, err)

	payload := make([]byte, 4)
	putBE16(payload[0:2], 5555)  // src port
	putBE16(payload[2:4], 443)   // dst port
	pkt := buildIPv4Packet(ipv4(10, 0, 0, 42), ipv4(192, 168, 1, 1), 6, 64, payload)

	got, ok := SPDLookup(pkt, spd)
	require.True(t, ok)
	assert.True(t, got.Equal(ref))

	// wrong destination port misses.
	putBE16(pkt[ipHeaderLen+2:ipHeaderLen+4], 80)
	_, ok = SPDLookup(pkt, spd)
	assert.False(t, ok)
}

func TestSPDLookupWildcardProtocolSkipsPortCheck(t *testing.T) {
	spd := NewSPDTable(2, nil)
	sel := Selector{Protocol: 0}
	ref, err := spd.SPDAdd(sel, PolicyBypass, SARef{})
	require.NoError(t, err)

	pkt := buildIPv4Packet(ipv4(1, 2, 3, 4), ipv4(5, 6, 7, 8), 17, 64, make([]byte, 8))
	got, ok := SPDLookup(pkt, spd)
	require.True(t, ok)
	assert.True(t, got.Equal(ref))
}

// A DISCARD rule for inbound FTP control traffic: the port selector only
// applies to the protocol it names, so an identical UDP packet sails past.
func TestSPDLookupPortSelectorIsProtocolSpecific(t *testing.T) {
	spd := NewSPDTable(4, nil)
	sel := Selector{
		Src: ipv4(192, 168, 1, 0), SrcMask: 0xFFFFFF00,
		Dst: ipv4(192, 168, 1, 3), DstMask: 0xFFFFFFFF,
		Protocol: ipProtoTCP, SrcPort: 0, DstPort: 21,
	}
	ref, err := spd.SPDAdd(sel, PolicyDiscard, SARef{})
	require.NoError(t, err)

	ports := make([]byte, 4)
	putBE16(ports[0:2], 1234)
	putBE16(ports[2:4], 21)

	tcp := buildIPv4Packet(ipv4(192, 168, 1, 5), ipv4(192, 168, 1, 3), ipProtoTCP, 64, ports)
	got, ok := SPDLookup(tcp, spd)
	require.True(t, ok)
	assert.True(t, got.Equal(ref))
	entry, ok := got.Get()
	require.True(t, ok)
	assert.Equal(t, PolicyDiscard, entry.Policy)

	udp := buildIPv4Packet(ipv4(192, 168, 1, 5), ipv4(192, 168, 1, 3), ipProtoUDP, 64, ports)
	_, ok = SPDLookup(udp, spd)
	assert.False(t, ok)
}

func TestSPDDeleteAfterAddRestoresTable(t *testing.T) {
	spd := NewSPDTable(3, nil)
	_, err := spd.SPDAdd(Selector{DstPort: 1}, PolicyBypass, SARef{})
	require.NoError(t, err)
	before := spd.String()

	ref, err := spd.SPDAdd(Selector{DstPort: 2}, PolicyDiscard, SARef{})
	require.NoError(t, err)
	require.NoError(t, spd.SPDDelete(ref))

	assert.Equal(t, before, spd.String())
}

func TestSPDDeleteRelinksTailCorrectly(t *testing.T) {
	spd := NewSPDTable(3, nil)
	first, err := spd.SPDAdd(Selector{DstPort: 1}, PolicyBypass, SARef{})
	require.NoError(t, err)
	second, err := spd.SPDAdd(Selector{DstPort: 2}, PolicyBypass, SARef{})
	require.NoError(t, err)

	require.NoError(t, spd.SPDDelete(second))
	assert.Equal(t, first.index, spd.tail, "deleting the tail entry must relink the tail pointer")

	// table must still accept a fresh insert using the freed slot.
	third, err := spd.SPDAdd(Selector{DstPort: 3}, PolicyBypass, SARef{})
	require.NoError(t, err)
	assert.Equal(t, third.index, spd.tail)
}

func TestSPDBindSAUpdatesBoundCounts(t *testing.T) {
	sad := NewSADTable(2)
	sa1, err := sad.SADAdd(sampleSA(1))
	require.NoError(t, err)
	sa2, err := sad.SADAdd(sampleSA(2))
	require.NoError(t, err)

	spd := NewSPDTable(1, sad)
	ref, err := spd.SPDAdd(Selector{}, PolicyApply, sa1)
	require.NoError(t, err)

	assert.ErrorIs(t, sad.SADDelete(sa1), ErrSAStillBound)

	require.NoError(t, SPDBindSA(ref, sa2))
	assert.NoError(t, sad.SADDelete(sa1), "unbound SA must now be deletable")
	assert.ErrorIs(t, sad.SADDelete(sa2), ErrSAStillBound)
}

func TestSPDFlushLeavesExactlyOneDefaultEntry(t *testing.T) {
	spd := NewSPDTable(3, nil)
	_, err := spd.SPDAdd(Selector{DstPort: 1}, PolicyBypass, SARef{})
	require.NoError(t, err)
	_, err = spd.SPDAdd(Selector{DstPort: 2}, PolicyDiscard, SARef{})
	require.NoError(t, err)

	spd.Flush(Selector{}, PolicyDiscard)

	count := 0
	for i := spd.head; i != noIndex; i = spd.next[i] {
		count++
	}
	assert.Equal(t, 1, count)

	entry, ok := (SPDRef{table: spd, index: 0}).Get()
	require.True(t, ok)
	assert.Equal(t, PolicyDiscard, entry.Policy)
}
