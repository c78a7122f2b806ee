package ipsec

import (
	"fmt"
	"net"
	"strings"
)

// ipString renders a host-order IPv4 address as dotted decimal.
func ipString(addr uint32) string {
	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr)).String()
}

// String renders one SA record the way a table dump / ipsecctl inspector
// would print it: selector, algorithms, and live counters, never the key
// material itself.
func (e *SAEntry) String() string {
	return fmt.Sprintf("spi=0x%08x proto=%s mode=%s dest=%s/%s enc=%s auth=%s seq=%d replay={last=%d bitmap=%#08x}",
		e.SPI, e.Protocol, e.Mode, ipString(e.Dest), ipString(e.DestMask),
		e.EncAlg, e.AuthAlg, e.SequenceNumber, e.Replay.LastSeq, e.Replay.Bitmap)
}

// String dumps every used entry in insertion-list order.
func (t *SADTable) String() string {
	var b strings.Builder
	n := 0
	for i := t.head; i != noIndex; i = t.next[i] {
		fmt.Fprintf(&b, "  [%d] %s\n", i, t.entries[i].String())
		n++
	}
	fmt.Fprintf(&b, "SAD: %d/%d entries in use", n, t.Cap())
	return b.String()
}

// String renders one SPD record.
func (e *SPDEntry) String() string {
	s := e.Selector
	ports := ""
	if s.Protocol == ipProtoTCP || s.Protocol == ipProtoUDP {
		ports = fmt.Sprintf(" sport=%d dport=%d", s.SrcPort, s.DstPort)
	}
	saDesc := "-"
	if e.Policy == PolicyApply {
		if sa, ok := e.SA.Get(); ok {
			saDesc = fmt.Sprintf("0x%08x", sa.SPI)
		} else {
			saDesc = "<stale>"
		}
	}
	return fmt.Sprintf("src=%s/%s dst=%s/%s proto=%d%s policy=%s sa=%s",
		ipString(s.Src), ipString(s.SrcMask), ipString(s.Dst), ipString(s.DstMask),
		s.Protocol, ports, e.Policy, saDesc)
}

// String dumps every used entry in insertion-list order.
func (t *SPDTable) String() string {
	var b strings.Builder
	n := 0
	for i := t.head; i != noIndex; i = t.next[i] {
		fmt.Fprintf(&b, "  [%d] %s\n", i, t.entries[i].String())
		n++
	}
	fmt.Fprintf(&b, "SPD: %d/%d entries in use", n, len(t.entries))
	return b.String()
}

// String dumps all four tables of a database set; this is the output
// cmd/ipsecctl prints.
func (d *Databases) String() string {
	var b strings.Builder
	fmt.Fprintln(&b, "inbound SAD:")
	fmt.Fprintln(&b, d.InboundSAD.String())
	fmt.Fprintln(&b, "outbound SAD:")
	fmt.Fprintln(&b, d.OutboundSAD.String())
	fmt.Fprintln(&b, "inbound SPD:")
	fmt.Fprintln(&b, d.InboundSPD.String())
	fmt.Fprintln(&b, "outbound SPD:")
	fmt.Fprint(&b, d.OutboundSPD.String())
	return b.String()
}
