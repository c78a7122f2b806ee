package ipsec

import "sync"

// Databases is the full set of tables for one interface: inbound/outbound
// SPD and inbound/outbound SAD. The packet path assumes callers serialize
// add/delete against in-flight IPsecInput/IPsecOutput calls; embedding a
// RWMutex lets a caller do that without needing its own wrapper type.
type Databases struct {
	sync.RWMutex

	InboundSPD  *SPDTable
	OutboundSPD *SPDTable
	InboundSAD  *SADTable
	OutboundSAD *SADTable
}

// NewDatabases allocates a database set with MaxTableEntries capacity
// per table.
func NewDatabases() *Databases {
	inSAD := NewSADTable(MaxTableEntries)
	outSAD := NewSADTable(MaxTableEntries)
	return &Databases{
		InboundSPD:  NewSPDTable(MaxTableEntries, inSAD),
		OutboundSPD: NewSPDTable(MaxTableEntries, outSAD),
		InboundSAD:  inSAD,
		OutboundSAD: outSAD,
	}
}

// Release flushes all four tables: both SADs end up empty, and each SPD
// is left holding a single wildcard-selector DISCARD entry.
func (d *Databases) Release() {
	d.Lock()
	defer d.Unlock()
	d.InboundSPD.Flush(Selector{}, PolicyDiscard)
	d.OutboundSPD.Flush(Selector{}, PolicyDiscard)
	d.InboundSAD.Flush()
	d.OutboundSAD.Flush()
}

// IPsecInput processes one inbound packet carrying AH or ESP: SA lookup
// by (dest, protocol, SPI), decapsulation, then a policy check of the
// recovered inner packet against the inbound SPD. The packet is consumed
// via a Buffer whose body is the whole received frame (head/tail room are
// irrelevant for the inbound path, since decapsulation only shrinks). On
// success the Buffer's body is the recovered inner IPv4 packet.
func IPsecInput(buf *Buffer, dbs *Databases, audit AuditLogger) error {
	audit = auditLoggerOrNop(audit)
	outer := buf.Body()
	if len(outer) < ipHeaderLen {
		audit.Audit(AuditEvent{Code: AuditFailure, Source: "IPsecInput", Message: "packet too short for an IP header"})
		return ErrBadPacket
	}
	outerHdr := ipHeader(outer)
	spi := SADGetSPI(outer)

	dbs.RLock()
	saRef, found := dbs.InboundSAD.SADLookup(outerHdr.Dst(), Protocol(outerHdr.Protocol()), spi)
	dbs.RUnlock()
	if !found {
		audit.Audit(AuditEvent{Code: AuditFailure, Source: "IPsecInput", Message: "no matching SA found"})
		return ErrNoSA
	}
	sa, ok := saRef.Get()
	if !ok {
		audit.Audit(AuditEvent{Code: AuditFailure, Source: "IPsecInput", Message: "SA reference went stale"})
		return ErrNoSA
	}
	if sa.Mode != ModeTunnel {
		return ErrNotTunnelMode
	}

	switch sa.Protocol {
	case ProtoAH:
		if err := AHCheck(buf, sa); err != nil {
			audit.Audit(auditForErr("IPsecInput", err))
			return err
		}
	case ProtoESP:
		if err := ESPDecapsulate(buf, sa); err != nil {
			audit.Audit(auditForErr("IPsecInput", err))
			return err
		}
	default:
		audit.Audit(AuditEvent{Code: AuditFailure, Source: "IPsecInput", Message: "invalid protocol on matched SA"})
		return ErrBadProtocol
	}

	inner := buf.Body()
	dbs.RLock()
	spdRef, found := SPDLookup(inner, dbs.InboundSPD)
	dbs.RUnlock()
	if !found {
		audit.Audit(AuditEvent{Code: AuditFailure, Source: "IPsecInput", Message: "no matching SPD entry found"})
		return ErrNoPolicy
	}
	spd, ok := spdRef.Get()
	if !ok {
		return ErrNoPolicy
	}
	if spd.Policy != PolicyApply {
		audit.Audit(AuditEvent{Code: AuditPolicyMismatch, Source: "IPsecInput", Message: "matching SPD does not permit IPsec processing"})
		return ErrPolicyMismatch
	}
	if !spd.SA.Equal(saRef) {
		audit.Audit(AuditEvent{Code: AuditSPIMismatch, Source: "IPsecInput", Message: "packet was processed under a different SA than the SPD requires"})
		return ErrSPIMismatch
	}

	audit.Audit(AuditEvent{Code: AuditApply, Source: "IPsecInput", Message: "packet accepted"})
	return nil
}

// IPsecOutput processes one outbound packet selected for IPsec treatment
// by the caller's policy lookup. spdRef's entry must be a PolicyApply
// entry with a bound SA; this package has no IKE fallback for dynamic SA
// negotiation.
func IPsecOutput(buf *Buffer, dbs *Databases, src, dst uint32, spdRef SPDRef, ivSource IVSource, audit AuditLogger) error {
	audit = auditLoggerOrNop(audit)
	if ivSource == nil {
		ivSource = CSPRNGIVSource
	}
	inner := buf.Body()
	if len(inner) < ipHeaderLen {
		return ErrBadPacket
	}
	if ipHeader(inner).TotalLen() > len(inner) {
		return ErrBadPacket
	}

	spd, ok := spdRef.Get()
	if !ok || spd.Policy != PolicyApply {
		audit.Audit(AuditEvent{Code: AuditFailure, Source: "IPsecOutput", Message: "SPD entry has no bound SA"})
		return ErrNoSAOnSPD
	}
	sa, ok := spd.SA.Get()
	if !ok {
		audit.Audit(AuditEvent{Code: AuditFailure, Source: "IPsecOutput", Message: "SPD entry has no bound SA"})
		return ErrNoSAOnSPD
	}

	var err error
	switch sa.Protocol {
	case ProtoAH:
		err = AHEncapsulate(buf, sa, src, dst)
	case ProtoESP:
		err = ESPEncapsulate(buf, sa, src, dst, ivSource)
	default:
		err = ErrBadProtocol
	}
	if err != nil {
		audit.Audit(auditForErr("IPsecOutput", err))
		return err
	}
	audit.Audit(AuditEvent{Code: AuditApply, Source: "IPsecOutput", Message: "packet encapsulated"})
	return nil
}

// auditForErr maps a pipeline error to an AuditEvent, using the error's
// own audit classification when it carries one.
func auditForErr(source string, err error) AuditEvent {
	if se, ok := err.(*statusError); ok {
		if code, has := se.Audit(); has {
			return AuditEvent{Code: code, Source: source, Message: se.msg}
		}
		return AuditEvent{Code: AuditFailure, Source: source, Message: se.msg}
	}
	return AuditEvent{Code: AuditFailure, Source: source, Message: err.Error()}
}
