package ipsec

// Selector is the traffic selector an SPD entry matches against.
type Selector struct {
	Src, SrcMask uint32
	Dst, DstMask uint32
	Protocol     uint8 // 0 = wildcard
	SrcPort      uint16 // 0 = wildcard, matched only for TCP/UDP
	DstPort      uint16
}

// SPDEntry is one Security Policy Database rule: a selector, a
// disposition, and, iff Policy == PolicyApply, the SA it applies.
type SPDEntry struct {
	Selector Selector
	Policy   Policy
	SA       SARef // valid iff Policy == PolicyApply

	used bool
}

// SPDTable is the SPD analogue of SADTable: a fixed-capacity arena
// threaded by an insertion-order linked list.
type SPDTable struct {
	entries    []SPDEntry
	next, prev []int
	head, tail int
	sad        *SADTable // used to (un)mark SA bindings on add/delete/flush
}

// NewSPDTable allocates a table with the given fixed capacity. sad may be
// nil for tests that never bind an SA, but pipeline use always supplies
// the SAD the bound SARefs belong to so deletes can be rejected correctly.
func NewSPDTable(capacity int, sad *SADTable) *SPDTable {
	if capacity <= 0 {
		capacity = MaxTableEntries
	}
	t := &SPDTable{
		entries: make([]SPDEntry, capacity),
		next:    make([]int, capacity),
		prev:    make([]int, capacity),
		head:    noIndex,
		tail:    noIndex,
		sad:     sad,
	}
	for i := range t.next {
		t.next[i] = noIndex
		t.prev[i] = noIndex
	}
	return t
}

func (t *SPDTable) getFree() (int, bool) {
	for i := range t.entries {
		if !t.entries[i].used {
			return i, true
		}
	}
	return 0, false
}

// SPDRef is an opaque handle to an SPD entry.
type SPDRef struct {
	table *SPDTable
	index int
}

// Equal reports whether two references point to the same table slot.
func (ref SPDRef) Equal(other SPDRef) bool {
	return ref.table == other.table && ref.index == other.index
}

// SPDAdd inserts a new policy rule. A PolicyApply rule without a valid SA
// reference is rejected; for any other policy the supplied SA reference
// is dropped and the entry is stored unbound.
func (t *SPDTable) SPDAdd(sel Selector, policy Policy, sa SARef) (SPDRef, error) {
	if policy == PolicyApply {
		if _, ok := sa.Get(); !ok {
			return SPDRef{}, newStatusErr(StatusFailure, "APPLY entry requires a valid SA reference")
		}
	} else {
		sa = SARef{}
	}
	idx, ok := t.getFree()
	if !ok {
		return SPDRef{}, ErrTableFull
	}
	t.entries[idx] = SPDEntry{Selector: sel, Policy: policy, SA: sa, used: true}
	t.next[idx] = noIndex
	t.prev[idx] = t.tail
	if t.tail != noIndex {
		t.next[t.tail] = idx
	} else {
		t.head = idx
	}
	t.tail = idx
	if policy == PolicyApply && t.sad != nil {
		t.sad.markBound(sa.index)
	}
	return SPDRef{table: t, index: idx}, nil
}

// SPDDelete removes the entry ref points to, relinking both ends of the
// list. Deleting the tail entry must leave the tail pointer on the new
// last element.
func (t *SPDTable) SPDDelete(ref SPDRef) error {
	if ref.table != t || ref.index < 0 || ref.index >= len(t.entries) || !t.entries[ref.index].used {
		return ErrInvalidRef
	}
	idx := ref.index
	entry := t.entries[idx]
	if t.prev[idx] != noIndex {
		t.next[t.prev[idx]] = t.next[idx]
	} else {
		t.head = t.next[idx]
	}
	if t.next[idx] != noIndex {
		t.prev[t.next[idx]] = t.prev[idx]
	} else {
		t.tail = t.prev[idx]
	}
	if entry.Policy == PolicyApply && t.sad != nil {
		t.sad.markUnbound(entry.SA.index)
	}
	t.entries[idx] = SPDEntry{}
	t.next[idx] = noIndex
	t.prev[idx] = noIndex
	return nil
}

// SPDLookup returns the first entry, in list order, whose selector
// matches header. Source/destination address+mask and the protocol
// (0 = wildcard) must match; for TCP/UDP headers, source and destination
// ports are additionally checked (0 = wildcard). Any other protocol skips
// port comparison entirely.
func SPDLookup(header []byte, t *SPDTable) (SPDRef, bool) {
	if len(header) < ipHeaderLen {
		return SPDRef{}, false
	}
	h := ipHeader(header)
	proto := h.Protocol()
	for i := t.head; i != noIndex; i = t.next[i] {
		sel := t.entries[i].Selector
		if !ipAddrMaskMatch(h.Src(), sel.Src, sel.SrcMask) {
			continue
		}
		if !ipAddrMaskMatch(h.Dst(), sel.Dst, sel.DstMask) {
			continue
		}
		if sel.Protocol != 0 && sel.Protocol != proto {
			continue
		}
		if proto == ipProtoTCP || proto == ipProtoUDP {
			ihl := h.IHL()
			if len(header) < ihl+4 {
				continue
			}
			srcPort := be16(header[ihl : ihl+2])
			dstPort := be16(header[ihl+2 : ihl+4])
			if sel.SrcPort != 0 && sel.SrcPort != srcPort {
				continue
			}
			if sel.DstPort != 0 && sel.DstPort != dstPort {
				continue
			}
		}
		return SPDRef{table: t, index: i}, true
	}
	return SPDRef{}, false
}

// Get dereferences ref.
func (ref SPDRef) Get() (*SPDEntry, bool) {
	if ref.table == nil || ref.index < 0 || ref.index >= len(ref.table.entries) || !ref.table.entries[ref.index].used {
		return nil, false
	}
	return &ref.table.entries[ref.index], true
}

// SPDBindSA attaches sa to an existing PolicyApply entry, releasing any
// SA the entry was previously bound to.
func SPDBindSA(ref SPDRef, sa SARef) error {
	entry, ok := ref.Get()
	if !ok {
		return ErrInvalidRef
	}
	if entry.Policy != PolicyApply {
		return newStatusErr(StatusFailure, "cannot bind an SA to a non-APPLY entry")
	}
	if _, ok := sa.Get(); !ok {
		return newStatusErr(StatusFailure, "SA reference is not valid")
	}
	if ref.table.sad != nil && entry.SA.table != nil {
		ref.table.sad.markUnbound(entry.SA.index)
	}
	entry.SA = sa
	if ref.table.sad != nil {
		ref.table.sad.markBound(sa.index)
	}
	return nil
}

// Flush clears the table and reinserts exactly one default entry,
// typically a permissive BYPASS.
func (t *SPDTable) Flush(defaultSel Selector, defaultPolicy Policy) {
	if t.sad != nil {
		for i := range t.entries {
			if t.entries[i].used && t.entries[i].Policy == PolicyApply {
				t.sad.markUnbound(t.entries[i].SA.index)
			}
		}
	}
	for i := range t.entries {
		t.entries[i] = SPDEntry{}
		t.next[i] = noIndex
		t.prev[i] = noIndex
	}
	t.head = noIndex
	t.tail = noIndex
	// default entry is BYPASS/DISCARD only in practice (PolicyApply would
	// need a live SA reference, which a flush-to-default never has).
	idx := 0
	t.entries[idx] = SPDEntry{Selector: defaultSel, Policy: defaultPolicy, used: true}
	t.head, t.tail = idx, idx
}
