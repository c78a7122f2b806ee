package ipsec

// SAEntry is one Security Association record: keys, algorithms, the
// per-SA sequence/replay state, and the selector used to find it.
type SAEntry struct {
	Dest     uint32 // destination address this SA protects (host order)
	DestMask uint32

	SPI      uint32
	Protocol Protocol
	Mode     Mode

	SequenceNumber uint32 // outbound counter; inbound tracks LastSeq in Replay
	Replay         ReplayState

	Lifetime uint32 // recorded, not enforced by this package
	PathMTU  uint16 // recorded, not enforced by this package

	EncAlg EncAlg
	EncKey [MaxEncKeyLen]byte

	AuthAlg AuthAlg
	AuthKey [MaxAuthKeyLen]byte

	used bool
}

// saRef is a handle into a SAD's backing array. An entry's index is
// stable for its lifetime, so a handle stays valid until the entry is
// deleted. The zero value is not a valid reference; obtain one from
// SADAdd.
type saRef struct {
	table *SADTable
	index int
}

// SARef is the exported, opaque handle to a SAD entry.
type SARef = saRef

// SADTable is a fixed-capacity arena of SAEntry slots threaded by
// insertion order through a doubly-linked list of only the used slots.
type SADTable struct {
	entries    []SAEntry
	next, prev []int // -1 sentinel
	head, tail int    // -1 when empty
	boundBy    map[int]int // SAD index -> count of SPD entries bound to it
}

const noIndex = -1

// NewSADTable allocates a table with the given fixed capacity.
func NewSADTable(capacity int) *SADTable {
	if capacity <= 0 {
		capacity = MaxTableEntries
	}
	t := &SADTable{
		entries: make([]SAEntry, capacity),
		next:    make([]int, capacity),
		prev:    make([]int, capacity),
		head:    noIndex,
		tail:    noIndex,
		boundBy: make(map[int]int),
	}
	for i := range t.next {
		t.next[i] = noIndex
		t.prev[i] = noIndex
	}
	return t
}

// Cap returns the table's fixed capacity.
func (t *SADTable) Cap() int { return len(t.entries) }

// getFree scans linearly for the first unused slot; tables are small
// fixed-capacity arrays.
func (t *SADTable) getFree() (int, bool) {
	for i := range t.entries {
		if !t.entries[i].used {
			return i, true
		}
	}
	return 0, false
}

// SADAdd copies entry into a free slot and appends it to the insertion-
// order list. Returns ErrTableFull if the table is at capacity.
func (t *SADTable) SADAdd(entry SAEntry) (SARef, error) {
	idx, ok := t.getFree()
	if !ok {
		return SARef{}, ErrTableFull
	}
	entry.used = true
	entry.SequenceNumber = 0
	entry.Replay = ReplayState{}
	t.entries[idx] = entry
	t.next[idx] = noIndex
	t.prev[idx] = t.tail
	if t.tail != noIndex {
		t.next[t.tail] = idx
	} else {
		t.head = idx
	}
	t.tail = idx
	return SARef{table: t, index: idx}, nil
}

// SADDelete removes the entry ref points to, unlinking it from the list
// and freeing its slot. Fails if ref does not point inside this table's
// backing array or the slot is already free, or if an SPD entry is still
// bound to it: deletion of a referenced SA is rejected rather than
// leaving SPD entries dangling.
func (t *SADTable) SADDelete(ref SARef) error {
	if ref.table != t || ref.index < 0 || ref.index >= len(t.entries) || !t.entries[ref.index].used {
		return ErrInvalidRef
	}
	if t.boundBy[ref.index] > 0 {
		return ErrSAStillBound
	}
	idx := ref.index
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
	t.entries[idx] = SAEntry{}
	t.next[idx] = noIndex
	t.prev[idx] = noIndex
	delete(t.boundBy, idx)
	return nil
}

// SADLookup returns the first entry, in insertion order, whose dest/mask,
// protocol, and SPI all match.
func (t *SADTable) SADLookup(dest uint32, protocol Protocol, spi uint32) (SARef, bool) {
	for i := t.head; i != noIndex; i = t.next[i] {
		e := &t.entries[i]
		if ipAddrMaskMatch(dest, e.Dest, e.DestMask) && e.Protocol == protocol && e.SPI == spi {
			return SARef{table: t, index: i}, true
		}
	}
	return SARef{}, false
}

// Get dereferences ref, returning a pointer to the live entry for
// mutation (sequence number increments, replay-window updates).
func (ref SARef) Get() (*SAEntry, bool) {
	if ref.table == nil || ref.index < 0 || ref.index >= len(ref.table.entries) || !ref.table.entries[ref.index].used {
		return nil, false
	}
	return &ref.table.entries[ref.index], true
}

// Equal reports whether two references point to the same table slot.
func (ref SARef) Equal(other SARef) bool {
	return ref.table == other.table && ref.index == other.index
}

func (t *SADTable) markBound(idx int)   { t.boundBy[idx]++ }
func (t *SADTable) markUnbound(idx int) {
	if t.boundBy[idx] > 0 {
		t.boundBy[idx]--
	}
}

// Flush clears the table back to empty, resetting both head and tail.
func (t *SADTable) Flush() {
	for i := range t.entries {
		t.entries[i] = SAEntry{}
		t.next[i] = noIndex
		t.prev[i] = noIndex
	}
	t.head = noIndex
	t.tail = noIndex
	t.boundBy = make(map[int]int)
}

// SADGetSPI returns the SPI carried in packet's AH or ESP header, or 0 if
// packet's protocol is neither.
func SADGetSPI(packet []byte) uint32 {
	if len(packet) < ipHeaderLen {
		return 0
	}
	h := ipHeader(packet)
	off := h.IHL()
	switch Protocol(h.Protocol()) {
	case ProtoAH:
		// AH layout: next_header(1) payload_len(1) reserved(2) spi(4) ...
		if len(packet) < off+8 {
			return 0
		}
		return be32(packet[off+4 : off+8])
	case ProtoESP:
		// ESP layout: spi(4) sequence(4) ...
		if len(packet) < off+4 {
			return 0
		}
		return be32(packet[off : off+4])
	default:
		return 0
	}
}
