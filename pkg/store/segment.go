package store

import "sync"

// SegmentElements is the slot count of one segment. Offset 0 is reserved, so
// a segment holds SegmentElements-1 elements.
const SegmentElements = 1 << 16

// segment is a fixed-capacity slab of element records with its own monitor.
//
// lastEngagedOffset is the highest offset ever bump-allocated (0 = none).
// lastReleasedOffset heads the intra-segment free chain (0 = empty); the
// chain is threaded through the typ field of released slots, which is safe
// because their exists bit is clear.
type segment struct {
	num uint32 // 1-based position in the store's segment vector

	mu                 sync.Mutex
	lastEngagedOffset  uint32
	lastReleasedOffset uint32

	elements [SegmentElements]element
}

func newSegment(num uint32) *segment {
	return &segment{num: num}
}

// full reports whether the bump allocator is exhausted. The free chain may
// still have slots; callers check lastReleasedOffset separately.
func (g *segment) full() bool {
	return g.lastEngagedOffset+1 == SegmentElements
}

// Stat aggregates element counts across the store.
type Stat struct {
	NodeCount uint64
	LinkCount uint64
	ArcCount  uint64
	FreeCount uint64
}

// collectStat counts this segment's live and free slots. Caller holds g.mu.
func (g *segment) collectStat(st *Stat) {
	for off := uint32(1); off <= g.lastEngagedOffset; off++ {
		el := &g.elements[off]
		if !el.exists() {
			st.FreeCount++
			continue
		}
		switch {
		case el.flags.typ&TypeLink != 0:
			st.LinkCount++
		case el.flags.typ&TypeArcMask != 0:
			st.ArcCount++
		default:
			st.NodeCount++
		}
	}
}
