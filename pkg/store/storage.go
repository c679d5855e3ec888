// Package store implements the segmented element store of the sc-memory: an
// arena-style allocator handing out stable addresses for graph elements,
// concurrent mutation of nodes, links and arcs with doubly-linked incidence
// lists, and template-shaped triple iteration.
//
// Elements live inline in fixed-size segments; adjacency fields are Addr
// values, never references, which is what makes cascade deletion and
// freed-slot reuse safe. Every element address maps onto a fixed table of
// read/write monitors; segments and the store carry their own monitors.
// Lock order is element monitors, then the store lock, then segment locks:
// address lookups and slot release take the store and segment locks while
// element monitors are held, so element monitors are not the innermost
// locks. No path acquires an element monitor while holding the store lock or
// a segment lock.
package store

import (
	"fmt"
	"log"
	"sync"
)

// EventType classifies a graph-change notification handed to the event sink.
type EventType uint8

const (
	EventAddOutputArc EventType = iota + 1
	EventAddInputArc
	EventRemoveOutputArc
	EventRemoveInputArc
	EventRemoveElement
	EventContentChanged
)

// EventSink receives graph-change notifications. Emissions for a single
// mutation happen inside that mutation's critical section; emissions from
// concurrent mutations may interleave arbitrarily.
type EventSink interface {
	Emit(pid uint64, el Addr, accessLevels uint32, typ EventType, edge, other Addr)
	// NotifyElementDeleted is called after an element's slot is released so
	// subscriptions on that address can be torn down.
	NotifyElementDeleted(el Addr)
}

// LinkStore keeps link payload bytes and their search index. The store never
// owns link content; it only bridges to this collaborator, keyed by
// Addr.Key.
type LinkStore interface {
	LinkStringSet(key uint64, data []byte, searchable bool) error
	LinkStringGet(key uint64) ([]byte, error)
	LinkStringUnlink(key uint64) error
	FindLinksByString(data []byte) ([]uint64, error)
	FindLinksBySubstring(data []byte, prefixLimit uint32) ([]uint64, error)
	FindStringsBySubstring(data []byte, prefixLimit uint32) ([]string, error)
}

// Store is the segmented element store. One Store is one independent
// sc-memory image; embedding several in a process is fine.
type Store struct {
	mu            sync.RWMutex // segments vector, free segment lists
	segments      []*segment
	maxSegments   uint32
	segmentsCount uint32

	// Heads of the intrusive segment lists. Not-engaged segments chain
	// through slot-0 access fields, released segments through slot-0 typ
	// fields.
	lastNotEngagedSegmentNum uint32
	lastReleasedSegmentNum   uint32

	procMu       sync.Mutex
	procSegments map[uint64]*segment

	monitors monitorTable

	links  LinkStore
	events EventSink
}

// Options configures a Store.
type Options struct {
	MaxSegments uint32
	Links       LinkStore
	Events      EventSink
}

// nopSink drops events; used when no event bus is wired.
type nopSink struct{}

func (nopSink) Emit(uint64, Addr, uint32, EventType, Addr, Addr) {}
func (nopSink) NotifyElementDeleted(Addr)                        {}

// New creates an empty store. MaxSegments bounds resident memory; once
// reached, allocation reuses released slots or fails with ErrNoMemory.
func New(opts Options) *Store {
	if opts.MaxSegments == 0 {
		opts.MaxSegments = 1024
	}
	s := &Store{
		maxSegments:  opts.MaxSegments,
		segments:     make([]*segment, 0, opts.MaxSegments),
		procSegments: make(map[uint64]*segment),
		links:        opts.Links,
		events:       opts.Events,
	}
	if s.events == nil {
		s.events = nopSink{}
	}
	log.Printf("[store] configuration: segment_elements=%d max_segments=%d monitor_table=%d",
		SegmentElements, s.maxSegments, monitorTableSize)
	return s
}

// BeginProcess registers a process id with the allocation fast path. The
// process's current segment starts empty and is claimed on first allocation.
func (s *Store) BeginProcess(pid uint64) {
	s.procMu.Lock()
	s.procSegments[pid] = nil
	s.procMu.Unlock()
}

// EndProcess detaches the process from its current segment. A partially
// usable segment goes back on the not-engaged list so other processes can
// finish it.
func (s *Store) EndProcess(pid uint64) {
	s.procMu.Lock()
	seg := s.procSegments[pid]
	delete(s.procSegments, pid)
	s.procMu.Unlock()

	if seg == nil {
		return
	}
	seg.mu.Lock()
	reusable := !seg.full() || seg.lastReleasedOffset != 0
	seg.mu.Unlock()
	if !reusable {
		return
	}

	s.mu.Lock()
	seg.elements[0].flags.access = s.lastNotEngagedSegmentNum
	s.lastNotEngagedSegmentNum = seg.num
	s.mu.Unlock()
}

// getByAddr resolves an address to its element record. It bounds-checks the
// segment, dereferences the slot and requires the exists bit. It does not
// lock; callers hold the address's monitor when they need a stable view.
func (s *Store) getByAddr(a Addr) (*element, error) {
	if a.Seg == 0 || a.Offset == 0 || a.Seg > s.maxSegments || a.Offset >= SegmentElements {
		return nil, ErrAddrNotValid
	}
	s.mu.RLock()
	var seg *segment
	if a.Seg <= s.segmentsCount {
		seg = s.segments[a.Seg-1]
	}
	s.mu.RUnlock()
	if seg == nil {
		return nil, ErrAddrNotValid
	}
	el := &seg.elements[a.Offset]
	if !el.exists() {
		return nil, ErrAddrNotValid
	}
	return el, nil
}

// IsElement reports whether the address currently resolves to an existing
// element.
func (s *Store) IsElement(a Addr) bool {
	_, err := s.getByAddr(a)
	return err == nil
}

// freeElement returns a slot to its segment's free chain. The old chain head
// is stored in the slot's typ field; the rest of the record is zeroed so
// in-flight iterators stop cleanly at the stale address. If this is the
// segment's first released slot, the segment joins the store's released list.
func (s *Store) freeElement(a Addr) error {
	if _, err := s.getByAddr(a); err != nil {
		return err
	}
	s.mu.RLock()
	seg := s.segments[a.Seg-1]
	s.mu.RUnlock()
	if seg == nil {
		return ErrAddrNotValid
	}

	seg.mu.Lock()
	prevHead := seg.lastReleasedOffset
	seg.elements[a.Offset] = element{flags: elementFlags{typ: Type(prevHead)}}
	seg.lastReleasedOffset = a.Offset
	seg.mu.Unlock()

	if prevHead == 0 {
		s.mu.Lock()
		seg.elements[0].flags.typ = Type(s.lastReleasedSegmentNum)
		s.lastReleasedSegmentNum = seg.num
		s.mu.Unlock()
	}
	return nil
}

// popNotEngagedSegment pops the head of the not-engaged list. Caller holds
// s.mu.
func (s *Store) popNotEngagedSegment() *segment {
	num := s.lastNotEngagedSegmentNum
	if num == 0 || num > s.segmentsCount {
		return nil
	}
	seg := s.segments[num-1]
	s.lastNotEngagedSegmentNum = seg.elements[0].flags.access
	seg.elements[0].flags.access = 0
	return seg
}

// newSegmentLocked appends a fresh segment if capacity allows. Caller holds
// s.mu.
func (s *Store) newSegmentLocked() *segment {
	if s.segmentsCount == s.maxSegments {
		return nil
	}
	seg := newSegment(s.segmentsCount + 1)
	s.segments = append(s.segments, seg)
	s.segmentsCount++
	return seg
}

// lastFreeSegmentLocked returns the newest segment if its bump allocator is
// not exhausted. Caller holds s.mu.
func (s *Store) lastFreeSegmentLocked() *segment {
	if s.segmentsCount == 0 {
		return nil
	}
	seg := s.segments[s.segmentsCount-1]
	if seg.full() {
		return nil
	}
	return seg
}

// checkSegmentKind decides whether seg can still serve allocations and, if
// so, whether the next one comes off the free chain.
func checkSegmentKind(seg *segment) (usable *segment, released bool) {
	seg.mu.Lock()
	releasedOff := seg.lastReleasedOffset
	full := seg.full()
	seg.mu.Unlock()

	if releasedOff != 0 {
		return seg, true
	}
	if full {
		return nil, false
	}
	return seg, false
}

// currentSegment finds the process's allocation segment, claiming a new one
// from the store when the current one is exhausted.
func (s *Store) currentSegment(pid uint64) (*segment, bool) {
	s.procMu.Lock()
	seg := s.procSegments[pid]
	s.procMu.Unlock()

	var released bool
	if seg != nil {
		seg, released = checkSegmentKind(seg)
	}
	if seg != nil {
		return seg, released
	}

	s.procMu.Lock()
	s.mu.Lock()
	seg = s.popNotEngagedSegment()
	if seg == nil {
		seg = s.newSegmentLocked()
	}
	if seg == nil {
		seg = s.lastFreeSegmentLocked()
	}
	if seg != nil {
		s.procSegments[pid] = seg
	}
	s.mu.Unlock()
	s.procMu.Unlock()

	if seg == nil {
		return nil, false
	}
	return checkSegmentKind(seg)
}

// allocateLocal takes a slot from the process's current segment: the free
// chain first, then the bump allocator.
func (s *Store) allocateLocal(pid uint64) (Addr, *element) {
	seg, released := s.currentSegment(pid)
	if seg == nil {
		return AddrEmpty, nil
	}

	seg.mu.Lock()
	defer seg.mu.Unlock()

	var off uint32
	if released && seg.lastReleasedOffset != 0 {
		off = seg.lastReleasedOffset
		el := &seg.elements[off]
		seg.lastReleasedOffset = uint32(el.flags.typ)
		el.flags.typ = 0
		return Addr{Seg: seg.num, Offset: off}, el
	}
	if seg.full() {
		return AddrEmpty, nil
	}
	seg.lastEngagedOffset++
	off = seg.lastEngagedOffset
	return Addr{Seg: seg.num, Offset: off}, &seg.elements[off]
}

// allocateReleased is the slow path: pop a slot off the store's released
// segment list, unlinking segments whose free chain drains.
func (s *Store) allocateReleased() (Addr, *element) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		num := s.lastReleasedSegmentNum
		if num == 0 || num > s.segmentsCount {
			return AddrEmpty, nil
		}
		seg := s.segments[num-1]

		seg.mu.Lock()
		off := seg.lastReleasedOffset
		if off == 0 {
			// Drained concurrently; unlink and retry with the next one.
			seg.mu.Unlock()
			s.lastReleasedSegmentNum = uint32(seg.elements[0].flags.typ)
			seg.elements[0].flags.typ = 0
			continue
		}
		el := &seg.elements[off]
		seg.lastReleasedOffset = uint32(el.flags.typ)
		el.flags.typ = 0
		drained := seg.lastReleasedOffset == 0
		seg.mu.Unlock()

		if drained {
			s.lastReleasedSegmentNum = uint32(seg.elements[0].flags.typ)
			seg.elements[0].flags.typ = 0
		}
		return Addr{Seg: num, Offset: off}, el
	}
}

// allocate hands out a fresh slot with the exists bit set and clean
// adjacency. On exhaustion it returns ErrNoMemory.
func (s *Store) allocate(pid uint64) (Addr, *element, error) {
	addr, el := s.allocateLocal(pid)
	if el == nil {
		addr, el = s.allocateReleased()
		if el == nil {
			log.Printf("[store] memory is full: max segments count is %d", s.maxSegments)
			return AddrEmpty, nil, ErrNoMemory
		}
	}
	*el = element{}
	el.flags.access |= accessExists
	return addr, el, nil
}

// NodeNew creates a node of the given subtype and returns its address.
func (s *Store) NodeNew(pid uint64, t Type) (Addr, error) {
	addr, el, err := s.allocate(pid)
	if err != nil {
		return AddrEmpty, err
	}
	el.flags.typ = TypeNode | t
	return addr, nil
}

// LinkNew creates a link element. Its payload is managed separately through
// SetLinkContent.
func (s *Store) LinkNew(pid uint64, t Type) (Addr, error) {
	addr, el, err := s.allocate(pid)
	if err != nil {
		return AddrEmpty, err
	}
	el.flags.typ = TypeLink | t
	return addr, nil
}

// spliceIncident splices arc at the head of beg's out-list and end's in-list.
// Caller holds the monitors for begAddr and endAddr; the helper additionally
// takes the monitors of the current list heads. Deduplication is by monitor
// identity: a head that shares a monitor with an endpoint is already covered.
func (s *Store) spliceIncident(arcAddr Addr, arcEl *element, begAddr Addr, begEl *element, endAddr Addr, endEl *element) {
	firstOut := begEl.firstOutArc
	firstIn := endEl.firstInArc

	heldIdx := [2]uint32{s.monitors.indexFor(begAddr), s.monitors.indexFor(endAddr)}
	freshIdx := func(a Addr) uint32 {
		if a.IsEmpty() {
			return noMonitor
		}
		idx := s.monitors.indexFor(a)
		if idx == heldIdx[0] || idx == heldIdx[1] {
			return noMonitor
		}
		return idx
	}
	held := s.monitors.acquireWrite(freshIdx(firstOut), freshIdx(firstIn))

	arcEl.nextOutArc = firstOut
	arcEl.nextInArc = firstIn

	if fo, err := s.getByAddr(firstOut); err == nil {
		fo.prevOutArc = arcAddr
	}
	if fi, err := s.getByAddr(firstIn); err == nil {
		fi.prevInArc = arcAddr
	}

	s.monitors.releaseWrite(held)

	begEl.firstOutArc = arcAddr
	endEl.firstInArc = arcAddr
	begEl.outputArcsCount++
	endEl.inputArcsCount++
}

// ArcNew creates a connector from beg to end. Undirected edges that are not
// self-loops are additionally spliced into the symmetric incidence lists of
// both endpoints. On a missing endpoint the half-allocated slot is returned
// to its free chain before the error surfaces.
func (s *Store) ArcNew(pid uint64, t Type, beg, end Addr) (Addr, error) {
	if beg.IsEmpty() || end.IsEmpty() {
		return AddrEmpty, ErrInvalidParams
	}
	if t&TypeArcMask == 0 {
		return AddrEmpty, fmt.Errorf("%w: type %#x is not a connector kind", ErrInvalidParams, uint32(t))
	}

	arcAddr, arcEl, err := s.allocate(pid)
	if err != nil {
		return AddrEmpty, err
	}
	arcEl.flags.typ = t
	arcEl.begin = beg
	arcEl.end = end

	isEdge := t.IsEdge()
	isNotLoop := beg != end

	held := s.monitors.acquireWrite(s.monitors.indexFor(beg), s.monitors.indexFor(end))

	begEl, err := s.getByAddr(beg)
	if err == nil {
		var endEl *element
		endEl, err = s.getByAddr(end)
		if err == nil {
			s.spliceIncident(arcAddr, arcEl, beg, begEl, end, endEl)
			if isEdge && isNotLoop {
				s.spliceIncident(arcAddr, arcEl, end, endEl, beg, begEl)
			}

			access := begEl.accessLevels()
			s.events.Emit(pid, beg, access, EventAddOutputArc, arcAddr, end)
			s.events.Emit(pid, end, access, EventAddInputArc, arcAddr, beg)
			if isEdge && isNotLoop {
				s.events.Emit(pid, end, access, EventAddOutputArc, arcAddr, beg)
				s.events.Emit(pid, beg, access, EventAddInputArc, arcAddr, end)
			}
		}
	}
	if err != nil {
		s.freeElement(arcAddr)
		s.monitors.releaseWrite(held)
		return AddrEmpty, fmt.Errorf("arc endpoint: %w", err)
	}

	s.monitors.releaseWrite(held)
	return arcAddr, nil
}

// GetType returns the element's type code.
func (s *Store) GetType(a Addr) (Type, error) {
	el, err := s.getByAddr(a)
	if err != nil {
		return 0, err
	}
	return el.flags.typ, nil
}

// ChangeSubtype overwrites the element's type. Crossing the element-kind
// boundary is rejected with ErrInvalidType and leaves the type unchanged.
func (s *Store) ChangeSubtype(a Addr, t Type) error {
	idx := s.monitors.indexFor(a)
	held := s.monitors.acquireWrite(idx)
	defer s.monitors.releaseWrite(held)

	el, err := s.getByAddr(a)
	if err != nil {
		return err
	}
	if el.flags.typ&TypeElementMask != t&TypeElementMask {
		return ErrInvalidType
	}
	el.flags.typ = t
	return nil
}

// ArcBegin returns the source endpoint of a connector.
func (s *Store) ArcBegin(a Addr) (Addr, error) {
	beg, _, err := s.arcEndpoints(a)
	return beg, err
}

// ArcEnd returns the target endpoint of a connector.
func (s *Store) ArcEnd(a Addr) (Addr, error) {
	_, end, err := s.arcEndpoints(a)
	return end, err
}

// ArcInfo returns both endpoints of a connector.
func (s *Store) ArcInfo(a Addr) (beg, end Addr, err error) {
	return s.arcEndpoints(a)
}

func (s *Store) arcEndpoints(a Addr) (Addr, Addr, error) {
	held := s.monitors.acquireRead(s.monitors.indexFor(a))
	defer s.monitors.releaseRead(held)

	el, err := s.getByAddr(a)
	if err != nil {
		return AddrEmpty, AddrEmpty, err
	}
	if el.flags.typ&TypeArcMask == 0 {
		return AddrEmpty, AddrEmpty, ErrElementNotConnector
	}
	return el.begin, el.end, nil
}

// OutputArcsCount returns the out-incidence list length as of some point
// during the read-monitor hold.
func (s *Store) OutputArcsCount(a Addr) (uint32, error) {
	held := s.monitors.acquireRead(s.monitors.indexFor(a))
	defer s.monitors.releaseRead(held)

	el, err := s.getByAddr(a)
	if err != nil {
		return 0, err
	}
	return el.outputArcsCount, nil
}

// InputArcsCount returns the in-incidence list length.
func (s *Store) InputArcsCount(a Addr) (uint32, error) {
	held := s.monitors.acquireRead(s.monitors.indexFor(a))
	defer s.monitors.releaseRead(held)

	el, err := s.getByAddr(a)
	if err != nil {
		return 0, err
	}
	return el.inputArcsCount, nil
}

// Stat aggregates element counts across all segments.
func (s *Store) Stat() Stat {
	s.mu.RLock()
	segs := make([]*segment, len(s.segments))
	copy(segs, s.segments)
	s.mu.RUnlock()

	var st Stat
	for _, seg := range segs {
		seg.mu.Lock()
		seg.collectStat(&st)
		seg.mu.Unlock()
	}
	return st
}
