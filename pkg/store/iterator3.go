package store

// Iterator3 enumerates (source, connector, target) triples matching a
// three-slot template. Each slot is either a fixed address or a type mask,
// giving seven shapes (the all-mask shape is not iterable).
//
// Iteration is safe under concurrent mutation but not snapshotted: each
// candidate arc is examined under its read monitor, already-released
// addresses terminate the walk cleanly, and concurrently spliced arcs may or
// may not be observed.
type Iterator3 struct {
	s        *Store
	kind     iterKind
	params   [3]iterParam
	results  [3]Addr
	finished bool
}

type iterKind uint8

const (
	iterFAA iterKind = iota
	iterFAF
	iterAAF
	iterAFA
	iterFFA
	iterAFF
	iterFFF
)

type iterParam struct {
	isType bool
	addr   Addr
	typ    Type
}

func fixedParam(a Addr) iterParam { return iterParam{addr: a} }
func maskParam(t Type) iterParam  { return iterParam{isType: true, typ: t} }

// Iterator3FAA iterates the out-going connectors of src whose type matches
// arcMask and whose target's type matches trgMask.
func (s *Store) Iterator3FAA(src Addr, arcMask, trgMask Type) (*Iterator3, error) {
	return s.newIterator3(iterFAA, fixedParam(src), maskParam(arcMask), maskParam(trgMask))
}

// Iterator3FAF iterates the connectors from src to trg whose type matches
// arcMask.
func (s *Store) Iterator3FAF(src Addr, arcMask Type, trg Addr) (*Iterator3, error) {
	return s.newIterator3(iterFAF, fixedParam(src), maskParam(arcMask), fixedParam(trg))
}

// Iterator3AAF iterates the in-coming connectors of trg whose type matches
// arcMask and whose source's type matches srcMask.
func (s *Store) Iterator3AAF(srcMask, arcMask Type, trg Addr) (*Iterator3, error) {
	return s.newIterator3(iterAAF, maskParam(srcMask), maskParam(arcMask), fixedParam(trg))
}

// Iterator3AFA yields the single triple around the fixed connector.
func (s *Store) Iterator3AFA(srcMask Type, arc Addr, trgMask Type) (*Iterator3, error) {
	return s.newIterator3(iterAFA, maskParam(srcMask), fixedParam(arc), maskParam(trgMask))
}

// Iterator3FFA yields the triple around the fixed connector when its source
// is src.
func (s *Store) Iterator3FFA(src, arc Addr, trgMask Type) (*Iterator3, error) {
	return s.newIterator3(iterFFA, fixedParam(src), fixedParam(arc), maskParam(trgMask))
}

// Iterator3AFF yields the triple around the fixed connector when its target
// is trg.
func (s *Store) Iterator3AFF(srcMask Type, arc, trg Addr) (*Iterator3, error) {
	return s.newIterator3(iterAFF, maskParam(srcMask), fixedParam(arc), fixedParam(trg))
}

// Iterator3FFF yields the triple around the fixed connector when both
// endpoints match.
func (s *Store) Iterator3FFF(src, arc, trg Addr) (*Iterator3, error) {
	return s.newIterator3(iterFFF, fixedParam(src), fixedParam(arc), fixedParam(trg))
}

// newIterator3 validates the shape against its parameters and verifies every
// fixed address resolves to an existing element.
func (s *Store) newIterator3(kind iterKind, p1, p2, p3 iterParam) (*Iterator3, error) {
	for _, p := range [3]iterParam{p1, p2, p3} {
		if !p.isType {
			if p.addr.IsEmpty() {
				return nil, ErrInvalidParams
			}
			if !s.IsElement(p.addr) {
				return nil, ErrAddrNotValid
			}
		}
	}
	return &Iterator3{s: s, kind: kind, params: [3]iterParam{p1, p2, p3}}, nil
}

// Next advances to the next matching triple. It returns false and zeroes the
// results once the template is exhausted.
func (it *Iterator3) Next() bool {
	if it == nil || it.finished {
		return false
	}
	var ok bool
	switch it.kind {
	case iterFAA:
		ok = it.nextFAA()
	case iterFAF:
		ok = it.nextFAF()
	case iterAAF:
		ok = it.nextAAF()
	default:
		ok = it.nextFixedArc()
	}
	if !ok {
		it.results = [3]Addr{}
	}
	return ok
}

// Source returns the source slot of the last yielded triple.
func (it *Iterator3) Source() Addr { return it.results[0] }

// Connector returns the connector slot of the last yielded triple.
func (it *Iterator3) Connector() Addr { return it.results[1] }

// Target returns the target slot of the last yielded triple.
func (it *Iterator3) Target() Addr { return it.results[2] }

// Value returns one result slot by position.
func (it *Iterator3) Value(i int) Addr {
	if i < 0 || i > 2 {
		return AddrEmpty
	}
	return it.results[i]
}

// firstOrResume reads the first candidate off the pivot's incidence list, or
// resumes from the cursor arc left in results[1].
func (it *Iterator3) firstOrResume(pivot Addr, out bool) (Addr, bool) {
	s := it.s
	if it.results[1].IsEmpty() {
		held := s.monitors.acquireRead(s.monitors.indexFor(pivot))
		el, err := s.getByAddr(pivot)
		var first Addr
		if err == nil {
			if out {
				first = el.firstOutArc
			} else {
				first = el.firstInArc
			}
		}
		s.monitors.releaseRead(held)
		return first, err == nil
	}

	cursor := it.results[1]
	held := s.monitors.acquireRead(s.monitors.indexFor(cursor))
	el, err := s.getByAddr(cursor)
	var next Addr
	if err == nil {
		next = nextInChain(el, out)
	}
	s.monitors.releaseRead(held)
	return next, err == nil
}

// candidate is one arc observed under its read monitor.
type candidate struct {
	typ   Type
	begin Addr
	end   Addr
	next  Addr
	skip  bool // deletion requested; advance past it
}

func (it *Iterator3) readCandidate(a Addr, out bool) (candidate, bool) {
	s := it.s
	held := s.monitors.acquireRead(s.monitors.indexFor(a))
	defer s.monitors.releaseRead(held)

	el, err := s.getByAddr(a)
	if err != nil {
		return candidate{}, false
	}
	c := candidate{
		typ:   el.flags.typ,
		begin: el.begin,
		end:   el.end,
		next:  nextInChain(el, out),
		skip:  el.deletionRequested(),
	}
	return c, true
}

// otherEndpoint resolves the endpoint opposite to the pivot. For undirected
// edges the opposite endpoint is whichever of begin/end is not the pivot.
func (c candidate) otherEndpoint(pivot Addr, out bool) Addr {
	if c.typ.IsEdge() {
		if c.begin == pivot {
			return c.end
		}
		return c.begin
	}
	if out {
		return c.end
	}
	return c.begin
}

func (it *Iterator3) nextFAA() bool {
	pivot := it.params[0].addr
	it.results[0] = pivot

	arcAddr, ok := it.firstOrResume(pivot, true)
	if !ok {
		it.finished = true
		return false
	}

	for !arcAddr.IsEmpty() {
		c, ok := it.readCandidate(arcAddr, true)
		if !ok {
			break
		}
		if !c.skip {
			target := c.otherEndpoint(pivot, true)
			targetType, err := it.s.GetType(target)
			if err == nil && c.typ.Matches(it.params[1].typ) && targetType.Matches(it.params[2].typ) {
				it.results[1] = arcAddr
				it.results[2] = target
				return true
			}
		}
		arcAddr = c.next
	}

	it.finished = true
	return false
}

func (it *Iterator3) nextFAF() bool {
	src := it.params[0].addr
	trg := it.params[2].addr
	it.results[0] = src
	it.results[2] = trg

	arcAddr, ok := it.firstOrResume(trg, false)
	if !ok {
		it.finished = true
		return false
	}

	for !arcAddr.IsEmpty() {
		c, ok := it.readCandidate(arcAddr, false)
		if !ok {
			break
		}
		if !c.skip {
			source := c.otherEndpoint(trg, false)
			if source == src && c.typ.Matches(it.params[1].typ) {
				it.results[1] = arcAddr
				return true
			}
		}
		arcAddr = c.next
	}

	it.finished = true
	return false
}

func (it *Iterator3) nextAAF() bool {
	pivot := it.params[2].addr
	it.results[2] = pivot

	arcAddr, ok := it.firstOrResume(pivot, false)
	if !ok {
		it.finished = true
		return false
	}

	for !arcAddr.IsEmpty() {
		c, ok := it.readCandidate(arcAddr, false)
		if !ok {
			break
		}
		if !c.skip {
			source := c.otherEndpoint(pivot, false)
			sourceType, err := it.s.GetType(source)
			if err == nil && c.typ.Matches(it.params[1].typ) && sourceType.Matches(it.params[0].typ) {
				it.results[1] = arcAddr
				it.results[0] = source
				return true
			}
		}
		arcAddr = c.next
	}

	it.finished = true
	return false
}

// nextFixedArc handles the four single-shot shapes: the connector is fixed,
// so at most one triple can match.
func (it *Iterator3) nextFixedArc() bool {
	it.finished = true

	s := it.s
	arc := it.params[1].addr

	held := s.monitors.acquireRead(s.monitors.indexFor(arc))
	el, err := s.getByAddr(arc)
	if err != nil {
		s.monitors.releaseRead(held)
		return false
	}
	typ := el.flags.typ
	begin := el.begin
	end := el.end
	s.monitors.releaseRead(held)

	if typ&TypeArcMask == 0 {
		return false
	}

	srcOK := func(src Addr) bool {
		return begin == src || (typ.IsEdge() && end == src)
	}
	trgOK := func(trg Addr) bool {
		return end == trg || (typ.IsEdge() && begin == trg)
	}

	resSrc, resTrg := begin, end
	switch it.kind {
	case iterFFA:
		src := it.params[0].addr
		if !srcOK(src) {
			return false
		}
		if typ.IsEdge() && begin != src {
			resSrc, resTrg = end, begin
		}
	case iterAFF:
		trg := it.params[2].addr
		if !trgOK(trg) {
			return false
		}
		if typ.IsEdge() && end != trg {
			resSrc, resTrg = end, begin
		}
	case iterFFF:
		src, trg := it.params[0].addr, it.params[2].addr
		if begin == src && end == trg {
			break
		}
		if typ.IsEdge() && begin == trg && end == src {
			resSrc, resTrg = end, begin
			break
		}
		return false
	}

	// Endpoint slots given as masks must match the endpoint types.
	for i, a := range [3]Addr{resSrc, arc, resTrg} {
		if !it.params[i].isType {
			continue
		}
		t, err := s.GetType(a)
		if err != nil || !t.Matches(it.params[i].typ) {
			return false
		}
	}

	it.results[0] = resSrc
	it.results[1] = arc
	it.results[2] = resTrg
	return true
}
