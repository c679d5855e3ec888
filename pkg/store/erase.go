package store

import "log"

// EraseElement deletes the element at root together with every arc that
// transitively touches it. Deleting a node cascades into each arc incident
// to it, and those arcs are elements with incidence lists of their own, so
// the reachability pass runs to a fixed point (arcs on arcs are reachable at
// any depth).
//
// The cascade is best-effort: an arc that cannot be processed is logged and
// skipped, which still preserves the no-dangling-reference invariant for
// every arc that was processed.
func (s *Store) EraseElement(pid uint64, root Addr) error {
	if _, err := s.getByAddr(root); err != nil {
		return err
	}

	removeQueue := s.collectIncident(root)

	for _, addr := range removeQueue {
		s.eraseOne(pid, addr)
	}
	return nil
}

// collectIncident runs a BFS from root through the incidence chains and
// returns, in BFS order, every element whose deletion the cascade requires.
// Each step holds the read monitor of the element whose chains it walks.
func (s *Store) collectIncident(root Addr) []Addr {
	visited := map[Addr]struct{}{root: {}}
	iterQueue := []Addr{root}
	removeQueue := []Addr{root}

	for len(iterQueue) > 0 {
		cur := iterQueue[0]
		iterQueue = iterQueue[1:]

		el, err := s.getByAddr(cur)
		if err != nil {
			continue
		}

		held := s.monitors.acquireRead(s.monitors.indexFor(cur))

		for _, chain := range [2]struct {
			head Addr
			out  bool
		}{{el.firstOutArc, true}, {el.firstInArc, false}} {
			a := chain.head
			for !a.IsEmpty() {
				if _, seen := visited[a]; seen {
					// Already queued; still follow its link to reach the
					// rest of the chain.
					arcEl, err := s.getByAddr(a)
					if err != nil {
						break
					}
					a = nextInChain(arcEl, chain.out)
					continue
				}
				arcEl, err := s.getByAddr(a)
				if err != nil {
					break
				}
				visited[a] = struct{}{}
				removeQueue = append(removeQueue, a)
				iterQueue = append(iterQueue, a)
				a = nextInChain(arcEl, chain.out)
			}
		}

		s.monitors.releaseRead(held)
	}
	return removeQueue
}

func nextInChain(el *element, out bool) Addr {
	if out {
		return el.nextOutArc
	}
	return el.nextInArc
}

// eraseOne unlinks one queued element and releases its slot. Elements whose
// deletion-requested bit is already set are skipped, which makes concurrent
// cascades over shared arcs idempotent.
func (s *Store) eraseOne(pid uint64, addr Addr) {
	monIdx := s.monitors.indexFor(addr)

	held := s.monitors.acquireWrite(monIdx)
	el, err := s.getByAddr(addr)
	if err != nil || el.deletionRequested() {
		s.monitors.releaseWrite(held)
		return
	}
	el.flags.access |= accessRequestDeletion
	typ := el.flags.typ
	access := el.accessLevels()
	s.monitors.releaseWrite(held)

	switch {
	case typ&TypeLink != 0:
		if s.links != nil {
			if err := s.links.LinkStringUnlink(addr.Key()); err != nil {
				log.Printf("[store] unlink content of %v: %v", addr, err)
			}
		}
	case typ&TypeArcMask != 0:
		s.unlinkArc(pid, addr, el, typ)
	}

	held = s.monitors.acquireWrite(monIdx)
	s.events.Emit(pid, addr, access, EventRemoveElement, AddrEmpty, AddrEmpty)
	if err := s.freeElement(addr); err != nil {
		log.Printf("[store] free %v: %v", addr, err)
	}
	s.monitors.releaseWrite(held)

	s.events.NotifyElementDeleted(addr)
}

// unlinkArc splices the arc out of its endpoints' incidence lists and emits
// the removal events. Monitors for the endpoints are taken first; the
// neighbor-arc monitors are added only when they are distinct monitors.
func (s *Store) unlinkArc(pid uint64, addr Addr, el *element, typ Type) {
	isEdge := typ.IsEdge()

	begAddr := el.begin
	endAddr := el.end
	isNotLoop := begAddr != endAddr

	begIdx := s.monitors.indexFor(begAddr)
	endIdx := s.monitors.indexFor(endAddr)
	endpointHeld := s.monitors.acquireWrite(begIdx, endIdx)

	prevOut := el.prevOutArc
	nextOut := el.nextOutArc
	prevIn := el.prevInArc
	nextIn := el.nextInArc

	// Deduplicate by monitor identity: neighbors sharing an endpoint's
	// monitor are already covered.
	neighborIdx := func(a Addr) uint32 {
		if a.IsEmpty() {
			return noMonitor
		}
		idx := s.monitors.indexFor(a)
		if idx == begIdx || idx == endIdx {
			return noMonitor
		}
		return idx
	}
	neighborHeld := s.monitors.acquireWrite(
		neighborIdx(prevOut), neighborIdx(nextOut), neighborIdx(prevIn), neighborIdx(nextIn))

	if pe, err := s.getByAddr(prevOut); err == nil && !prevOut.IsEmpty() {
		pe.nextOutArc = nextOut
	}
	if ne, err := s.getByAddr(nextOut); err == nil && !nextOut.IsEmpty() {
		ne.prevOutArc = prevOut
	}

	if begEl, err := s.getByAddr(begAddr); err == nil {
		if begEl.firstOutArc == addr {
			begEl.firstOutArc = nextOut
		}
		begEl.outputArcsCount--
		if isEdge && isNotLoop {
			if begEl.firstInArc == addr {
				begEl.firstInArc = nextIn
			}
			begEl.inputArcsCount--
		}
	}

	s.events.Emit(pid, begAddr, el.accessLevels(), EventRemoveOutputArc, addr, endAddr)

	if pe, err := s.getByAddr(prevIn); err == nil && !prevIn.IsEmpty() {
		pe.nextInArc = nextIn
	}
	if ne, err := s.getByAddr(nextIn); err == nil && !nextIn.IsEmpty() {
		ne.prevInArc = prevIn
	}

	if endEl, err := s.getByAddr(endAddr); err == nil {
		if endEl.firstInArc == addr {
			endEl.firstInArc = nextIn
		}
		endEl.inputArcsCount--
		if isEdge && isNotLoop {
			if endEl.firstOutArc == addr {
				endEl.firstOutArc = nextOut
			}
			endEl.outputArcsCount--
		}
	}

	s.events.Emit(pid, endAddr, el.accessLevels(), EventRemoveInputArc, addr, begAddr)

	s.monitors.releaseWrite(neighborHeld)
	s.monitors.releaseWrite(endpointHeld)
}
