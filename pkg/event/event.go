// Package event implements the sc-memory event bus: subscriptions keyed by
// element address and an emission manager that fans notifications out to a
// bounded worker pool.
//
// The storage core emits through the store.EventSink interface; everything
// else (registration, queueing, callback dispatch, teardown of subscriptions
// whose element was deleted) lives here.
package event

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/store"
)

// Callback receives one delivered event. edge is the connector involved (or
// empty) and other the opposite element of the mutation.
type Callback func(sub *Subscription, edge, other store.Addr)

// DeleteCallback runs once when a subscription is destroyed.
type DeleteCallback func(sub *Subscription)

// Subscription is one registered listener on an element address.
type Subscription struct {
	id      string
	element store.Addr
	typ     store.EventType
	data    any

	mu       sync.Mutex
	callback Callback
	deleteCb DeleteCallback
	dead     bool
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() string { return s.id }

// Element returns the subscribed element address.
func (s *Subscription) Element() store.Addr { return s.element }

// Data returns the caller payload attached at subscription time.
func (s *Subscription) Data() any { return s.data }

type emission struct {
	sub   *Subscription
	edge  store.Addr
	other store.Addr
}

// Bus registers subscriptions and dispatches emissions. It implements
// store.EventSink.
type Bus struct {
	regMu sync.RWMutex
	reg   map[uint64][]*Subscription

	queue   chan emission
	wg      sync.WaitGroup
	stopped chan struct{}

	// Contexts with pending mode on buffer their emissions until flushed.
	pendMu  sync.Mutex
	pending map[uint64][]pendingEmission
}

type pendingEmission struct {
	el     store.Addr
	access uint32
	typ    store.EventType
	edge   store.Addr
	other  store.Addr
}

// NewBus starts a bus with the given number of dispatch workers.
func NewBus(workers int) *Bus {
	if workers <= 0 {
		workers = 1
	}
	b := &Bus{
		reg:     make(map[uint64][]*Subscription),
		queue:   make(chan emission, 1024),
		stopped: make(chan struct{}),
		pending: make(map[uint64][]pendingEmission),
	}
	b.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case em := <-b.queue:
			em.sub.mu.Lock()
			cb := em.sub.callback
			dead := em.sub.dead
			em.sub.mu.Unlock()
			if dead || cb == nil {
				continue
			}
			cb(em.sub, em.edge, em.other)
		case <-b.stopped:
			return
		}
	}
}

// Stop halts the workers. Queued and later emissions are dropped.
func (b *Bus) Stop() {
	select {
	case <-b.stopped:
		return
	default:
	}
	close(b.stopped)
	b.wg.Wait()
}

// Subscribe registers a listener for events of the given type on el.
func (b *Bus) Subscribe(el store.Addr, typ store.EventType, data any, cb Callback, delCb DeleteCallback) (*Subscription, error) {
	if el.IsEmpty() || cb == nil {
		return nil, store.ErrInvalidParams
	}
	sub := &Subscription{
		id:       uuid.NewString(),
		element:  el,
		typ:      typ,
		data:     data,
		callback: cb,
		deleteCb: delCb,
	}
	b.regMu.Lock()
	b.reg[el.Key()] = append(b.reg[el.Key()], sub)
	b.regMu.Unlock()
	return sub, nil
}

// Unsubscribe removes the subscription and runs its delete callback.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return store.ErrInvalidParams
	}

	b.regMu.Lock()
	key := sub.element.Key()
	subs := b.reg[key]
	found := false
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			found = true
			break
		}
	}
	if len(subs) == 0 {
		delete(b.reg, key)
	} else {
		b.reg[key] = subs
	}
	b.regMu.Unlock()

	if !found {
		return store.ErrNo
	}
	b.retire(sub)
	return nil
}

func (b *Bus) retire(sub *Subscription) {
	sub.mu.Lock()
	dead := sub.dead
	sub.dead = true
	delCb := sub.deleteCb
	sub.callback = nil
	sub.deleteCb = nil
	sub.mu.Unlock()

	if !dead && delCb != nil {
		delCb(sub)
	}
}

// BeginPending turns on deferred emission for the process: subsequent Emit
// calls buffer until EndPending.
func (b *Bus) BeginPending(pid uint64) {
	b.pendMu.Lock()
	if _, on := b.pending[pid]; !on {
		b.pending[pid] = []pendingEmission{}
	}
	b.pendMu.Unlock()
}

// EndPending flushes the process's buffered emissions in order and turns
// deferred mode off.
func (b *Bus) EndPending(pid uint64) {
	b.pendMu.Lock()
	buffered := b.pending[pid]
	delete(b.pending, pid)
	b.pendMu.Unlock()

	for _, p := range buffered {
		b.emit(p.el, p.typ, p.edge, p.other)
	}
}

// Emit implements store.EventSink. Emissions from a process in pending mode
// are buffered; everything else dispatches to the matching subscriptions.
func (b *Bus) Emit(pid uint64, el store.Addr, accessLevels uint32, typ store.EventType, edge, other store.Addr) {
	if el.IsEmpty() {
		return
	}

	b.pendMu.Lock()
	if buf, on := b.pending[pid]; on {
		b.pending[pid] = append(buf, pendingEmission{el: el, access: accessLevels, typ: typ, edge: edge, other: other})
		b.pendMu.Unlock()
		return
	}
	b.pendMu.Unlock()

	b.emit(el, typ, edge, other)
}

func (b *Bus) emit(el store.Addr, typ store.EventType, edge, other store.Addr) {
	b.regMu.RLock()
	subs := b.reg[el.Key()]
	matched := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.typ == typ {
			matched = append(matched, sub)
		}
	}
	b.regMu.RUnlock()

	for _, sub := range matched {
		select {
		case b.queue <- emission{sub: sub, edge: edge, other: other}:
		case <-b.stopped:
			return
		}
	}
}

// NotifyElementDeleted implements store.EventSink: it reaps every
// subscription on the deleted address.
func (b *Bus) NotifyElementDeleted(el store.Addr) {
	b.regMu.Lock()
	subs := b.reg[el.Key()]
	delete(b.reg, el.Key())
	b.regMu.Unlock()

	if len(subs) > 0 {
		log.Printf("[event] element %v deleted, reaping %d subscription(s)", el, len(subs))
	}
	for _, sub := range subs {
		b.retire(sub)
	}
}
