package memory

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/event"
	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/store"
)

// Context is a process handle on the memory: it pins the allocation fast
// path to one logical client and carries the pending-events state. Contexts
// are cheap; one per worker goroutine is the intended grain.
type Context struct {
	m   *Memory
	pid uint64
}

// NewContext opens a process context. Close returns its allocation segment
// to the shared pool.
func (m *Memory) NewContext() *Context {
	u := uuid.New()
	pid := binary.BigEndian.Uint64(u[:8])
	m.store.BeginProcess(pid)
	return &Context{m: m, pid: pid}
}

// Close releases the context's allocation segment.
func (c *Context) Close() {
	c.m.store.EndProcess(c.pid)
}

// CreateNode creates a node element of the given subtype.
func (c *Context) CreateNode(t store.Type) (store.Addr, error) {
	return c.m.store.NodeNew(c.pid, t)
}

// CreateLink creates a link element.
func (c *Context) CreateLink(t store.Type) (store.Addr, error) {
	return c.m.store.LinkNew(c.pid, t)
}

// CreateArc creates a connector from beg to end.
func (c *Context) CreateArc(t store.Type, beg, end store.Addr) (store.Addr, error) {
	return c.m.store.ArcNew(c.pid, t, beg, end)
}

// Erase deletes the element and cascades through every incident connector.
func (c *Context) Erase(a store.Addr) error {
	return c.m.store.EraseElement(c.pid, a)
}

// IsElement reports whether a resolves to an existing element.
func (c *Context) IsElement(a store.Addr) bool { return c.m.store.IsElement(a) }

// GetType returns the element's type code.
func (c *Context) GetType(a store.Addr) (store.Type, error) { return c.m.store.GetType(a) }

// ChangeSubtype rewrites the element's subtype bits; the element kind is
// immutable.
func (c *Context) ChangeSubtype(a store.Addr, t store.Type) error {
	return c.m.store.ChangeSubtype(a, t)
}

// ArcBegin returns a connector's source endpoint.
func (c *Context) ArcBegin(a store.Addr) (store.Addr, error) { return c.m.store.ArcBegin(a) }

// ArcEnd returns a connector's target endpoint.
func (c *Context) ArcEnd(a store.Addr) (store.Addr, error) { return c.m.store.ArcEnd(a) }

// ArcInfo returns both endpoints of a connector.
func (c *Context) ArcInfo(a store.Addr) (beg, end store.Addr, err error) {
	return c.m.store.ArcInfo(a)
}

// OutputArcsCount returns the element's out-incidence list length.
func (c *Context) OutputArcsCount(a store.Addr) (uint32, error) {
	return c.m.store.OutputArcsCount(a)
}

// InputArcsCount returns the element's in-incidence list length.
func (c *Context) InputArcsCount(a store.Addr) (uint32, error) {
	return c.m.store.InputArcsCount(a)
}

// SetLinkContent stores a link's payload.
func (c *Context) SetLinkContent(a store.Addr, data []byte, searchable bool) error {
	return c.m.store.SetLinkContent(c.pid, a, data, searchable)
}

// GetLinkContent fetches a link's payload.
func (c *Context) GetLinkContent(a store.Addr) ([]byte, error) {
	return c.m.store.LinkContent(a)
}

// FindLinksByContent returns links whose payload equals data.
func (c *Context) FindLinksByContent(data []byte) ([]store.Addr, error) {
	return c.m.store.FindLinksByContent(data)
}

// FindLinksBySubstring returns links whose payload contains data. A search
// term no longer than prefixLimit matches payload prefixes only.
func (c *Context) FindLinksBySubstring(data []byte, prefixLimit uint32) ([]store.Addr, error) {
	return c.m.store.FindLinksBySubstring(data, prefixLimit)
}

// FindLinkContentsBySubstring returns the matching payloads.
func (c *Context) FindLinkContentsBySubstring(data []byte, prefixLimit uint32) ([]string, error) {
	return c.m.store.FindLinkContentsBySubstring(data, prefixLimit)
}

// Iterator3FAA iterates out-going connectors of src by arc and target mask.
func (c *Context) Iterator3FAA(src store.Addr, arcMask, trgMask store.Type) (*store.Iterator3, error) {
	return c.m.store.Iterator3FAA(src, arcMask, trgMask)
}

// Iterator3FAF iterates connectors between two fixed elements.
func (c *Context) Iterator3FAF(src store.Addr, arcMask store.Type, trg store.Addr) (*store.Iterator3, error) {
	return c.m.store.Iterator3FAF(src, arcMask, trg)
}

// Iterator3AAF iterates in-coming connectors of trg by source and arc mask.
func (c *Context) Iterator3AAF(srcMask, arcMask store.Type, trg store.Addr) (*store.Iterator3, error) {
	return c.m.store.Iterator3AAF(srcMask, arcMask, trg)
}

// Iterator3AFA yields the triple around a fixed connector.
func (c *Context) Iterator3AFA(srcMask store.Type, arc store.Addr, trgMask store.Type) (*store.Iterator3, error) {
	return c.m.store.Iterator3AFA(srcMask, arc, trgMask)
}

// Iterator3FFA yields the triple around a fixed connector with fixed source.
func (c *Context) Iterator3FFA(src, arc store.Addr, trgMask store.Type) (*store.Iterator3, error) {
	return c.m.store.Iterator3FFA(src, arc, trgMask)
}

// Iterator3AFF yields the triple around a fixed connector with fixed target.
func (c *Context) Iterator3AFF(srcMask store.Type, arc, trg store.Addr) (*store.Iterator3, error) {
	return c.m.store.Iterator3AFF(srcMask, arc, trg)
}

// Iterator3FFF yields the triple around a fixed connector with both
// endpoints fixed.
func (c *Context) Iterator3FFF(src, arc, trg store.Addr) (*store.Iterator3, error) {
	return c.m.store.Iterator3FFF(src, arc, trg)
}

// Subscribe registers an event listener on an element.
func (c *Context) Subscribe(el store.Addr, typ store.EventType, data any, cb event.Callback, delCb event.DeleteCallback) (*event.Subscription, error) {
	return c.m.bus.Subscribe(el, typ, data, cb, delCb)
}

// Unsubscribe destroys a subscription.
func (c *Context) Unsubscribe(sub *event.Subscription) error {
	return c.m.bus.Unsubscribe(sub)
}

// BeginPendingEvents defers this context's event emissions until
// EndPendingEvents flushes them in order.
func (c *Context) BeginPendingEvents() { c.m.bus.BeginPending(c.pid) }

// EndPendingEvents flushes the deferred emissions.
func (c *Context) EndPendingEvents() { c.m.bus.EndPending(c.pid) }
