package store

// Access-level sentinel bits. The low bits of the access field hold the
// element's access levels; the two top bits mark lifecycle state.
//
// Slot 0 of every segment never holds an element: its access field is
// overloaded as the "next not-engaged segment" link and its type field as the
// "next released segment" link (see storage.go).
const (
	accessExists          uint32 = 1 << 30
	accessRequestDeletion uint32 = 1 << 31
	accessLevelsMask             = accessExists - 1
)

type elementFlags struct {
	typ    Type
	access uint32
}

// element is one fixed-size record inside a segment. Node, link and arc
// elements share the record; arc fields are zero for non-connectors.
//
// A released slot keeps its exists bit clear and its typ field overloaded as
// the next offset in the segment's free chain.
type element struct {
	flags elementFlags

	// Connector endpoints and incidence-list links, meaningful only while
	// the type carries an arc kind.
	begin      Addr
	end        Addr
	prevOutArc Addr
	nextOutArc Addr
	prevInArc  Addr
	nextInArc  Addr

	// Incidence-list heads and lengths, meaningful for every element.
	firstOutArc     Addr
	firstInArc      Addr
	outputArcsCount uint32
	inputArcsCount  uint32
}

func (e *element) exists() bool {
	return e.flags.access&accessExists != 0
}

func (e *element) deletionRequested() bool {
	return e.flags.access&accessRequestDeletion != 0
}

func (e *element) accessLevels() uint32 {
	return e.flags.access & accessLevelsMask
}
