package store

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Addr is a stable handle to one element slot: a 1-based segment number and a
// 1-based offset inside that segment. The zero value is the empty address.
//
// Addresses are never rewritten for a living element. A freed slot may later
// be handed out again under the same Addr, which is safe because freed
// addresses must not be held by any caller.
type Addr struct {
	Seg    uint32
	Offset uint32
}

// AddrEmpty is the empty address (segment 0).
var AddrEmpty = Addr{}

// IsEmpty reports whether a is the empty address.
func (a Addr) IsEmpty() bool { return a.Seg == 0 }

// Key packs the address into a single integer. It is used as the link-content
// hash handed to the filesystem collaborator and as the subscription table key
// in the event bus.
func (a Addr) Key() uint64 { return uint64(a.Seg)<<32 | uint64(a.Offset) }

// AddrFromKey is the inverse of Key.
func AddrFromKey(k uint64) Addr {
	return Addr{Seg: uint32(k >> 32), Offset: uint32(k)}
}

// Hash mixes the address for monitor-table selection. Collisions are fine:
// two addresses sharing a monitor is a performance concern, never a
// correctness one.
func (a Addr) Hash() uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], a.Seg)
	binary.LittleEndian.PutUint32(buf[4:], a.Offset)
	return xxhash.Sum64(buf[:])
}

func (a Addr) String() string {
	if a.IsEmpty() {
		return "addr(empty)"
	}
	return fmt.Sprintf("addr(%d:%d)", a.Seg, a.Offset)
}
