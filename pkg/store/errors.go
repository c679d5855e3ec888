package store

import "errors"

// Sentinel errors returned by storage operations. Callers match with
// errors.Is; operations that fail on a read path leave state unchanged.
var (
	ErrAddrNotValid        = errors.New("store: address is not valid")
	ErrElementNotConnector = errors.New("store: element is not a connector")
	ErrElementNotLink      = errors.New("store: element is not a link")
	ErrInvalidType         = errors.New("store: invalid type change")
	ErrInvalidParams       = errors.New("store: invalid params")
	ErrIO                  = errors.New("store: io failure")
	ErrNoMemory            = errors.New("store: max segments count reached, memory is full")
	ErrNo                  = errors.New("store: operation refused")
)
