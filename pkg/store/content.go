package store

import "fmt"

// SetLinkContent stores the link's payload through the filesystem
// collaborator and emits EventContentChanged. searchable controls whether the
// payload joins the content search index.
func (s *Store) SetLinkContent(pid uint64, a Addr, data []byte, searchable bool) error {
	if s.links == nil {
		return ErrIO
	}

	held := s.monitors.acquireWrite(s.monitors.indexFor(a))
	defer s.monitors.releaseWrite(held)

	el, err := s.getByAddr(a)
	if err != nil {
		return err
	}
	if el.flags.typ&TypeLink == 0 {
		return ErrElementNotLink
	}
	if err := s.links.LinkStringSet(a.Key(), data, searchable); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.events.Emit(pid, a, el.accessLevels(), EventContentChanged, AddrEmpty, AddrEmpty)
	return nil
}

// LinkContent fetches the link's payload from the filesystem collaborator.
// A link with no stored payload yields an empty slice.
func (s *Store) LinkContent(a Addr) ([]byte, error) {
	if s.links == nil {
		return nil, ErrIO
	}

	held := s.monitors.acquireRead(s.monitors.indexFor(a))
	defer s.monitors.releaseRead(held)

	el, err := s.getByAddr(a)
	if err != nil {
		return nil, err
	}
	if el.flags.typ&TypeLink == 0 {
		return nil, ErrElementNotLink
	}
	data, err := s.links.LinkStringGet(a.Key())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return data, nil
}

// FindLinksByContent returns the addresses of links whose payload equals
// data exactly.
func (s *Store) FindLinksByContent(data []byte) ([]Addr, error) {
	if s.links == nil {
		return nil, ErrIO
	}
	keys, err := s.links.FindLinksByString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return keysToAddrs(keys), nil
}

// FindLinksBySubstring returns the addresses of links whose payload contains
// data. A search term no longer than prefixLimit matches payload prefixes
// only.
func (s *Store) FindLinksBySubstring(data []byte, prefixLimit uint32) ([]Addr, error) {
	if s.links == nil {
		return nil, ErrIO
	}
	keys, err := s.links.FindLinksBySubstring(data, prefixLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return keysToAddrs(keys), nil
}

// FindLinkContentsBySubstring returns the matching payloads themselves.
func (s *Store) FindLinkContentsBySubstring(data []byte, prefixLimit uint32) ([]string, error) {
	if s.links == nil {
		return nil, ErrIO
	}
	out, err := s.links.FindStringsBySubstring(data, prefixLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return out, nil
}

func keysToAddrs(keys []uint64) []Addr {
	addrs := make([]Addr, 0, len(keys))
	for _, k := range keys {
		addrs = append(addrs, AddrFromKey(k))
	}
	return addrs
}
