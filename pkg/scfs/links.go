package scfs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

func contentKey(key uint64) []byte {
	out := make([]byte, 9)
	out[0] = prefixContent
	binary.BigEndian.PutUint64(out[1:], key)
	return out
}

func indexKey(payload []byte, key uint64) []byte {
	out := make([]byte, 1+len(payload)+8)
	out[0] = prefixIndex
	copy(out[1:], payload)
	binary.BigEndian.PutUint64(out[1+len(payload):], key)
	return out
}

// splitIndexKey recovers (payload, key) from an index key.
func splitIndexKey(k []byte) ([]byte, uint64) {
	body := k[1:]
	return body[:len(body)-8], binary.BigEndian.Uint64(body[len(body)-8:])
}

// LinkStringSet stores the payload for a link. When searchable, the payload
// joins the content index; replacing a payload removes the old index entry
// first.
func (m *Memory) LinkStringSet(key uint64, data []byte, searchable bool) error {
	if m.closed {
		return ErrClosed
	}
	return m.db.Update(func(txn *badger.Txn) error {
		if err := m.dropIndexEntry(txn, key); err != nil {
			return err
		}
		if err := txn.Set(contentKey(key), append([]byte(nil), data...)); err != nil {
			return err
		}
		if searchable {
			return txn.Set(indexKey(data, key), nil)
		}
		return nil
	})
}

// LinkStringGet returns the stored payload; a link that never had content
// yields an empty slice.
func (m *Memory) LinkStringGet(key uint64) ([]byte, error) {
	if m.closed {
		return nil, ErrClosed
	}
	var out []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(contentKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("scfs: get link string: %w", err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// LinkStringUnlink removes the payload and its index entry.
func (m *Memory) LinkStringUnlink(key uint64) error {
	if m.closed {
		return ErrClosed
	}
	return m.db.Update(func(txn *badger.Txn) error {
		if err := m.dropIndexEntry(txn, key); err != nil {
			return err
		}
		if err := txn.Delete(contentKey(key)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
}

// dropIndexEntry deletes the index entry of the link's current payload, if it
// was indexed.
func (m *Memory) dropIndexEntry(txn *badger.Txn, key uint64) error {
	item, err := txn.Get(contentKey(key))
	if err == badger.ErrKeyNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	old, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if err := txn.Delete(indexKey(old, key)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	return nil
}

// FindLinksByString returns the keys of links whose indexed payload equals
// data exactly.
func (m *Memory) FindLinksByString(data []byte) ([]uint64, error) {
	return m.scanIndex(func(payload []byte) bool {
		return bytes.Equal(payload, data)
	}, indexKey(data, 0)[:1+len(data)])
}

// FindLinksBySubstring returns the keys of links whose indexed payload
// contains data. When the search term is no longer than prefixLimit the scan
// narrows to a prefix walk, matching the persistence contract.
func (m *Memory) FindLinksBySubstring(data []byte, prefixLimit uint32) ([]uint64, error) {
	if uint32(len(data)) <= prefixLimit {
		return m.scanIndex(func(payload []byte) bool {
			return bytes.HasPrefix(payload, data)
		}, indexKey(data, 0)[:1+len(data)])
	}
	return m.scanIndex(func(payload []byte) bool {
		return bytes.Contains(payload, data)
	}, nil)
}

// FindStringsBySubstring is FindLinksBySubstring returning the payloads.
func (m *Memory) FindStringsBySubstring(data []byte, prefixLimit uint32) ([]string, error) {
	match := func(payload []byte) bool { return bytes.Contains(payload, data) }
	var prefix []byte
	if uint32(len(data)) <= prefixLimit {
		match = func(payload []byte) bool { return bytes.HasPrefix(payload, data) }
		prefix = indexKey(data, 0)[:1+len(data)]
	}

	var out []string
	seen := map[string]struct{}{}
	err := m.walkIndex(prefix, func(payload []byte, key uint64) {
		if !match(payload) {
			return
		}
		s := string(payload)
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	})
	return out, err
}

func (m *Memory) scanIndex(match func(payload []byte) bool, prefix []byte) ([]uint64, error) {
	var out []uint64
	err := m.walkIndex(prefix, func(payload []byte, key uint64) {
		if match(payload) {
			out = append(out, key)
		}
	})
	return out, err
}

// walkIndex iterates index entries, optionally narrowed by a key prefix. A
// nil prefix walks the whole index.
func (m *Memory) walkIndex(prefix []byte, fn func(payload []byte, key uint64)) error {
	if m.closed {
		return ErrClosed
	}
	if prefix == nil {
		prefix = []byte{prefixIndex}
	}
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if len(k) < 9 {
				continue
			}
			payload, key := splitIndexKey(k)
			fn(payload, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scfs: index scan: %w", err)
	}
	return nil
}
