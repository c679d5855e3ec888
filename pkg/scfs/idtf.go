package scfs

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// System identifier bindings live next to the link content:
//   - 0x03 + name -> key(8B)
const prefixIdtf byte = 0x03

func idtfKey(name string) []byte {
	out := make([]byte, 1+len(name))
	out[0] = prefixIdtf
	copy(out[1:], name)
	return out
}

// SystemIdtfSet binds a system identifier to an element key.
func (m *Memory) SystemIdtfSet(name string, key uint64) error {
	if m.closed {
		return ErrClosed
	}
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], key)
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(idtfKey(name), val[:])
	})
	if err != nil {
		return fmt.Errorf("scfs: set identifier: %w", err)
	}
	return nil
}

// SystemIdtfDelete removes a binding.
func (m *Memory) SystemIdtfDelete(name string) error {
	if m.closed {
		return ErrClosed
	}
	err := m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(idtfKey(name)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scfs: delete identifier: %w", err)
	}
	return nil
}

// SystemIdtfs loads all identifier bindings.
func (m *Memory) SystemIdtfs() (map[string]uint64, error) {
	if m.closed {
		return nil, ErrClosed
	}
	out := map[string]uint64{}
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixIdtf}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.KeyCopy(nil)[1:])
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(val) != 8 {
				continue
			}
			out[name] = binary.BigEndian.Uint64(val)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scfs: load identifiers: %w", err)
	}
	return out, nil
}
