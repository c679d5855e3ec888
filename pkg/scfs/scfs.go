// Package scfs is the filesystem collaborator of the sc-memory: it persists
// the segmented image as a checksummed file and keeps link payloads with
// their search index in BadgerDB.
//
// Key layout in badger (single-byte prefixes):
//   - 0x01 + key(8B)             -> payload bytes
//   - 0x02 + payload + key(8B)   -> nil   (search index, searchable links only)
//
// The fixed-width key suffix makes the index self-describing: the payload is
// everything between the prefix and the last eight bytes.
package scfs

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixContent byte = 0x01
	prefixIndex   byte = 0x02
)

// Image file framing: magic, format version, payload, crc32 trailer.
var imageMagic = [4]byte{'s', 'c', 'i', 'm'}

const imageVersion uint32 = 1

const imageFileName = "segments.img"

// Common errors.
var (
	ErrClosed    = errors.New("scfs: closed")
	ErrCorrupted = errors.New("scfs: corrupted image")
	ErrNoImage   = errors.New("scfs: no saved image")
)

// Image is the serializable view of the segmented store. *store.Store
// satisfies it.
type Image interface {
	WriteImage(w io.Writer) error
	ReadImage(r io.Reader) error
}

// Memory is the persistence layer rooted at a repository path.
type Memory struct {
	repoPath string
	db       *badger.DB
	closed   bool
}

// New opens (or creates) the repository. The badger content store lives under
// repoPath/content; the segmented image is a single file next to it.
func New(repoPath string) (*Memory, error) {
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return nil, fmt.Errorf("scfs: create repo: %w", err)
	}
	opts := badger.DefaultOptions(filepath.Join(repoPath, "content"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("scfs: open content store: %w", err)
	}
	return &Memory{repoPath: repoPath, db: db}, nil
}

// Shutdown closes the content store.
func (m *Memory) Shutdown() error {
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return m.db.Close()
}

// Clear drops all stored link content. Used when initializing with a clean
// image.
func (m *Memory) Clear() error {
	if m.closed {
		return ErrClosed
	}
	if err := m.db.DropAll(); err != nil {
		return fmt.Errorf("scfs: clear content store: %w", err)
	}
	if err := os.Remove(m.imagePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scfs: clear image: %w", err)
	}
	return nil
}

// RunGC runs one badger value-log GC cycle. Called periodically by the
// runtime; a no-rewrite result is not an error.
func (m *Memory) RunGC() {
	if m.closed {
		return
	}
	if err := m.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		log.Printf("[scfs] value log gc: %v", err)
	}
}

func (m *Memory) imagePath() string {
	return filepath.Join(m.repoPath, imageFileName)
}

// Save writes the whole segmented image to a temp file and atomically renames
// it over the previous one.
func (m *Memory) Save(img Image) error {
	if m.closed {
		return ErrClosed
	}

	tmp, err := os.CreateTemp(m.repoPath, "segments-*.tmp")
	if err != nil {
		return fmt.Errorf("scfs: save image: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	crc := crc32.NewIEEE()
	w := bufio.NewWriter(io.MultiWriter(tmp, crc))

	var hdr [8]byte
	copy(hdr[:4], imageMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:], imageVersion)
	if _, err := w.Write(hdr[:]); err != nil {
		tmp.Close()
		return fmt.Errorf("scfs: save image: %w", err)
	}
	if err := img.WriteImage(w); err != nil {
		tmp.Close()
		return fmt.Errorf("scfs: save image: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("scfs: save image: %w", err)
	}

	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], crc.Sum32())
	if _, err := tmp.Write(trailer[:]); err != nil {
		tmp.Close()
		return fmt.Errorf("scfs: save image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("scfs: save image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("scfs: save image: %w", err)
	}
	if err := os.Rename(tmpName, m.imagePath()); err != nil {
		return fmt.Errorf("scfs: save image: %w", err)
	}
	return nil
}

// Load reads the saved segmented image into img. ErrNoImage means a fresh
// repository.
func (m *Memory) Load(img Image) error {
	if m.closed {
		return ErrClosed
	}

	raw, err := os.ReadFile(m.imagePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoImage
		}
		return fmt.Errorf("scfs: load image: %w", err)
	}
	if len(raw) < 12 || !bytes.Equal(raw[:4], imageMagic[:]) {
		return ErrCorrupted
	}
	if v := binary.LittleEndian.Uint32(raw[4:8]); v != imageVersion {
		return fmt.Errorf("%w: unsupported image version %d", ErrCorrupted, v)
	}

	payload := raw[:len(raw)-4]
	want := binary.LittleEndian.Uint32(raw[len(raw)-4:])
	if crc32.ChecksumIEEE(payload) != want {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}

	if err := img.ReadImage(bytes.NewReader(payload[8:])); err != nil {
		return fmt.Errorf("scfs: load image: %w", err)
	}
	return nil
}
