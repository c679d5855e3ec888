package scfs

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })
	return m
}

func TestLinkStrings_SetGetUnlink(t *testing.T) {
	m := newTestMemory(t)

	require.NoError(t, m.LinkStringSet(1, []byte("hello"), true))

	got, err := m.LinkStringGet(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	// Unknown keys yield empty content, not an error.
	got, err = m.LinkStringGet(999)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, m.LinkStringUnlink(1))
	got, err = m.LinkStringGet(1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLinkStrings_Replace(t *testing.T) {
	m := newTestMemory(t)

	require.NoError(t, m.LinkStringSet(1, []byte("old"), true))
	require.NoError(t, m.LinkStringSet(1, []byte("new"), true))

	// The old index entry is gone with the payload.
	keys, err := m.FindLinksByString([]byte("old"))
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = m.FindLinksByString([]byte("new"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, keys)
}

func TestLinkStrings_Search(t *testing.T) {
	m := newTestMemory(t)

	require.NoError(t, m.LinkStringSet(1, []byte("alpha"), true))
	require.NoError(t, m.LinkStringSet(2, []byte("alphabet"), true))
	require.NoError(t, m.LinkStringSet(3, []byte("beta"), true))
	require.NoError(t, m.LinkStringSet(4, []byte("alpha"), false)) // not searchable

	t.Run("exact", func(t *testing.T) {
		keys, err := m.FindLinksByString([]byte("alpha"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []uint64{1}, keys)
	})

	t.Run("prefix", func(t *testing.T) {
		keys, err := m.FindLinksBySubstring([]byte("alph"), 8)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uint64{1, 2}, keys)
	})

	t.Run("substring beyond prefix limit", func(t *testing.T) {
		keys, err := m.FindLinksBySubstring([]byte("bet"), 2)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uint64{2, 3}, keys)
	})

	t.Run("strings", func(t *testing.T) {
		strs, err := m.FindStringsBySubstring([]byte("bet"), 2)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"alphabet", "beta"}, strs)
	})
}

// fakeImage round-trips a byte payload through the image framing.
type fakeImage struct {
	payload []byte
	loaded  []byte
}

func (f *fakeImage) WriteImage(w io.Writer) error {
	_, err := w.Write(f.payload)
	return err
}

func (f *fakeImage) ReadImage(r io.Reader) error {
	var err error
	f.loaded, err = io.ReadAll(r)
	return err
}

func TestImage_SaveLoad(t *testing.T) {
	m := newTestMemory(t)

	img := &fakeImage{payload: []byte("segment payload bytes")}
	require.NoError(t, m.Save(img))

	restored := &fakeImage{}
	require.NoError(t, m.Load(restored))
	assert.Equal(t, img.payload, restored.loaded)
}

func TestImage_LoadMissing(t *testing.T) {
	m := newTestMemory(t)

	err := m.Load(&fakeImage{})
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestImage_Clear(t *testing.T) {
	m := newTestMemory(t)

	require.NoError(t, m.LinkStringSet(1, []byte("data"), true))
	require.NoError(t, m.Save(&fakeImage{payload: []byte("img")}))

	require.NoError(t, m.Clear())

	got, err := m.LinkStringGet(1)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.ErrorIs(t, m.Load(&fakeImage{}), ErrNoImage)
}

func TestMemory_Closed(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, m.Shutdown())

	assert.ErrorIs(t, m.LinkStringSet(1, nil, false), ErrClosed)
	_, err = m.LinkStringGet(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Save(&fakeImage{}), ErrClosed)
	assert.ErrorIs(t, m.Shutdown(), ErrClosed)
}

func TestLinkStrings_ManyKeys(t *testing.T) {
	m := newTestMemory(t)

	for i := uint64(1); i <= 50; i++ {
		require.NoError(t, m.LinkStringSet(i, []byte(fmt.Sprintf("content-%03d", i)), true))
	}
	keys, err := m.FindLinksBySubstring([]byte("content-"), 16)
	require.NoError(t, err)
	assert.Len(t, keys, 50)
}

func TestSystemIdtfs(t *testing.T) {
	m := newTestMemory(t)

	require.NoError(t, m.SystemIdtfSet("concept_animal", 0x100000002))
	require.NoError(t, m.SystemIdtfSet("nrel_part", 0x100000003))

	bindings, err := m.SystemIdtfs()
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{
		"concept_animal": 0x100000002,
		"nrel_part":      0x100000003,
	}, bindings)

	require.NoError(t, m.SystemIdtfDelete("nrel_part"))
	bindings, err = m.SystemIdtfs()
	require.NoError(t, err)
	assert.Len(t, bindings, 1)

	// Deleting an unknown name is a no-op.
	require.NoError(t, m.SystemIdtfDelete("absent"))
}
