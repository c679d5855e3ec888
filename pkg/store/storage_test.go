package store

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLinks is an in-memory LinkStore for tests.
type memLinks struct {
	mu    sync.Mutex
	data  map[uint64][]byte
	index map[uint64]bool
}

func newMemLinks() *memLinks {
	return &memLinks{data: map[uint64][]byte{}, index: map[uint64]bool{}}
}

func (m *memLinks) LinkStringSet(key uint64, data []byte, searchable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	m.index[key] = searchable
	return nil
}

func (m *memLinks) LinkStringGet(key uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data[key]...), nil
}

func (m *memLinks) LinkStringUnlink(key uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.index, key)
	return nil
}

func (m *memLinks) FindLinksByString(data []byte) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint64
	for k, v := range m.data {
		if m.index[k] && bytes.Equal(v, data) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memLinks) FindLinksBySubstring(data []byte, prefixLimit uint32) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint64
	for k, v := range m.data {
		if m.index[k] && bytes.Contains(v, data) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memLinks) FindStringsBySubstring(data []byte, prefixLimit uint32) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k, v := range m.data {
		if m.index[k] && bytes.Contains(v, data) {
			out = append(out, string(v))
		}
	}
	return out, nil
}

func newTestStore(t *testing.T, maxSegments uint32) (*Store, uint64) {
	t.Helper()
	s := New(Options{MaxSegments: maxSegments, Links: newMemLinks()})
	const pid = 1
	s.BeginProcess(pid)
	t.Cleanup(func() { s.EndProcess(pid) })
	return s, pid
}

func TestStore_NodeLifecycle(t *testing.T) {
	s, pid := newTestStore(t, 4)

	n, err := s.NodeNew(pid, TypeConst)
	require.NoError(t, err)
	require.False(t, n.IsEmpty())
	assert.True(t, s.IsElement(n))

	typ, err := s.GetType(n)
	require.NoError(t, err)
	assert.Equal(t, TypeNodeConst, typ)

	require.NoError(t, s.EraseElement(pid, n))
	assert.False(t, s.IsElement(n))
	_, err = s.GetType(n)
	assert.ErrorIs(t, err, ErrAddrNotValid)
}

func TestStore_LookupBounds(t *testing.T) {
	s, _ := newTestStore(t, 2)

	cases := []struct {
		name string
		addr Addr
	}{
		{"empty", AddrEmpty},
		{"zero offset", Addr{Seg: 1, Offset: 0}},
		{"zero segment", Addr{Seg: 0, Offset: 5}},
		{"segment overflow", Addr{Seg: 100, Offset: 1}},
		{"offset overflow", Addr{Seg: 1, Offset: SegmentElements}},
		{"never allocated", Addr{Seg: 1, Offset: 7}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, s.IsElement(tc.addr))
			_, err := s.GetType(tc.addr)
			assert.ErrorIs(t, err, ErrAddrNotValid)
		})
	}
}

func TestStore_ArcNew(t *testing.T) {
	s, pid := newTestStore(t, 4)

	n1, _ := s.NodeNew(pid, TypeConst)
	n2, _ := s.NodeNew(pid, TypeConst)

	arc, err := s.ArcNew(pid, TypeEdgeAccessConstPosPerm, n1, n2)
	require.NoError(t, err)

	beg, end, err := s.ArcInfo(arc)
	require.NoError(t, err)
	assert.Equal(t, n1, beg)
	assert.Equal(t, n2, end)

	out, err := s.OutputArcsCount(n1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), out)
	in, err := s.InputArcsCount(n2)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), in)

	// Endpoint queries on a non-connector are refused.
	_, _, err = s.ArcInfo(n1)
	assert.ErrorIs(t, err, ErrElementNotConnector)
}

func TestStore_ArcNewMissingEndpoint(t *testing.T) {
	s, pid := newTestStore(t, 4)

	n1, _ := s.NodeNew(pid, TypeConst)
	ghost := Addr{Seg: 1, Offset: 999}

	_, err := s.ArcNew(pid, TypeEdgeAccessConstPosPerm, n1, ghost)
	assert.ErrorIs(t, err, ErrAddrNotValid)

	// The half-allocated slot went back to the free chain: the next
	// allocation reuses it.
	before := s.Stat()
	assert.Equal(t, uint64(1), before.FreeCount)

	_, err = s.NodeNew(pid, TypeConst)
	require.NoError(t, err)
	after := s.Stat()
	assert.Equal(t, uint64(0), after.FreeCount)
}

func TestStore_ArcNewInvalidParams(t *testing.T) {
	s, pid := newTestStore(t, 4)
	n1, _ := s.NodeNew(pid, TypeConst)

	_, err := s.ArcNew(pid, TypeEdgeAccessConstPosPerm, AddrEmpty, n1)
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = s.ArcNew(pid, TypeNodeConst, n1, n1)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestStore_SelfLoop(t *testing.T) {
	t.Run("directed", func(t *testing.T) {
		s, pid := newTestStore(t, 4)
		n, _ := s.NodeNew(pid, TypeConst)

		_, err := s.ArcNew(pid, TypeEdgeAccessConstPosPerm, n, n)
		require.NoError(t, err)

		out, _ := s.OutputArcsCount(n)
		in, _ := s.InputArcsCount(n)
		assert.Equal(t, uint32(1), out)
		assert.Equal(t, uint32(1), in)
	})

	t.Run("undirected", func(t *testing.T) {
		s, pid := newTestStore(t, 4)
		n, _ := s.NodeNew(pid, TypeConst)

		_, err := s.ArcNew(pid, TypeEdgeUCommonConst, n, n)
		require.NoError(t, err)

		// A self-loop edge is spliced once, not twice.
		out, _ := s.OutputArcsCount(n)
		in, _ := s.InputArcsCount(n)
		assert.Equal(t, uint32(1), out)
		assert.Equal(t, uint32(1), in)
	})
}

func TestStore_ChangeSubtype(t *testing.T) {
	s, pid := newTestStore(t, 4)

	n, _ := s.NodeNew(pid, TypeConst)

	require.NoError(t, s.ChangeSubtype(n, TypeNodeConstTuple))
	typ, _ := s.GetType(n)
	assert.Equal(t, TypeNodeConstTuple, typ)

	// Kind conversion is forbidden and leaves the type unchanged.
	err := s.ChangeSubtype(n, TypeLinkConst)
	assert.ErrorIs(t, err, ErrInvalidType)
	typ, _ = s.GetType(n)
	assert.Equal(t, TypeNodeConstTuple, typ)
}

func TestStore_EraseCascade(t *testing.T) {
	s, pid := newTestStore(t, 4)

	r, _ := s.NodeNew(pid, TypeConst)
	x, _ := s.NodeNew(pid, TypeConst)
	y, _ := s.NodeNew(pid, TypeConst)

	rx, err := s.ArcNew(pid, TypeEdgeAccessConstPosPerm, r, x)
	require.NoError(t, err)
	yrx, err := s.ArcNew(pid, TypeEdgeAccessConstPosPerm, y, rx)
	require.NoError(t, err)

	require.NoError(t, s.EraseElement(pid, r))

	assert.False(t, s.IsElement(r))
	assert.False(t, s.IsElement(rx))
	assert.False(t, s.IsElement(yrx), "arc-on-arc must be reached by the cascade")
	assert.True(t, s.IsElement(x))
	assert.True(t, s.IsElement(y))

	// No adjacency of the survivors mentions the erased elements.
	in, _ := s.InputArcsCount(x)
	assert.Equal(t, uint32(0), in)
	out, _ := s.OutputArcsCount(y)
	assert.Equal(t, uint32(0), out)
}

func TestStore_EraseUnlinksContent(t *testing.T) {
	links := newMemLinks()
	s := New(Options{MaxSegments: 4, Links: links})
	const pid = 7
	s.BeginProcess(pid)
	defer s.EndProcess(pid)

	l, err := s.LinkNew(pid, TypeConst)
	require.NoError(t, err)
	require.NoError(t, s.SetLinkContent(pid, l, []byte("payload"), true))

	got, err := s.LinkContent(l)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	// Content operations on a non-link are refused.
	n, _ := s.NodeNew(pid, TypeConst)
	assert.ErrorIs(t, s.SetLinkContent(pid, n, []byte("x"), false), ErrElementNotLink)

	require.NoError(t, s.EraseElement(pid, l))
	links.mu.Lock()
	_, still := links.data[l.Key()]
	links.mu.Unlock()
	assert.False(t, still, "erase must unlink the payload")
}

func TestStore_FindLinksByContent(t *testing.T) {
	s, pid := newTestStore(t, 4)

	l1, _ := s.LinkNew(pid, TypeConst)
	l2, _ := s.LinkNew(pid, TypeConst)
	require.NoError(t, s.SetLinkContent(pid, l1, []byte("alpha"), true))
	require.NoError(t, s.SetLinkContent(pid, l2, []byte("alphabet"), true))

	exact, err := s.FindLinksByContent([]byte("alpha"))
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, l1, exact[0])

	sub, err := s.FindLinksBySubstring([]byte("alpha"), 8)
	require.NoError(t, err)
	assert.Len(t, sub, 2)

	strs, err := s.FindLinkContentsBySubstring([]byte("bet"), 2)
	require.NoError(t, err)
	require.Len(t, strs, 1)
	assert.Equal(t, "alphabet", strs[0])
}

func TestStore_SlotReuse(t *testing.T) {
	s, pid := newTestStore(t, 4)

	n1, _ := s.NodeNew(pid, TypeConst)
	require.NoError(t, s.EraseElement(pid, n1))

	n2, err := s.NodeNew(pid, TypeConst)
	require.NoError(t, err)
	assert.Equal(t, n1, n2, "freed slot is reused by the same process")
	assert.True(t, s.IsElement(n2))
}

func TestStore_CapacityExhaustion(t *testing.T) {
	s, pid := newTestStore(t, 1)

	var allocated []Addr
	for {
		a, err := s.NodeNew(pid, TypeConst)
		if err != nil {
			assert.ErrorIs(t, err, ErrNoMemory)
			break
		}
		allocated = append(allocated, a)
	}
	assert.Equal(t, SegmentElements-1, len(allocated))

	// Erasing makes allocation succeed again.
	require.NoError(t, s.EraseElement(pid, allocated[0]))
	a, err := s.NodeNew(pid, TypeConst)
	require.NoError(t, err)
	assert.Equal(t, allocated[0], a)

	// Full again afterwards.
	_, err = s.NodeNew(pid, TypeConst)
	assert.ErrorIs(t, err, ErrNoMemory)
}

func TestStore_CapacityTripleRounds(t *testing.T) {
	if testing.Short() {
		t.Skip("capacity sweep")
	}
	s, pid := newTestStore(t, 1)

	var roots []Addr
	for {
		n1, err := s.NodeNew(pid, TypeConst)
		if err != nil {
			break
		}
		n2, err := s.NodeNew(pid, TypeConst)
		if err != nil {
			break
		}
		if _, err = s.ArcNew(pid, TypeEdgeAccessConstPosPerm, n1, n2); err != nil {
			break
		}
		roots = append(roots, n1, n2)
	}

	for _, r := range roots {
		if s.IsElement(r) {
			require.NoError(t, s.EraseElement(pid, r))
		}
	}

	// The whole image is reusable after erasing everything.
	for i := 0; i < 100; i++ {
		_, err := s.NodeNew(pid, TypeConst)
		require.NoError(t, err)
	}
}

func TestStore_ImageRoundTrip(t *testing.T) {
	s, pid := newTestStore(t, 4)

	n1, _ := s.NodeNew(pid, TypeConst)
	n2, _ := s.NodeNew(pid, TypeNodeTuple|TypeConst)
	arc, err := s.ArcNew(pid, TypeEdgeAccessConstPosPerm, n1, n2)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.WriteImage(&buf))

	restored := New(Options{MaxSegments: 4})
	require.NoError(t, restored.ReadImage(&buf))

	assert.True(t, restored.IsElement(n1))
	assert.True(t, restored.IsElement(n2))
	beg, end, err := restored.ArcInfo(arc)
	require.NoError(t, err)
	assert.Equal(t, n1, beg)
	assert.Equal(t, n2, end)

	typ, err := restored.GetType(n2)
	require.NoError(t, err)
	assert.Equal(t, TypeNodeTuple|TypeNodeConst, typ)
}

func TestStore_ConcurrentCreateErase(t *testing.T) {
	s := New(Options{MaxSegments: 8, Links: newMemLinks()})

	const workers = 8
	const rounds = 200

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(pid uint64) {
			defer wg.Done()
			s.BeginProcess(pid)
			defer s.EndProcess(pid)

			for i := 0; i < rounds; i++ {
				n1, err := s.NodeNew(pid, TypeConst)
				if err != nil {
					continue
				}
				n2, err := s.NodeNew(pid, TypeConst)
				if err != nil {
					continue
				}
				arc, err := s.ArcNew(pid, TypeEdgeAccessConstPosPerm, n1, n2)
				if err == nil {
					it, err := s.Iterator3FAA(n1, TypeArcAccess, TypeNode)
					if err == nil {
						for it.Next() {
						}
					}
					_ = arc
				}
				_ = s.EraseElement(pid, n1)
				_ = s.EraseElement(pid, n2)
			}
		}(uint64(w + 1))
	}
	wg.Wait()

	st := s.Stat()
	assert.Equal(t, uint64(0), st.NodeCount)
	assert.Equal(t, uint64(0), st.ArcCount)
}
