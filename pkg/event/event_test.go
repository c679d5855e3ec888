package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/store"
)

type recorder struct {
	mu     sync.Mutex
	events [][2]store.Addr
	done   chan struct{}
	want   int
}

func newRecorder(want int) *recorder {
	return &recorder{done: make(chan struct{}), want: want}
}

func (r *recorder) callback(sub *Subscription, edge, other store.Addr) {
	r.mu.Lock()
	r.events = append(r.events, [2]store.Addr{edge, other})
	if len(r.events) == r.want {
		close(r.done)
	}
	r.mu.Unlock()
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}
}

func TestBus_SubscribeEmit(t *testing.T) {
	b := NewBus(2)
	defer b.Stop()

	el := store.Addr{Seg: 1, Offset: 1}
	edge := store.Addr{Seg: 1, Offset: 2}
	other := store.Addr{Seg: 1, Offset: 3}

	rec := newRecorder(1)
	sub, err := b.Subscribe(el, store.EventAddOutputArc, "payload", rec.callback, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, "payload", sub.Data())

	// Matching type is delivered, the rest is filtered.
	b.Emit(1, el, 0, store.EventAddInputArc, edge, other)
	b.Emit(1, el, 0, store.EventAddOutputArc, edge, other)

	rec.wait(t)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 1)
	assert.Equal(t, edge, rec.events[0][0])
	assert.Equal(t, other, rec.events[0][1])
}

func TestBus_SubscribeValidation(t *testing.T) {
	b := NewBus(1)
	defer b.Stop()

	_, err := b.Subscribe(store.AddrEmpty, store.EventAddOutputArc, nil, func(*Subscription, store.Addr, store.Addr) {}, nil)
	assert.ErrorIs(t, err, store.ErrInvalidParams)

	_, err = b.Subscribe(store.Addr{Seg: 1, Offset: 1}, store.EventAddOutputArc, nil, nil, nil)
	assert.ErrorIs(t, err, store.ErrInvalidParams)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus(1)
	defer b.Stop()

	el := store.Addr{Seg: 1, Offset: 1}

	deleted := make(chan struct{})
	sub, err := b.Subscribe(el, store.EventRemoveElement, nil,
		func(*Subscription, store.Addr, store.Addr) {},
		func(*Subscription) { close(deleted) })
	require.NoError(t, err)

	require.NoError(t, b.Unsubscribe(sub))
	select {
	case <-deleted:
	case <-time.After(time.Second):
		t.Fatal("delete callback not invoked")
	}

	// Double unsubscribe is refused.
	assert.ErrorIs(t, b.Unsubscribe(sub), store.ErrNo)
}

func TestBus_NotifyElementDeleted(t *testing.T) {
	b := NewBus(1)
	defer b.Stop()

	el := store.Addr{Seg: 2, Offset: 9}
	deleted := make(chan struct{})
	_, err := b.Subscribe(el, store.EventRemoveElement, nil,
		func(*Subscription, store.Addr, store.Addr) {},
		func(*Subscription) { close(deleted) })
	require.NoError(t, err)

	b.NotifyElementDeleted(el)
	select {
	case <-deleted:
	case <-time.After(time.Second):
		t.Fatal("subscription not reaped")
	}

	// No further deliveries for the reaped subscription.
	b.Emit(1, el, 0, store.EventRemoveElement, store.AddrEmpty, store.AddrEmpty)
}

func TestBus_PendingMode(t *testing.T) {
	b := NewBus(1)
	defer b.Stop()

	const pid = 42
	el := store.Addr{Seg: 1, Offset: 1}

	rec := newRecorder(2)
	_, err := b.Subscribe(el, store.EventAddOutputArc, nil, rec.callback, nil)
	require.NoError(t, err)

	b.BeginPending(pid)
	b.Emit(pid, el, 0, store.EventAddOutputArc, store.Addr{Seg: 1, Offset: 2}, store.AddrEmpty)
	b.Emit(pid, el, 0, store.EventAddOutputArc, store.Addr{Seg: 1, Offset: 3}, store.AddrEmpty)

	rec.mu.Lock()
	assert.Empty(t, rec.events, "pending emissions must not deliver early")
	rec.mu.Unlock()

	b.EndPending(pid)
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 2)
	assert.Equal(t, store.Addr{Seg: 1, Offset: 2}, rec.events[0][0])
	assert.Equal(t, store.Addr{Seg: 1, Offset: 3}, rec.events[1][0])
}
