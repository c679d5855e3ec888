// Package memory is the typed entry point to the sc-memory: it wires the
// segmented store to its collaborators (persistence, event bus), owns the
// background save/maintenance timers, and hands out per-process contexts for
// all graph operations.
package memory

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/config"
	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/event"
	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/scfs"
	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/store"
)

// Memory is one initialized sc-memory instance. Run one per repository;
// several instances in a process are independent.
type Memory struct {
	cfg   *config.Config
	store *store.Store
	fs    *scfs.Memory
	bus   *event.Bus

	// System identifier resolution for SCs generation.
	idtfMu sync.RWMutex
	idtf   map[string]store.Addr

	saveMu sync.Mutex
	stop   chan struct{}
	wg     sync.WaitGroup
}

// Initialize opens the repository, loads the previous image unless cfg.Clear
// is set, and starts the background timers.
func Initialize(cfg *config.Config) (*Memory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fs, err := scfs.New(cfg.RepoPath)
	if err != nil {
		return nil, err
	}
	bus := event.NewBus(cfg.MaxEventsAndAgentsThreads)
	st := store.New(store.Options{
		MaxSegments: cfg.MaxLoadedSegments,
		Links:       fs,
		Events:      bus,
	})

	m := &Memory{
		cfg:   cfg,
		store: st,
		fs:    fs,
		bus:   bus,
		idtf:  make(map[string]store.Addr),
		stop:  make(chan struct{}),
	}

	if cfg.Clear {
		if err := fs.Clear(); err != nil {
			m.teardown()
			return nil, err
		}
	} else {
		if err := fs.Load(st); err != nil && !errors.Is(err, scfs.ErrNoImage) {
			m.teardown()
			return nil, err
		}
		bindings, err := fs.SystemIdtfs()
		if err != nil {
			m.teardown()
			return nil, err
		}
		for name, key := range bindings {
			m.idtf[name] = store.AddrFromKey(key)
		}
	}

	log.Printf("[memory] initialized: %s", cfg)

	if cfg.SavePeriod > 0 {
		m.wg.Add(1)
		go m.saveLoop(cfg.SavePeriod)
	}
	if cfg.UpdatePeriod > 0 {
		m.wg.Add(1)
		go m.updateLoop(cfg.UpdatePeriod)
	}
	return m, nil
}

func (m *Memory) saveLoop(period time.Duration) {
	defer m.wg.Done()
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := m.Save(); err != nil {
				log.Printf("[memory] periodic save: %v", err)
			}
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) updateLoop(period time.Duration) {
	defer m.wg.Done()
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.fs.RunGC()
		case <-m.stop:
			return
		}
	}
}

// Save writes the whole segmented image through the persistence layer.
func (m *Memory) Save() error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	return m.fs.Save(m.store)
}

// Shutdown stops the timers, optionally saves the image, and closes the
// collaborators.
func (m *Memory) Shutdown(save bool) error {
	close(m.stop)
	m.wg.Wait()

	var saveErr error
	if save {
		saveErr = m.Save()
	}
	m.bus.Stop()
	if err := m.fs.Shutdown(); err != nil && saveErr == nil {
		saveErr = err
	}
	return saveErr
}

func (m *Memory) teardown() {
	m.bus.Stop()
	if err := m.fs.Shutdown(); err != nil {
		log.Printf("[memory] teardown: %v", err)
	}
}

// Stat aggregates element counts across the store.
func (m *Memory) Stat() store.Stat { return m.store.Stat() }

// ResolveIdtf returns the element registered under a system identifier.
// Bindings whose element was erased are dropped.
func (m *Memory) ResolveIdtf(idtf string) (store.Addr, bool) {
	m.idtfMu.RLock()
	a, ok := m.idtf[idtf]
	m.idtfMu.RUnlock()
	if !ok {
		return store.AddrEmpty, false
	}
	if !m.store.IsElement(a) {
		m.idtfMu.Lock()
		if cur, still := m.idtf[idtf]; still && cur == a {
			delete(m.idtf, idtf)
		}
		m.idtfMu.Unlock()
		if err := m.fs.SystemIdtfDelete(idtf); err != nil {
			log.Printf("[memory] drop stale identifier %q: %v", idtf, err)
		}
		return store.AddrEmpty, false
	}
	return a, true
}

// RegisterIdtf binds a system identifier to an element and persists the
// binding. Rebinding a live identifier to a different element is refused.
func (m *Memory) RegisterIdtf(idtf string, a store.Addr) error {
	m.idtfMu.Lock()
	if cur, ok := m.idtf[idtf]; ok && cur != a && m.store.IsElement(cur) {
		m.idtfMu.Unlock()
		return fmt.Errorf("%w: identifier %q already bound", store.ErrInvalidParams, idtf)
	}
	m.idtf[idtf] = a
	m.idtfMu.Unlock()
	return m.fs.SystemIdtfSet(idtf, a.Key())
}
