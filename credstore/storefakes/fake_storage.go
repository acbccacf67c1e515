package storefakes

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/omborsaas/go-session-client/credstore"
)

var _ credstore.Storage = (*FakeStorage)(nil)

// FakeStorage is an in-memory Storage for tests. It records every save and
// can be told to fail.
type FakeStorage struct {
	mu       sync.Mutex
	snapshot *credstore.Snapshot
	saves    int
	failSave bool
	saved    chan struct{}
}

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{saved: make(chan struct{}, 64)}
}

func (f *FakeStorage) Save(snapshot credstore.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errors.New("fake storage: save failed")
	}
	snap := snapshot
	f.snapshot = &snap
	f.saves++
	select {
	case f.saved <- struct{}{}:
	default:
	}
	return nil
}

func (f *FakeStorage) Load() (*credstore.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot == nil {
		return nil, nil
	}
	snap := *f.snapshot
	return &snap, nil
}

func (f *FakeStorage) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = nil
	return nil
}

// Seed installs a snapshot as if it had been persisted by an earlier run.
func (f *FakeStorage) Seed(snapshot credstore.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := snapshot
	f.snapshot = &snap
}

// FailSaves makes every subsequent Save return an error.
func (f *FakeStorage) FailSaves() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSave = true
}

// Saves returns how many saves have succeeded.
func (f *FakeStorage) Saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// Snapshot returns the last saved snapshot, or nil.
func (f *FakeStorage) Snapshot() *credstore.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot == nil {
		return nil
	}
	snap := *f.snapshot
	return &snap
}

// WaitForSave blocks until a save lands or the timeout expires. The store
// persists asynchronously, so tests use this to wait for the durable write.
func (f *FakeStorage) WaitForSave(timeout time.Duration) bool {
	select {
	case <-f.saved:
		return true
	case <-time.After(timeout):
		return false
	}
}
