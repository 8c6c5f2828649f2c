package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fsgraph/internal/miner"
	"fsgraph/internal/store"
)

// NewTestStore creates a migrated in-memory store that full-text indexes
// nie:plainTextContent. The store is closed when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:", store.Options{
		FullText:      []string{"nie:plainTextContent", "nie:title"},
		MinTermLength: 2,
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// ErrInjected is the cause of failures injected by CountingStore.
var ErrInjected = errors.New("injected store failure")

// CountingStore wraps a store, counting updates and failing on demand.
type CountingStore struct {
	miner.Store

	mu        sync.Mutex
	updates   int
	failures  int
	transient bool
}

func NewCountingStore(inner miner.Store) *CountingStore {
	return &CountingStore{Store: inner}
}

// FailNext makes the next n updates fail without touching the store.
func (s *CountingStore) FailNext(n int, transient bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.transient = transient
}

// Updates returns the number of successful updates.
func (s *CountingStore) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func (s *CountingStore) Update(ctx context.Context, mutations []miner.Mutation) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		transient := s.transient
		s.mu.Unlock()
		return &miner.StoreError{Transient: transient, Err: ErrInjected}
	}
	s.mu.Unlock()

	if err := s.Store.Update(ctx, mutations); err != nil {
		return err
	}
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return nil
}
