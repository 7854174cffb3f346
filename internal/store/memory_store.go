package store

import (
	"context"
	"sync"
	"time"

	"github.com/zeventbooks/eventdb/internal/model"
)

// MemoryBindingStore implements BindingStore using an in-memory map.
// Bindings do not survive a restart; intended for tests and local runs.
type MemoryBindingStore struct {
	data   map[string]model.Binding
	mu     sync.RWMutex
	writes int
}

// NewMemoryBindingStore creates an empty in-memory binding store
func NewMemoryBindingStore() *MemoryBindingStore {
	return &MemoryBindingStore{
		data: make(map[string]model.Binding),
	}
}

// Get retrieves the binding for a tenant
func (s *MemoryBindingStore) Get(ctx context.Context, tenantID string) (*model.Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.data[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

// Set stores or overwrites the binding for a tenant
func (s *MemoryBindingStore) Set(ctx context.Context, binding *model.Binding) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := *binding
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	s.data[b.TenantID] = b
	s.writes++
	return nil
}

// CompareAndSet writes binding if the current document id equals previous
func (s *MemoryBindingStore) CompareAndSet(ctx context.Context, binding *model.Binding, previous string) (*model.Binding, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.data[binding.TenantID]
	if currentID(current, ok) != previous {
		if !ok {
			return nil, false, nil
		}
		return &current, false, nil
	}

	b := *binding
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	s.data[b.TenantID] = b
	s.writes++
	return &b, true, nil
}

// Delete removes the binding for a tenant
func (s *MemoryBindingStore) Delete(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, tenantID)
	return nil
}

// Ping always succeeds
func (s *MemoryBindingStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryBindingStore) Close() error {
	return nil
}

// Size returns the number of bindings held
func (s *MemoryBindingStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Writes returns how many bindings have been written
func (s *MemoryBindingStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func currentID(b model.Binding, ok bool) string {
	if !ok {
		return ""
	}
	return b.DocumentID
}
