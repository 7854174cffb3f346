package document

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryService implements Service in memory. Document ids are derived from
// Spec.Key and never reused: "abc_DB", then "abc_DB_2", "abc_DB_3", ...
type MemoryService struct {
	mu      sync.Mutex
	docs    map[string]*memoryDoc
	issued  map[string]int
	created int

	createDelay time.Duration
	createErrs  []error
	openErrs    []error
}

type memoryDoc struct {
	id   string
	name string

	mu      sync.RWMutex
	order   []string
	tables  map[string]*memoryTable
	deleted bool
}

type memoryTable struct {
	headers []string
	rows    [][]string
}

// NewMemoryService creates an empty in-memory document service
func NewMemoryService() *MemoryService {
	return &MemoryService{
		docs:   make(map[string]*memoryDoc),
		issued: make(map[string]int),
	}
}

// Open returns the document with the given id
func (s *MemoryService) Open(ctx context.Context, id string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.openErrs) > 0 {
		err := s.openErrs[0]
		s.openErrs = s.openErrs[1:]
		return nil, err
	}

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", id, ErrNotFound)
	}
	return doc, nil
}

// Create allocates a new empty document
func (s *MemoryService) Create(ctx context.Context, spec Spec) (Handle, error) {
	if !documentIDPattern.MatchString(spec.Key) {
		return nil, fmt.Errorf("document key %q: %w", spec.Key, ErrInvalidName)
	}

	s.mu.Lock()
	delay := s.createDelay
	var injected error
	if len(s.createErrs) > 0 {
		injected = s.createErrs[0]
		s.createErrs = s.createErrs[1:]
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if injected != nil {
		return nil, injected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.issued[spec.Key]++
	id := spec.Key
	if n := s.issued[spec.Key]; n > 1 {
		id = fmt.Sprintf("%s_%d", spec.Key, n)
	}

	doc := &memoryDoc{
		id:     id,
		name:   spec.Name,
		tables: make(map[string]*memoryTable),
	}
	s.docs[id] = doc
	s.created++
	return doc, nil
}

// Delete removes a document, as if deleted out-of-band
func (s *MemoryService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	doc.mu.Lock()
	doc.deleted = true
	doc.mu.Unlock()
	delete(s.docs, id)
	return nil
}

// Close is a no-op
func (s *MemoryService) Close() error {
	return nil
}

// Created returns how many documents have been created
func (s *MemoryService) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// Count returns how many documents currently exist
func (s *MemoryService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// SetCreateDelay makes every Create block for d (for testing).
func (s *MemoryService) SetCreateDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createDelay = d
}

// FailCreate queues errors returned by the next Create calls (for testing).
func (s *MemoryService) FailCreate(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErrs = append(s.createErrs, errs...)
}

// FailOpen queues errors returned by the next Open calls (for testing).
func (s *MemoryService) FailOpen(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErrs = append(s.openErrs, errs...)
}

func (d *memoryDoc) ID() string   { return d.id }
func (d *memoryDoc) Name() string { return d.name }

func (d *memoryDoc) Tables(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.deleted {
		return nil, ErrNotFound
	}
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out, nil
}

func (d *memoryDoc) Headers(ctx context.Context, table string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, err := d.table(table)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(t.headers))
	copy(out, t.headers)
	return out, nil
}

func (d *memoryDoc) CreateTable(ctx context.Context, table string, headers []string) error {
	if !ValidTableName(table) {
		return fmt.Errorf("table %q: %w", table, ErrInvalidName)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.deleted {
		return ErrNotFound
	}
	if _, ok := d.tables[table]; ok {
		return fmt.Errorf("create %s: %w", table, ErrTableExists)
	}
	h := make([]string, len(headers))
	copy(h, headers)
	d.tables[table] = &memoryTable{headers: h}
	d.order = append(d.order, table)
	return nil
}

func (d *memoryDoc) AddColumns(ctx context.Context, table string, headers []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.table(table)
	if err != nil {
		return err
	}
	for _, h := range headers {
		if !contains(t.headers, h) {
			t.headers = append(t.headers, h)
		}
	}
	for i := range t.rows {
		t.rows[i] = fitRow(t.rows[i], len(t.headers))
	}
	return nil
}

func (d *memoryDoc) AppendRow(ctx context.Context, table string, row []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.table(table)
	if err != nil {
		return err
	}
	t.rows = append(t.rows, fitRow(row, len(t.headers)))
	return nil
}

func (d *memoryDoc) Rows(ctx context.Context, table string, limit int) ([][]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, err := d.table(table)
	if err != nil {
		return nil, err
	}
	n := len(t.rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		out[i] = fitRow(t.rows[i], len(t.rows[i]))
	}
	return out, nil
}

func (d *memoryDoc) CountRows(ctx context.Context, table string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, err := d.table(table)
	if err != nil {
		return 0, err
	}
	return len(t.rows), nil
}

// table must be called with d.mu held
func (d *memoryDoc) table(name string) (*memoryTable, error) {
	if d.deleted {
		return nil, ErrNotFound
	}
	t, ok := d.tables[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrTableNotFound)
	}
	return t, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
