package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zeventbooks/eventdb/internal/document"
	"go.uber.org/zap"
)

// MockHandle is a mock implementation of document.Handle
type MockHandle struct {
	mock.Mock
}

func (m *MockHandle) ID() string   { return "mock_DB" }
func (m *MockHandle) Name() string { return "MOCK_DB - Database" }

func (m *MockHandle) Tables(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockHandle) Headers(ctx context.Context, table string) ([]string, error) {
	args := m.Called(ctx, table)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockHandle) CreateTable(ctx context.Context, table string, headers []string) error {
	return m.Called(ctx, table, headers).Error(0)
}

func (m *MockHandle) AddColumns(ctx context.Context, table string, headers []string) error {
	return m.Called(ctx, table, headers).Error(0)
}

func (m *MockHandle) AppendRow(ctx context.Context, table string, row []string) error {
	return m.Called(ctx, table, row).Error(0)
}

func (m *MockHandle) Rows(ctx context.Context, table string, limit int) ([][]string, error) {
	args := m.Called(ctx, table, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]string), args.Error(1)
}

func (m *MockHandle) CountRows(ctx context.Context, table string) (int, error) {
	args := m.Called(ctx, table)
	return args.Int(0), args.Error(1)
}

func newDoc(t *testing.T) document.Handle {
	t.Helper()
	h, err := document.NewMemoryService().Create(context.Background(), document.Spec{Key: "abc_DB", Name: "ABC_DB - Database"})
	require.NoError(t, err)
	return h
}

func TestEnsure_CreatesAllTablesInOrder(t *testing.T) {
	ctx := context.Background()
	h := newDoc(t)
	m := NewManager(nil, zap.NewNop())

	report, err := m.Ensure(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []string{TableReadme, TableEvents, TableSponsors, TableAnalytics, TableDiag}, report.CreatedTables)

	tables, err := h.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.CreatedTables, tables)

	for _, spec := range Required() {
		headers, err := h.Headers(ctx, spec.Name)
		require.NoError(t, err)
		assert.Equal(t, spec.Headers, headers, spec.Name)
	}

	n, err := h.CountRows(ctx, TableReadme)
	require.NoError(t, err)
	assert.Equal(t, len(Required()[0].Rows), n)

	n, err = h.CountRows(ctx, TableEvents)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnsure_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newDoc(t)
	m := NewManager(nil, zap.NewNop())

	_, err := m.Ensure(ctx, h)
	require.NoError(t, err)
	require.NoError(t, h.AppendRow(ctx, TableEvents, []string{"e1", "Launch"}))

	report, err := m.Ensure(ctx, h)
	require.NoError(t, err)
	assert.False(t, report.Changed())

	tables, err := h.Tables(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, len(Required()))

	readme, err := h.CountRows(ctx, TableReadme)
	require.NoError(t, err)
	assert.Equal(t, len(Required()[0].Rows), readme, "README must not be re-seeded")

	events, err := h.Rows(ctx, TableEvents, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0][0])
}

func TestEnsure_AdditiveUpgradeOfOlderDocument(t *testing.T) {
	ctx := context.Background()
	h := newDoc(t)

	// A document provisioned by an older version: fewer tables, fewer headers.
	older := NewManager(nil, zap.NewNop())
	older.tables = older.tables[:2]
	older.tables[1].Headers = []string{"id", "name"}
	_, err := older.Ensure(ctx, h)
	require.NoError(t, err)
	require.NoError(t, h.AppendRow(ctx, TableEvents, []string{"e1", "Launch"}))
	require.NoError(t, h.CreateTable(ctx, "CUSTOM", []string{"x"}))

	report, err := NewManager(nil, zap.NewNop()).Ensure(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []string{TableSponsors, TableAnalytics, TableDiag}, report.CreatedTables)
	assert.Equal(t, Required()[1].Headers[2:], report.AddedColumns[TableEvents])

	headers, err := h.Headers(ctx, TableEvents)
	require.NoError(t, err)
	assert.ElementsMatch(t, Required()[1].Headers, headers)

	rows, err := h.Rows(ctx, TableEvents, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"e1", "Launch"}, rows[0][:2])

	tables, err := h.Tables(ctx)
	require.NoError(t, err)
	assert.Contains(t, tables, "CUSTOM")
}

func TestEnsure_CreateFailure(t *testing.T) {
	ctx := context.Background()
	h := new(MockHandle)
	h.On("Tables", ctx).Return([]string{}, nil)
	h.On("CreateTable", ctx, TableReadme, mock.Anything).Return(errors.New("quota exceeded"))

	_, err := NewManager(nil, zap.NewNop()).Ensure(ctx, h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaInit))
	h.AssertExpectations(t)
}

func TestEnsure_ListFailure(t *testing.T) {
	ctx := context.Background()
	h := new(MockHandle)
	h.On("Tables", ctx).Return(nil, document.ErrNotFound)

	_, err := NewManager(nil, zap.NewNop()).Ensure(ctx, h)
	assert.True(t, errors.Is(err, ErrSchemaInit))
	assert.True(t, errors.Is(err, document.ErrNotFound))
}

func TestEnsure_ConcurrentCreateIsTolerated(t *testing.T) {
	ctx := context.Background()
	h := new(MockHandle)
	h.On("Tables", ctx).Return([]string{}, nil)
	h.On("CreateTable", ctx, mock.Anything, mock.Anything).Return(document.ErrTableExists)

	report, err := NewManager(Required()[1:2], zap.NewNop()).Ensure(ctx, h)
	require.NoError(t, err)
	assert.False(t, report.Changed())
	h.AssertExpectations(t)
}

// failingSeed fails the first AppendRow to table.
type failingSeed struct {
	document.Handle
	table  string
	failed bool
}

func (f *failingSeed) AppendRow(ctx context.Context, table string, row []string) error {
	if table == f.table && !f.failed {
		f.failed = true
		return errors.New("write quota exceeded")
	}
	return f.Handle.AppendRow(ctx, table, row)
}

func TestEnsure_ReseedsReadmeAfterInterruptedSeed(t *testing.T) {
	ctx := context.Background()
	h := &failingSeed{Handle: newDoc(t), table: TableReadme}
	m := NewManager(nil, zap.NewNop())

	_, err := m.Ensure(ctx, h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaInit))

	n, err := h.CountRows(ctx, TableReadme)
	require.NoError(t, err)
	require.Zero(t, n)

	report, err := m.Ensure(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []string{TableReadme}, report.SeededTables)
	assert.True(t, report.Changed())

	rows, err := h.Rows(ctx, TableReadme, 0)
	require.NoError(t, err)
	assert.Equal(t, Required()[0].Rows, rows)

	report, err = m.Ensure(ctx, h)
	require.NoError(t, err)
	assert.False(t, report.Changed())
}

func TestEnsure_KeepsEditedReadme(t *testing.T) {
	ctx := context.Background()
	h := newDoc(t)
	require.NoError(t, h.CreateTable(ctx, TableReadme, Required()[0].Headers))
	require.NoError(t, h.AppendRow(ctx, TableReadme, []string{"Notes", "Our own text"}))

	report, err := NewManager(Required()[:1], zap.NewNop()).Ensure(ctx, h)
	require.NoError(t, err)
	assert.False(t, report.Changed())

	rows, err := h.Rows(ctx, TableReadme, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Notes", "Our own text"}}, rows)
}
