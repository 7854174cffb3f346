package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zeventbooks/eventdb/internal/model"
	"go.uber.org/zap"
)

const createBindingsTable = `
	CREATE TABLE IF NOT EXISTS tenant_bindings (
		tenant_id   TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)
`

// PostgresBindingStore implements BindingStore for PostgreSQL
type PostgresBindingStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresBindingStore creates a new PostgreSQL binding store
func NewPostgresBindingStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresBindingStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(context.Background(), createBindingsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure tenant_bindings table: %w", err)
	}

	return &PostgresBindingStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// Get retrieves the binding for a tenant
func (s *PostgresBindingStore) Get(ctx context.Context, tenantID string) (*model.Binding, error) {
	query := `
		SELECT tenant_id, document_id, updated_at
		FROM tenant_bindings
		WHERE tenant_id = $1
	`

	var b model.Binding
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(&b.TenantID, &b.DocumentID, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get binding: %w", err)
	}

	return &b, nil
}

// Set stores or overwrites the binding for a tenant
func (s *PostgresBindingStore) Set(ctx context.Context, binding *model.Binding) error {
	query := `
		INSERT INTO tenant_bindings (tenant_id, document_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id)
		DO UPDATE SET document_id = EXCLUDED.document_id, updated_at = EXCLUDED.updated_at
	`

	updatedAt := binding.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query, binding.TenantID, binding.DocumentID, updatedAt)
	return err
}

// CompareAndSet writes binding if the current document id equals previous.
// An insert loses to an existing row; a replace matches on the old document id.
func (s *PostgresBindingStore) CompareAndSet(ctx context.Context, binding *model.Binding, previous string) (*model.Binding, bool, error) {
	updatedAt := binding.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	var query string
	args := []interface{}{binding.TenantID, binding.DocumentID, updatedAt}
	if previous == "" {
		query = `
			INSERT INTO tenant_bindings (tenant_id, document_id, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id) DO NOTHING
		`
	} else {
		query = `
			UPDATE tenant_bindings
			SET document_id = $2, updated_at = $3
			WHERE tenant_id = $1 AND document_id = $4
		`
		args = append(args, previous)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to write binding: %w", err)
	}
	swapped := result.RowsAffected() > 0

	current, err := s.Get(ctx, binding.TenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, swapped, nil
	}
	if err != nil {
		return nil, swapped, err
	}
	return current, swapped, nil
}

// Delete removes the binding for a tenant
func (s *PostgresBindingStore) Delete(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tenant_bindings WHERE tenant_id = $1`, tenantID)
	return err
}

// Ping checks the database connection
func (s *PostgresBindingStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresBindingStore) Close() error {
	s.pool.Close()
	return nil
}
