// Package document provides the backing tabular documents that hold each
// tenant's data. A document is a set of named, headered tables.
package document

import (
	"context"
	"errors"
	"regexp"
)

var (
	// ErrNotFound is returned by Open when the document no longer exists
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable marks a failure that may succeed on retry
	ErrUnavailable = errors.New("document service unavailable")
	// ErrTableExists is returned when creating a table that is already present
	ErrTableExists = errors.New("table already exists")
	// ErrTableNotFound is returned for operations on a missing table
	ErrTableNotFound = errors.New("table not found")
	// ErrInvalidName is returned for table or document names that cannot be stored
	ErrInvalidName = errors.New("invalid name")
)

// Spec describes a document to create.
type Spec struct {
	// Key is the stable prefix of the new document id, e.g. "abc_DB".
	Key string
	// Name is the human-readable title, e.g. "ABC_DB - Database".
	Name string
}

// Handle is a reference to one open document. Handles are safe for
// concurrent use.
type Handle interface {
	ID() string
	Name() string

	Tables(ctx context.Context) ([]string, error)
	Headers(ctx context.Context, table string) ([]string, error)
	CreateTable(ctx context.Context, table string, headers []string) error
	AddColumns(ctx context.Context, table string, headers []string) error

	AppendRow(ctx context.Context, table string, row []string) error
	Rows(ctx context.Context, table string, limit int) ([][]string, error)
	CountRows(ctx context.Context, table string) (int, error)
}

// Service opens and creates documents.
type Service interface {
	Open(ctx context.Context, id string) (Handle, error)
	Create(ctx context.Context, spec Spec) (Handle, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

var (
	tableNamePattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
)

// ValidTableName reports whether name can be used as a table name
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// fitRow pads or truncates row to n cells
func fitRow(row []string, n int) []string {
	out := make([]string, n)
	copy(out, row)
	return out
}
