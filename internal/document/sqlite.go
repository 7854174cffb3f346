package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const metaTable = "_document"

// SQLiteService stores each document as its own SQLite file under dir.
// Tables map to SQL tables with one TEXT column per header.
type SQLiteService struct {
	dir    string
	logger *zap.Logger

	mu   sync.Mutex
	open map[string]*sqliteDoc
}

type sqliteDoc struct {
	id   string
	name string
	path string
	db   *sql.DB
}

// NewSQLiteService creates a document service rooted at dir
func NewSQLiteService(dir string, logger *zap.Logger) (*SQLiteService, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("document data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document dir: %w", err)
	}

	return &SQLiteService{
		dir:    filepath.Clean(dir),
		logger: logger,
		open:   make(map[string]*sqliteDoc),
	}, nil
}

// Open returns the document with the given id. A document whose file has
// been removed reports ErrNotFound even if a connection is still cached.
func (s *SQLiteService) Open(ctx context.Context, id string) (Handle, error) {
	if !documentIDPattern.MatchString(id) {
		return nil, fmt.Errorf("open %q: %w", id, ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(id)
	if _, err := os.Stat(path); err != nil {
		s.evictLocked(id)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("stat %s: %v: %w", id, err, ErrUnavailable)
	}

	if doc, ok := s.open[id]; ok {
		return doc, nil
	}

	db, err := openDB(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", id, err, ErrUnavailable)
	}

	var name string
	err = db.QueryRowContext(ctx, "SELECT name FROM "+metaTable+" WHERE id = ?", id).Scan(&name)
	if err != nil {
		_ = db.Close()
		if errors.Is(err, sql.ErrNoRows) || isNoSuchTable(err) {
			// Not one of our documents.
			return nil, fmt.Errorf("open %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("read metadata %s: %v: %w", id, err, ErrUnavailable)
	}

	doc := &sqliteDoc{id: id, name: name, path: path, db: db}
	s.open[id] = doc
	return doc, nil
}

// Create writes a new document file with a fresh id
func (s *SQLiteService) Create(ctx context.Context, spec Spec) (Handle, error) {
	if !documentIDPattern.MatchString(spec.Key) {
		return nil, fmt.Errorf("document key %q: %w", spec.Key, ErrInvalidName)
	}

	id := fmt.Sprintf("%s_%s", spec.Key, strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
	path := s.path(id)

	db, err := openDB(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", id, err)
	}

	if _, err := db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS "+metaTable+" (id TEXT PRIMARY KEY, name TEXT NOT NULL, created_at INTEGER NOT NULL)",
	); err != nil {
		_ = db.Close()
		_ = removeFiles(path)
		return nil, fmt.Errorf("create %s: %w", id, err)
	}
	if _, err := db.ExecContext(ctx,
		"INSERT INTO "+metaTable+" (id, name, created_at) VALUES (?, ?, ?)",
		id, spec.Name, time.Now().UTC().UnixMilli(),
	); err != nil {
		_ = db.Close()
		_ = removeFiles(path)
		return nil, fmt.Errorf("create %s: %w", id, err)
	}

	doc := &sqliteDoc{id: id, name: spec.Name, path: path, db: db}

	s.mu.Lock()
	s.open[id] = doc
	s.mu.Unlock()

	s.logger.Info("created document",
		zap.String("document_id", id),
		zap.String("name", spec.Name),
		zap.String("path", path))

	return doc, nil
}

// Delete closes and removes a document file
func (s *SQLiteService) Delete(ctx context.Context, id string) error {
	if !documentIDPattern.MatchString(id) {
		return fmt.Errorf("delete %q: %w", id, ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(id)
	path := s.path(id)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	return removeFiles(path)
}

// Close closes every cached connection
func (s *SQLiteService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id := range s.open {
		if err := s.open[id].db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.open, id)
	}
	return firstErr
}

func (s *SQLiteService) path(id string) string {
	return filepath.Join(s.dir, id+".sqlite")
}

// evictLocked must be called with s.mu held
func (s *SQLiteService) evictLocked(id string) {
	if doc, ok := s.open[id]; ok {
		_ = doc.db.Close()
		delete(s.open, id)
	}
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func removeFiles(path string) error {
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return os.Remove(path)
}

func isNoSuchTable(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no such table")
}

func isAlreadyExists(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists")
}

func isDuplicateColumn(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (d *sqliteDoc) ID() string   { return d.id }
func (d *sqliteDoc) Name() string { return d.name }

func (d *sqliteDoc) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != ?
		 ORDER BY rowid`, metaTable)
	if err != nil {
		return nil, d.wrap(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (d *sqliteDoc) Headers(ctx context.Context, table string) ([]string, error) {
	if !ValidTableName(table) {
		return nil, fmt.Errorf("table %q: %w", table, ErrInvalidName)
	}

	rows, err := d.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, d.wrap(err)
	}
	defer rows.Close()

	var headers []string
	found := false
	for rows.Next() {
		found = true
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name == "_row" {
			continue
		}
		headers = append(headers, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", table, ErrTableNotFound)
	}
	return headers, nil
}

func (d *sqliteDoc) CreateTable(ctx context.Context, table string, headers []string) error {
	if !ValidTableName(table) {
		return fmt.Errorf("table %q: %w", table, ErrInvalidName)
	}

	cols := make([]string, 0, len(headers)+1)
	cols = append(cols, "_row INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, h := range headers {
		cols = append(cols, quoteIdent(h)+" TEXT NOT NULL DEFAULT ''")
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))

	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		if isAlreadyExists(err) {
			return fmt.Errorf("create %s: %w", table, ErrTableExists)
		}
		return d.wrap(err)
	}
	return nil
}

func (d *sqliteDoc) AddColumns(ctx context.Context, table string, headers []string) error {
	if _, err := d.Headers(ctx, table); err != nil {
		return err
	}
	for _, h := range headers {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT NOT NULL DEFAULT ''", quoteIdent(table), quoteIdent(h))
		if _, err := d.db.ExecContext(ctx, stmt); err != nil && !isDuplicateColumn(err) {
			return d.wrap(err)
		}
	}
	return nil
}

func (d *sqliteDoc) AppendRow(ctx context.Context, table string, row []string) error {
	headers, err := d.Headers(ctx, table)
	if err != nil {
		return err
	}

	cols := make([]string, len(headers))
	marks := make([]string, len(headers))
	args := make([]any, len(headers))
	for i, h := range headers {
		cols[i] = quoteIdent(h)
		marks[i] = "?"
	}
	for i, v := range fitRow(row, len(headers)) {
		args[i] = v
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return d.wrap(err)
	}
	return nil
}

func (d *sqliteDoc) Rows(ctx context.Context, table string, limit int) ([][]string, error) {
	headers, err := d.Headers(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, nil
	}

	cols := make([]string, len(headers))
	for i, h := range headers {
		cols[i] = quoteIdent(h)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s ORDER BY _row", strings.Join(cols, ", "), quoteIdent(table))
	var args []any
	if limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, d.wrap(err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		vals := make([]string, len(headers))
		ptrs := make([]any, len(headers))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func (d *sqliteDoc) CountRows(ctx context.Context, table string) (int, error) {
	if !ValidTableName(table) {
		return 0, fmt.Errorf("table %q: %w", table, ErrInvalidName)
	}

	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	if err != nil {
		if isNoSuchTable(err) {
			return 0, fmt.Errorf("%s: %w", table, ErrTableNotFound)
		}
		return 0, d.wrap(err)
	}
	return n, nil
}

// wrap maps driver errors for a document whose file disappeared to ErrNotFound
func (d *sqliteDoc) wrap(err error) error {
	if _, statErr := os.Stat(d.path); errors.Is(statErr, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", d.id, ErrNotFound)
	}
	return err
}
