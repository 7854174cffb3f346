// Package schema ensures every tenant document carries the required tables.
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeventbooks/eventdb/internal/document"
	"github.com/zeventbooks/eventdb/internal/model"
	"go.uber.org/zap"
)

// ErrSchemaInit is returned when a required table could not be created
var ErrSchemaInit = errors.New("schema initialization failed")

// Table names
const (
	TableReadme    = "README"
	TableEvents    = "EVENTS"
	TableSponsors  = "SPONSORS"
	TableAnalytics = "ANALYTICS"
	TableDiag      = "DIAG"
)

// Required returns the ordered list of tables every document must have.
// README is always first. New tables and headers may only be appended.
func Required() []model.TableSpec {
	return []model.TableSpec{
		{
			Name:    TableReadme,
			Headers: []string{"Section", "Details"},
			Rows: [][]string{
				{"About", "This document is the database for one tenant of the event toolkit. It was created automatically."},
				{"Tables", "EVENTS, SPONSORS, ANALYTICS and DIAG hold application data. Keep the header row of each table intact."},
				{"Editing", "Rows may be edited by hand. Do not rename or delete tables; missing tables are recreated empty."},
				{"Deleting", "If this document is deleted, a new empty one is created on the next request."},
			},
		},
		{
			Name:    TableEvents,
			Headers: []string{"id", "name", "dateISO", "timeISO", "location", "summary", "status", "createdAt", "updatedAt"},
		},
		{
			Name:    TableSponsors,
			Headers: []string{"id", "eventId", "name", "logoUrl", "website", "tier", "createdAt"},
		},
		{
			Name:    TableAnalytics,
			Headers: []string{"timestamp", "eventId", "surface", "metric", "sponsorId", "value", "userAgent"},
		},
		{
			Name:    TableDiag,
			Headers: []string{"timestamp", "level", "where", "message", "details"},
		},
	}
}

// Report lists the changes made by Ensure. An empty report means the
// document already matched the schema.
type Report struct {
	CreatedTables []string            `json:"createdTables,omitempty"`
	AddedColumns  map[string][]string `json:"addedColumns,omitempty"`
	SeededTables  []string            `json:"seededTables,omitempty"`
}

// Changed reports whether Ensure modified the document
func (r Report) Changed() bool {
	return len(r.CreatedTables) > 0 || len(r.AddedColumns) > 0 || len(r.SeededTables) > 0
}

// Manager creates missing tables and header columns
type Manager struct {
	tables []model.TableSpec
	logger *zap.Logger
}

// NewManager creates a schema manager for the given table list.
// A nil list uses Required().
func NewManager(tables []model.TableSpec, logger *zap.Logger) *Manager {
	if tables == nil {
		tables = Required()
	}
	return &Manager{
		tables: tables,
		logger: logger,
	}
}

// Tables returns the managed table specs in order
func (m *Manager) Tables() []model.TableSpec {
	return m.tables
}

// Ensure makes h contain every required table with every required header.
// Existing tables, columns and rows are never dropped or rewritten.
func (m *Manager) Ensure(ctx context.Context, h document.Handle) (Report, error) {
	var report Report

	existing, err := h.Tables(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: list tables of %s: %w", ErrSchemaInit, h.ID(), err)
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	for _, spec := range m.tables {
		if !present[spec.Name] {
			created, err := m.createTable(ctx, h, spec)
			if err != nil {
				return report, err
			}
			if created {
				report.CreatedTables = append(report.CreatedTables, spec.Name)
			}
			continue
		}

		added, err := m.addMissingHeaders(ctx, h, spec)
		if err != nil {
			return report, err
		}
		if len(added) > 0 {
			if report.AddedColumns == nil {
				report.AddedColumns = make(map[string][]string)
			}
			report.AddedColumns[spec.Name] = added
		}

		// A table whose seeding was interrupted is left empty; seed it again.
		seeded, err := m.seedIfEmpty(ctx, h, spec)
		if err != nil {
			return report, err
		}
		if seeded {
			report.SeededTables = append(report.SeededTables, spec.Name)
		}
	}

	if report.Changed() {
		m.logger.Info("schema updated",
			zap.String("document_id", h.ID()),
			zap.Strings("created_tables", report.CreatedTables),
			zap.Strings("seeded_tables", report.SeededTables),
			zap.Int("tables_with_new_columns", len(report.AddedColumns)))
	}

	return report, nil
}

func (m *Manager) createTable(ctx context.Context, h document.Handle, spec model.TableSpec) (bool, error) {
	err := h.CreateTable(ctx, spec.Name, spec.Headers)
	if errors.Is(err, document.ErrTableExists) {
		// Created concurrently; headers are reconciled on the next Ensure.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: create %s in %s: %w", ErrSchemaInit, spec.Name, h.ID(), err)
	}

	if err := m.seed(ctx, h, spec); err != nil {
		return true, err
	}
	return true, nil
}

// seedIfEmpty writes the spec's rows into an existing table that has none.
// Tables with any rows are left alone, so hand edits survive.
func (m *Manager) seedIfEmpty(ctx context.Context, h document.Handle, spec model.TableSpec) (bool, error) {
	if len(spec.Rows) == 0 {
		return false, nil
	}

	n, err := h.CountRows(ctx, spec.Name)
	if err != nil {
		return false, fmt.Errorf("%w: count rows of %s in %s: %w", ErrSchemaInit, spec.Name, h.ID(), err)
	}
	if n > 0 {
		return false, nil
	}

	if err := m.seed(ctx, h, spec); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) seed(ctx context.Context, h document.Handle, spec model.TableSpec) error {
	for _, row := range spec.Rows {
		if err := h.AppendRow(ctx, spec.Name, row); err != nil {
			return fmt.Errorf("%w: seed %s in %s: %w", ErrSchemaInit, spec.Name, h.ID(), err)
		}
	}
	return nil
}

func (m *Manager) addMissingHeaders(ctx context.Context, h document.Handle, spec model.TableSpec) ([]string, error) {
	headers, err := h.Headers(ctx, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: read headers of %s in %s: %w", ErrSchemaInit, spec.Name, h.ID(), err)
	}

	have := make(map[string]bool, len(headers))
	for _, name := range headers {
		have[name] = true
	}

	var missing []string
	for _, name := range spec.Headers {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	if err := h.AddColumns(ctx, spec.Name, missing); err != nil {
		return nil, fmt.Errorf("%w: add columns to %s in %s: %w", ErrSchemaInit, spec.Name, h.ID(), err)
	}
	return missing, nil
}
