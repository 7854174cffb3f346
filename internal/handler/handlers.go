// Package handler provides the page handlers dispatched by the router. Pages
// return JSON payloads built from the tenant's document.
package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/zeventbooks/eventdb/internal/converter"
	"github.com/zeventbooks/eventdb/internal/document"
	apierrors "github.com/zeventbooks/eventdb/internal/errors"
	"github.com/zeventbooks/eventdb/internal/model"
	"github.com/zeventbooks/eventdb/internal/router"
	"github.com/zeventbooks/eventdb/internal/schema"
	"github.com/zeventbooks/eventdb/internal/store"
	"github.com/zeventbooks/eventdb/internal/version"
	"go.uber.org/zap"
)

// Page names
const (
	PageStatus      = "status"
	PagePublic      = "public"
	PageDisplay     = "display"
	PagePoster      = "poster"
	PageSponsors    = "sponsors"
	PageAdmin       = "admin"
	PageConfig      = "config"
	PageReport      = "report"
	PageAPI         = "api"
	PageDiagnostics = "diagnostics"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// BindingLookup reports a tenant's current binding.
type BindingLookup interface {
	Lookup(ctx context.Context, tenantID string) (*model.Binding, error)
}

// LockChecker reports whether a tenant's admin secret is a placeholder.
type LockChecker interface {
	Locked(tenant *model.Tenant) bool
}

// TenantLister lists configured tenants.
type TenantLister interface {
	List() []*model.Tenant
}

// Handlers contains all page handlers and their dependencies.
type Handlers struct {
	bindings BindingLookup
	locks    LockChecker
	tenants  TenantLister
	schema   *schema.Manager
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	bindings BindingLookup,
	locks LockChecker,
	tenants TenantLister,
	schemaManager *schema.Manager,
	logger *zap.Logger,
) *Handlers {
	if schemaManager == nil {
		schemaManager = schema.NewManager(nil, logger)
	}
	return &Handlers{
		bindings: bindings,
		locks:    locks,
		tenants:  tenants,
		schema:   schemaManager,
		logger:   logger,
		now:      time.Now,
	}
}

// Register adds every page and the legacy page aliases to r.
func (h *Handlers) Register(r *router.Router) {
	r.Register(router.Page{Name: PageStatus, StoreOptional: true, Handler: h.Status})
	r.Register(router.Page{Name: PagePublic, Handler: h.Public})
	r.Register(router.Page{Name: PageDisplay, Handler: h.Display})
	r.Register(router.Page{Name: PagePoster, Handler: h.Poster})
	r.Register(router.Page{Name: PageSponsors, Handler: h.Sponsors})
	r.Register(router.Page{Name: PageAdmin, Privileged: true, Handler: h.Admin})
	r.Register(router.Page{Name: PageConfig, Privileged: true, Handler: h.Config})
	r.Register(router.Page{Name: PageReport, Privileged: true, Handler: h.Report})
	r.Register(router.Page{Name: PageAPI, Privileged: true, Handler: h.API})
	r.Register(router.Page{Name: PageDiagnostics, Privileged: true, Handler: h.Diagnostics})

	r.Alias("events", PagePublic)
	r.Alias("manage", PageAdmin)
	r.Alias("reports", PageReport)
	r.Alias("sponsor", PageSponsors)
}

// StoreStatus reports whether the tenant's document is ready.
type StoreStatus struct {
	OK bool   `json:"ok"`
	ID string `json:"id,omitempty"`
}

// StatusResponse is the status page payload.
type StatusResponse struct {
	Build    string          `json:"build"`
	Contract string          `json:"contract"`
	Tenant   string          `json:"tenant"`
	Store    StoreStatus     `json:"store"`
	Time     string          `json:"time"`
	Features map[string]bool `json:"features"`
}

// Status reports build, store health and feature flags. It is served even
// when the store could not be provisioned.
func (h *Handlers) Status(ctx context.Context, req *router.Request) (interface{}, error) {
	resp := StatusResponse{
		Build:    version.Build,
		Contract: version.Contract,
		Tenant:   req.Tenant.ID,
		Time:     h.now().UTC().Format(time.RFC3339),
		Features: features(req.Tenant),
	}
	if req.Store != nil {
		resp.Store = StoreStatus{OK: true, ID: req.Store.ID()}
	}
	return resp, nil
}

// EventsResponse is the public page payload.
type EventsResponse struct {
	Tenant string             `json:"tenant"`
	Name   string             `json:"name"`
	Events []converter.Record `json:"events"`
}

// Public lists the tenant's events.
func (h *Handlers) Public(ctx context.Context, req *router.Request) (interface{}, error) {
	events, err := readRecords(ctx, req.Store, schema.TableEvents, converter.Limit(req.Params, "limit", defaultLimit, maxLimit))
	if err != nil {
		return nil, err
	}
	return EventsResponse{
		Tenant: req.Tenant.ID,
		Name:   req.Tenant.Name,
		Events: events,
	}, nil
}

// DisplayResponse is the display page payload.
type DisplayResponse struct {
	Tenant   string             `json:"tenant"`
	Events   []converter.Record `json:"events"`
	Sponsors []converter.Record `json:"sponsors"`
}

// Display returns events and sponsors for a signage screen.
func (h *Handlers) Display(ctx context.Context, req *router.Request) (interface{}, error) {
	limit := converter.Limit(req.Params, "limit", defaultLimit, maxLimit)
	events, err := readRecords(ctx, req.Store, schema.TableEvents, limit)
	if err != nil {
		return nil, err
	}
	sponsors, err := readRecords(ctx, req.Store, schema.TableSponsors, 0)
	if err != nil {
		return nil, err
	}
	return DisplayResponse{
		Tenant:   req.Tenant.ID,
		Events:   events,
		Sponsors: sponsors,
	}, nil
}

// PosterResponse is the poster page payload.
type PosterResponse struct {
	Event    converter.Record   `json:"event"`
	Sponsors []converter.Record `json:"sponsors"`
}

// Poster returns one event, selected by "id", with its sponsors.
func (h *Handlers) Poster(ctx context.Context, req *router.Request) (interface{}, error) {
	id := strings.TrimSpace(req.Params.Get("id"))
	if id == "" {
		return nil, apierrors.New(apierrors.ErrorCodeNotFound, "event id is required")
	}

	events, err := readRecords(ctx, req.Store, schema.TableEvents, 0)
	if err != nil {
		return nil, err
	}
	matches := converter.Filter(events, "id", id)
	if len(matches) == 0 {
		return nil, apierrors.New(apierrors.ErrorCodeNotFound, "event not found")
	}

	sponsors, err := readRecords(ctx, req.Store, schema.TableSponsors, 0)
	if err != nil {
		return nil, err
	}
	return PosterResponse{
		Event:    matches[0],
		Sponsors: nonNil(converter.Filter(sponsors, "eventId", id)),
	}, nil
}

// SponsorsResponse is the sponsors page payload.
type SponsorsResponse struct {
	Tenant   string             `json:"tenant"`
	Sponsors []converter.Record `json:"sponsors"`
}

// Sponsors lists sponsors, optionally for one event ("eventId").
func (h *Handlers) Sponsors(ctx context.Context, req *router.Request) (interface{}, error) {
	sponsors, err := readRecords(ctx, req.Store, schema.TableSponsors, 0)
	if err != nil {
		return nil, err
	}
	if eventID := strings.TrimSpace(req.Params.Get("eventId")); eventID != "" {
		sponsors = nonNil(converter.Filter(sponsors, "eventId", eventID))
	}
	return SponsorsResponse{
		Tenant:   req.Tenant.ID,
		Sponsors: sponsors,
	}, nil
}

// DocumentInfo identifies the tenant's document.
type DocumentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AdminResponse is the admin page payload.
type AdminResponse struct {
	Tenant   TenantInfo    `json:"tenant"`
	Document DocumentInfo  `json:"document"`
	Tables   []model.Table `json:"tables"`
}

// TenantInfo is the public part of a tenant's configuration.
type TenantInfo struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Features map[string]bool `json:"features"`
}

// Admin summarizes the tenant's document.
func (h *Handlers) Admin(ctx context.Context, req *router.Request) (interface{}, error) {
	tables, err := describeTables(ctx, req.Store)
	if err != nil {
		return nil, err
	}
	return AdminResponse{
		Tenant:   tenantInfo(req.Tenant),
		Document: DocumentInfo{ID: req.Store.ID(), Name: req.Store.Name()},
		Tables:   tables,
	}, nil
}

// Config returns the tenant's configuration without its secret.
func (h *Handlers) Config(ctx context.Context, req *router.Request) (interface{}, error) {
	return tenantInfo(req.Tenant), nil
}

// ReportResponse is the report page payload.
type ReportResponse struct {
	Tenant    string             `json:"tenant"`
	EventID   string             `json:"eventId,omitempty"`
	Rows      int                `json:"rows"`
	BySurface map[string]int     `json:"bySurface"`
	ByMetric  map[string]int     `json:"byMetric"`
	Totals    map[string]float64 `json:"totals"`
}

// Report aggregates the ANALYTICS table, optionally for one event ("eventId").
func (h *Handlers) Report(ctx context.Context, req *router.Request) (interface{}, error) {
	records, err := readRecords(ctx, req.Store, schema.TableAnalytics, 0)
	if err != nil {
		return nil, err
	}

	eventID := strings.TrimSpace(req.Params.Get("eventId"))
	if eventID != "" {
		records = converter.Filter(records, "eventId", eventID)
	}

	resp := ReportResponse{
		Tenant:    req.Tenant.ID,
		EventID:   eventID,
		Rows:      len(records),
		BySurface: make(map[string]int),
		ByMetric:  make(map[string]int),
		Totals:    make(map[string]float64),
	}
	for _, rec := range records {
		resp.BySurface[rec["surface"]]++
		resp.ByMetric[rec["metric"]]++
		if v, err := strconv.ParseFloat(strings.TrimSpace(rec["value"]), 64); err == nil {
			resp.Totals[rec["metric"]] += v
		}
	}
	return resp, nil
}

// RowsResponse is the api page payload for action=rows.
type RowsResponse struct {
	Table   string             `json:"table"`
	Headers []string           `json:"headers"`
	Rows    []converter.Record `json:"rows"`
}

// API exposes read access to the tenant's tables. Actions: "tables"
// (default) lists tables; "rows" returns rows of "table".
func (h *Handlers) API(ctx context.Context, req *router.Request) (interface{}, error) {
	switch action := strings.ToLower(strings.TrimSpace(req.Params.Get("action"))); action {
	case "", "tables":
		return describeTables(ctx, req.Store)
	case "rows":
		table := strings.TrimSpace(req.Params.Get("table"))
		headers, err := req.Store.Headers(ctx, table)
		if errors.Is(err, document.ErrTableNotFound) || errors.Is(err, document.ErrInvalidName) {
			return nil, apierrors.New(apierrors.ErrorCodeNotFound, "table not found")
		}
		if err != nil {
			return nil, err
		}
		rows, err := req.Store.Rows(ctx, table, converter.Limit(req.Params, "limit", defaultLimit, maxLimit))
		if err != nil {
			return nil, err
		}
		return RowsResponse{
			Table:   table,
			Headers: headers,
			Rows:    converter.Records(headers, rows),
		}, nil
	default:
		return nil, apierrors.New(apierrors.ErrorCodeNotFound, "unknown action")
	}
}

// BindingInfo is the diagnostics view of a binding.
type BindingInfo struct {
	DocumentID string `json:"documentId"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

// SchemaCheck lists required tables and headers a document lacks.
type SchemaCheck struct {
	OK             bool                `json:"ok"`
	MissingTables  []string            `json:"missingTables,omitempty"`
	MissingColumns map[string][]string `json:"missingColumns,omitempty"`
}

// DiagnosticsResponse is the diagnostics page payload.
type DiagnosticsResponse struct {
	Tenant        string        `json:"tenant"`
	Build         string        `json:"build"`
	Contract      string        `json:"contract"`
	Time          string        `json:"time"`
	Binding       *BindingInfo  `json:"binding"`
	Document      DocumentInfo  `json:"document"`
	Schema        SchemaCheck   `json:"schema"`
	Tables        []model.Table `json:"tables"`
	LockedTenants []string      `json:"lockedTenants"`
}

// Diagnostics reports the tenant's binding, schema state and which tenants
// are locked out by a placeholder admin secret.
func (h *Handlers) Diagnostics(ctx context.Context, req *router.Request) (interface{}, error) {
	resp := DiagnosticsResponse{
		Tenant:        req.Tenant.ID,
		Build:         version.Build,
		Contract:      version.Contract,
		Time:          h.now().UTC().Format(time.RFC3339),
		Document:      DocumentInfo{ID: req.Store.ID(), Name: req.Store.Name()},
		LockedTenants: []string{},
	}

	binding, err := h.bindings.Lookup(ctx, req.Tenant.ID)
	switch {
	case err == nil:
		resp.Binding = &BindingInfo{DocumentID: binding.DocumentID}
		if !binding.UpdatedAt.IsZero() {
			resp.Binding.UpdatedAt = binding.UpdatedAt.UTC().Format(time.RFC3339)
		}
	case errors.Is(err, store.ErrNotFound):
		// Binding is nil in the payload.
	default:
		h.logger.Warn("binding lookup failed",
			zap.String("tenant_id", req.Tenant.ID),
			zap.Error(err))
	}

	tables, err := describeTables(ctx, req.Store)
	if err != nil {
		return nil, err
	}
	resp.Tables = tables
	resp.Schema = h.checkSchema(tables)

	for _, t := range h.tenants.List() {
		if h.locks.Locked(t) {
			resp.LockedTenants = append(resp.LockedTenants, t.ID)
		}
	}
	return resp, nil
}

func (h *Handlers) checkSchema(tables []model.Table) SchemaCheck {
	present := make(map[string]model.Table, len(tables))
	for _, t := range tables {
		present[t.Name] = t
	}

	check := SchemaCheck{OK: true}
	for _, spec := range h.schema.Tables() {
		t, ok := present[spec.Name]
		if !ok {
			check.OK = false
			check.MissingTables = append(check.MissingTables, spec.Name)
			continue
		}
		have := make(map[string]bool, len(t.Headers))
		for _, name := range t.Headers {
			have[name] = true
		}
		for _, name := range spec.Headers {
			if !have[name] {
				check.OK = false
				if check.MissingColumns == nil {
					check.MissingColumns = make(map[string][]string)
				}
				check.MissingColumns[spec.Name] = append(check.MissingColumns[spec.Name], name)
			}
		}
	}
	return check
}

func readRecords(ctx context.Context, doc document.Handle, table string, limit int) ([]converter.Record, error) {
	headers, err := doc.Headers(ctx, table)
	if err != nil {
		return nil, err
	}
	rows, err := doc.Rows(ctx, table, limit)
	if err != nil {
		return nil, err
	}
	return converter.Records(headers, rows), nil
}

func describeTables(ctx context.Context, doc document.Handle) ([]model.Table, error) {
	names, err := doc.Tables(ctx)
	if err != nil {
		return nil, err
	}

	tables := make([]model.Table, 0, len(names))
	for _, name := range names {
		headers, err := doc.Headers(ctx, name)
		if err != nil {
			return nil, err
		}
		n, err := doc.CountRows(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, model.Table{Name: name, Headers: headers, Rows: n})
	}
	return tables, nil
}

func tenantInfo(t *model.Tenant) TenantInfo {
	return TenantInfo{
		ID:       t.ID,
		Name:     t.Name,
		Features: features(t),
	}
}

// features returns a copy of the tenant's flags, never nil
func features(t *model.Tenant) map[string]bool {
	out := make(map[string]bool, len(t.Features))
	for k, v := range t.Features {
		out[k] = v
	}
	return out
}

func nonNil(records []converter.Record) []converter.Record {
	if records == nil {
		return []converter.Record{}
	}
	return records
}
