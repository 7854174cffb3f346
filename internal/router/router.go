// Package router resolves the tenant and page of a request, guards
// privileged pages and dispatches to page handlers with a ready store.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/zeventbooks/eventdb/internal/document"
	apierrors "github.com/zeventbooks/eventdb/internal/errors"
	"github.com/zeventbooks/eventdb/internal/metrics"
	"github.com/zeventbooks/eventdb/internal/model"
	"go.uber.org/zap"
)

// Request parameters
const (
	ParamTenant   = "tenant"
	ParamPage     = "page"
	ParamPageAlt  = "p"
	ParamAdminKey = "adminKey"
)

// DefaultPage is served when a request names no page
const DefaultPage = "public"

// State is the last step a request reached.
type State string

const (
	StateParsed         State = "PARSED"
	StateTenantResolved State = "TENANT_RESOLVED"
	StateAuthorized     State = "AUTHORIZED"
	StateDenied         State = "DENIED"
	StateStoreReady     State = "STORE_READY"
	StateDispatched     State = "DISPATCHED"
	StateFailed         State = "FAILED"
)

// TenantResolver looks up tenant configuration.
type TenantResolver interface {
	Resolve(tenantID string) (*model.Tenant, error)
	Default() string
}

// Authorizer checks admin keys.
type Authorizer interface {
	Authorize(tenant *model.Tenant, key string) bool
}

// StoreProvider returns a tenant's ready document.
type StoreProvider interface {
	GetStore(ctx context.Context, tenantID string) (document.Handle, error)
}

// HandlerFunc serves one page. The returned value becomes the envelope
// payload. Returning an *apierrors.Error fails with its code; any other
// error fails with Internal.
type HandlerFunc func(ctx context.Context, req *Request) (interface{}, error)

// Page is a routable request target.
type Page struct {
	Name string
	// Privileged pages require the tenant's admin key.
	Privileged bool
	// StoreOptional pages are dispatched even when provisioning fails, with
	// Request.Store nil and Request.StoreErr set.
	StoreOptional bool
	Handler       HandlerFunc
}

// Request is the per-request context passed to handlers.
type Request struct {
	Tenant   *model.Tenant
	Page     string
	Params   url.Values
	Store    document.Handle
	StoreErr error
	State    State
}

// Response is the outcome of Handle.
type Response struct {
	State    State
	Status   int
	TenantID string
	Page     string
	Envelope apierrors.Envelope
}

// Router dispatches requests to registered pages.
type Router struct {
	tenants TenantResolver
	guard   Authorizer
	stores  StoreProvider
	metrics *metrics.Metrics
	logger  *zap.Logger

	pages   map[string]Page
	aliases map[string]string
}

// New creates a router with no pages.
func New(tenants TenantResolver, guard Authorizer, stores StoreProvider, m *metrics.Metrics, logger *zap.Logger) *Router {
	return &Router{
		tenants: tenants,
		guard:   guard,
		stores:  stores,
		metrics: m,
		logger:  logger,
		pages:   make(map[string]Page),
		aliases: make(map[string]string),
	}
}

// Register adds a page. Registering a name twice replaces the page.
func (r *Router) Register(page Page) {
	page.Name = normalize(page.Name)
	r.pages[page.Name] = page
}

// Alias makes alias resolve to the page named target.
func (r *Router) Alias(alias, target string) {
	r.aliases[normalize(alias)] = normalize(target)
}

// Pages returns the registered page names, sorted.
func (r *Router) Pages() []string {
	names := make([]string, 0, len(r.pages))
	for name := range r.pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the page a name or alias resolves to.
func (r *Router) Lookup(name string) (Page, bool) {
	name = normalize(name)
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	page, ok := r.pages[name]
	return page, ok
}

// TenantID returns the configured tenant id a raw tenant parameter names.
// A blank value names the default tenant.
func (r *Router) TenantID(raw string) (string, bool) {
	id := strings.TrimSpace(raw)
	if id == "" {
		id = r.tenants.Default()
	}
	tenant, err := r.tenants.Resolve(id)
	if err != nil {
		return "", false
	}
	return tenant.ID, true
}

// Handle runs a request through tenant resolution, authorization,
// provisioning and dispatch. It never panics and never returns internal
// error text to the caller.
func (r *Router) Handle(ctx context.Context, params url.Values) Response {
	req := &Request{Params: params, State: StateParsed}

	tenantID := strings.TrimSpace(params.Get(ParamTenant))
	if tenantID == "" {
		tenantID = r.tenants.Default()
	}
	pageName := strings.TrimSpace(params.Get(ParamPage))
	if pageName == "" {
		pageName = strings.TrimSpace(params.Get(ParamPageAlt))
	}
	if pageName == "" {
		pageName = DefaultPage
	}

	page, ok := r.Lookup(pageName)
	if !ok {
		return r.fail(req, tenantID, "", StateFailed, apierrors.ErrorCodeNotFound)
	}
	req.Page = page.Name

	tenant, err := r.tenants.Resolve(tenantID)
	if err != nil {
		if page.Privileged {
			// Unknown tenants look the same as a wrong key on admin surfaces.
			return r.fail(req, tenantID, page.Name, StateDenied, apierrors.ErrorCodeAccessDenied)
		}
		return r.fail(req, tenantID, page.Name, StateFailed, apierrors.ErrorCodeUnknownTenant)
	}
	req.Tenant = tenant
	req.State = StateTenantResolved

	if page.Privileged {
		if !r.guard.Authorize(tenant, params.Get(ParamAdminKey)) {
			return r.fail(req, tenant.ID, page.Name, StateDenied, apierrors.ErrorCodeAccessDenied)
		}
		req.State = StateAuthorized
	}

	h, err := r.stores.GetStore(ctx, tenant.ID)
	if err != nil {
		r.logger.Error("tenant store unavailable",
			zap.String("tenant_id", tenant.ID),
			zap.String("page", page.Name),
			zap.Error(err))
		if !page.StoreOptional {
			return r.fail(req, tenant.ID, page.Name, StateFailed, apierrors.ErrorCodeProvisioningFailed)
		}
		req.StoreErr = err
	} else {
		req.Store = h
		req.State = StateStoreReady
	}

	value, err := r.dispatch(ctx, page, req)
	if err != nil {
		var coded *apierrors.Error
		if errors.As(err, &coded) {
			return r.failWithMessage(req, tenant.ID, page.Name, StateFailed, coded.Code, coded.Message)
		}
		r.logger.Error("page handler failed",
			zap.String("tenant_id", tenant.ID),
			zap.String("page", page.Name),
			zap.Error(err))
		return r.fail(req, tenant.ID, page.Name, StateFailed, apierrors.ErrorCodeInternal)
	}

	req.State = StateDispatched
	r.metrics.RecordRouterResponse(page.Name, "ok")
	return Response{
		State:    StateDispatched,
		Status:   http.StatusOK,
		TenantID: tenant.ID,
		Page:     page.Name,
		Envelope: apierrors.Success(value),
	}
}

// dispatch calls the page handler, turning a panic into an error
func (r *Router) dispatch(ctx context.Context, page Page, req *Request) (value interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			value = nil
			err = fmt.Errorf("panic in %s handler: %v", page.Name, rec)
		}
	}()
	return page.Handler(ctx, req)
}

func (r *Router) fail(req *Request, tenantID, page string, state State, code apierrors.ErrorCode) Response {
	return r.failWithMessage(req, tenantID, page, state, code, "")
}

func (r *Router) failWithMessage(req *Request, tenantID, page string, state State, code apierrors.ErrorCode, message string) Response {
	req.State = state
	label := page
	if label == "" {
		label = "unknown"
	}
	r.metrics.RecordRouterResponse(label, string(code))
	r.logger.Debug("request rejected",
		zap.String("tenant_id", tenantID),
		zap.String("page", page),
		zap.String("state", string(state)),
		zap.String("code", string(code)))

	return Response{
		State:    state,
		Status:   apierrors.HTTPStatus(code),
		TenantID: tenantID,
		Page:     page,
		Envelope: apierrors.Failure(code, message),
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
