// Package provision lazily creates, binds and heals each tenant's backing
// document.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeventbooks/eventdb/internal/document"
	"github.com/zeventbooks/eventdb/internal/metrics"
	"github.com/zeventbooks/eventdb/internal/model"
	"github.com/zeventbooks/eventdb/internal/schema"
	"github.com/zeventbooks/eventdb/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrProvisioningFailed is returned when no ready document could be obtained
var ErrProvisioningFailed = errors.New("store provisioning failed")

// ErrBindingConflict is returned when the binding was removed while a
// replacement document was being created
var ErrBindingConflict = errors.New("binding changed concurrently")

// DefaultTimeout bounds one provisioning run when none is configured
const DefaultTimeout = 20 * time.Second

// DocumentSpec returns the document to create for a tenant, e.g. "abc_DB"
// named "ABC_DB - Database".
func DocumentSpec(tenantID string) document.Spec {
	key := tenantID + "_DB"
	return document.Spec{
		Key:  key,
		Name: strings.ToUpper(key) + " - Database",
	}
}

// Provisioner returns a ready document for a tenant, creating it on first use
// and re-creating it when the bound document has disappeared.
type Provisioner struct {
	bindings store.BindingStore
	docs     document.Service
	schema   *schema.Manager
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	group singleflight.Group
	now   func() time.Time
}

// NewProvisioner creates a new provisioner
func NewProvisioner(
	bindings store.BindingStore,
	docs document.Service,
	schemaManager *schema.Manager,
	timeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Provisioner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if schemaManager == nil {
		schemaManager = schema.NewManager(nil, logger)
	}
	return &Provisioner{
		bindings: bindings,
		docs:     docs,
		schema:   schemaManager,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// GetStore returns the tenant's document with every required table present.
// Concurrent calls for the same tenant share one provisioning run, which is
// not cancelled when the first caller goes away. A caller whose ctx ends
// stops waiting and gets an error; the run itself continues.
func (p *Provisioner) GetStore(ctx context.Context, tenantID string) (document.Handle, error) {
	ch := p.group.DoChan(tenantID, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.run(runCtx, tenantID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(document.Handle), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: tenant %s: %w", ErrProvisioningFailed, tenantID, ctx.Err())
	}
}

// Lookup returns the tenant's current binding without provisioning.
// store.ErrNotFound means the tenant has not been provisioned yet.
func (p *Provisioner) Lookup(ctx context.Context, tenantID string) (*model.Binding, error) {
	return p.bindings.Get(ctx, tenantID)
}

// Warm provisions every tenant in tenantIDs with at most concurrency runs in
// flight. All tenants are attempted; the first error is returned.
func (p *Provisioner) Warm(ctx context.Context, tenantIDs []string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, id := range tenantIDs {
		tenantID := id
		g.Go(func() error {
			h, err := p.GetStore(ctx, tenantID)
			if err != nil {
				return err
			}
			p.logger.Debug("tenant store warmed",
				zap.String("tenant_id", tenantID),
				zap.String("document_id", h.ID()))
			return nil
		})
	}

	return g.Wait()
}

// run provisions once and retries the whole attempt once on failure
func (p *Provisioner) run(ctx context.Context, tenantID string) (document.Handle, error) {
	start := p.now()

	h, outcome, err := p.provision(ctx, tenantID)
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("provisioning attempt failed, retrying",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		h, outcome, err = p.provision(ctx, tenantID)
	}

	if err != nil {
		p.metrics.RecordProvisioning(metrics.OutcomeFailed, time.Since(start))
		p.logger.Error("provisioning failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: tenant %s: %w", ErrProvisioningFailed, tenantID, err)
	}

	p.metrics.RecordProvisioning(outcome, time.Since(start))
	if outcome != metrics.OutcomeReused {
		p.logger.Info("tenant store provisioned",
			zap.String("tenant_id", tenantID),
			zap.String("document_id", h.ID()),
			zap.String("outcome", outcome))
	}
	return h, nil
}

func (p *Provisioner) provision(ctx context.Context, tenantID string) (document.Handle, string, error) {
	outcome := metrics.OutcomeCreated
	previous := ""

	binding, err := p.bindings.Get(ctx, tenantID)
	switch {
	case err == nil:
		h, openErr := p.open(ctx, binding.DocumentID)
		if openErr == nil {
			if err := p.ensureSchema(ctx, h); err != nil {
				return nil, "", err
			}
			return h, metrics.OutcomeReused, nil
		}
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("open document %s: %w", binding.DocumentID, openErr)
		}

		p.logger.Warn("bound document is gone, re-provisioning",
			zap.String("tenant_id", tenantID),
			zap.String("document_id", binding.DocumentID),
			zap.Error(openErr))
		previous = binding.DocumentID
		outcome = metrics.OutcomeHealed
	case errors.Is(err, store.ErrNotFound):
		// Not provisioned yet.
	default:
		return nil, "", fmt.Errorf("read binding: %w", err)
	}

	h, err := p.docs.Create(ctx, DocumentSpec(tenantID))
	if err != nil {
		return nil, "", fmt.Errorf("create document: %w", err)
	}

	current, swapped, err := p.bindings.CompareAndSet(ctx, &model.Binding{
		TenantID:   tenantID,
		DocumentID: h.ID(),
		UpdatedAt:  p.now().UTC(),
	}, previous)
	if err != nil {
		return nil, "", fmt.Errorf("write binding: %w", err)
	}

	if !swapped {
		// Another gateway sharing the binding store bound the tenant first.
		p.discard(ctx, tenantID, h)
		if current == nil {
			return nil, "", ErrBindingConflict
		}
		h, err = p.open(ctx, current.DocumentID)
		if err != nil {
			return nil, "", fmt.Errorf("open document %s: %w", current.DocumentID, err)
		}
		outcome = metrics.OutcomeReused
	}

	if err := p.ensureSchema(ctx, h); err != nil {
		return nil, "", err
	}
	return h, outcome, nil
}

// discard deletes a document that lost the race for the tenant's binding
func (p *Provisioner) discard(ctx context.Context, tenantID string, h document.Handle) {
	p.logger.Info("binding claimed concurrently, discarding new document",
		zap.String("tenant_id", tenantID),
		zap.String("document_id", h.ID()))
	if err := p.docs.Delete(ctx, h.ID()); err != nil && !errors.Is(err, document.ErrNotFound) {
		p.logger.Warn("failed to discard document",
			zap.String("tenant_id", tenantID),
			zap.String("document_id", h.ID()),
			zap.Error(err))
	}
}

// open treats document.ErrNotFound as final and retries anything else once
func (p *Provisioner) open(ctx context.Context, id string) (document.Handle, error) {
	h, err := p.docs.Open(ctx, id)
	if err == nil || errors.Is(err, document.ErrNotFound) || ctx.Err() != nil {
		return h, err
	}

	p.logger.Debug("document open failed, retrying",
		zap.String("document_id", id),
		zap.Error(err))
	return p.docs.Open(ctx, id)
}

func (p *Provisioner) ensureSchema(ctx context.Context, h document.Handle) error {
	report, err := p.schema.Ensure(ctx, h)
	if err != nil {
		return err
	}
	if report.Changed() {
		p.metrics.RecordSchemaChange()
	}
	return nil
}
