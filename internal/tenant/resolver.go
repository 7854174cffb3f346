// Package tenant resolves tenant ids to their static configuration.
package tenant

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zeventbooks/eventdb/internal/config"
	"github.com/zeventbooks/eventdb/internal/model"
)

// ErrUnknownTenant is returned for ids outside the configured tenant set
var ErrUnknownTenant = errors.New("unknown tenant")

// Resolver looks up tenants loaded once at start-up. It is read-only and
// safe for concurrent use.
type Resolver struct {
	tenants       map[string]*model.Tenant
	order         []string
	defaultTenant string
}

// NewResolver builds a resolver from the tenant configuration
func NewResolver(tenants []config.TenantConfig, defaultTenant string) (*Resolver, error) {
	r := &Resolver{
		tenants:       make(map[string]*model.Tenant, len(tenants)),
		defaultTenant: normalizeID(defaultTenant),
	}

	for _, tc := range tenants {
		id := normalizeID(tc.ID)
		if id == "" {
			return nil, errors.New("tenant with empty id")
		}
		if _, exists := r.tenants[id]; exists {
			return nil, fmt.Errorf("duplicate tenant id: %s", id)
		}

		features := make(map[string]bool, len(tc.Features))
		for name, on := range tc.Features {
			features[name] = on
		}
		name := tc.Name
		if name == "" {
			name = id
		}

		r.tenants[id] = &model.Tenant{
			ID:          id,
			Name:        name,
			AdminSecret: tc.AdminSecret,
			Features:    features,
		}
		r.order = append(r.order, id)
	}

	if _, ok := r.tenants[r.defaultTenant]; !ok {
		return nil, fmt.Errorf("default tenant %q is not configured", defaultTenant)
	}
	return r, nil
}

// Resolve returns the tenant with the given id. Ids are matched
// case-insensitively after trimming.
func (r *Resolver) Resolve(tenantID string) (*model.Tenant, error) {
	t, ok := r.tenants[normalizeID(tenantID)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTenant, tenantID)
	}
	return t, nil
}

// Default returns the id used when a request names no tenant
func (r *Resolver) Default() string {
	return r.defaultTenant
}

// List returns all tenants in configuration order
func (r *Resolver) List() []*model.Tenant {
	out := make([]*model.Tenant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tenants[id])
	}
	return out
}

// IDs returns all tenant ids in configuration order
func (r *Resolver) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
