package model

import "time"

// Tenant represents a tenant's static configuration
type Tenant struct {
	ID          string
	Name        string
	AdminSecret string
	Features    map[string]bool
}

// FeatureEnabled reports whether a feature flag is switched on for the tenant
func (t *Tenant) FeatureEnabled(name string) bool {
	if t == nil {
		return false
	}
	return t.Features[name]
}

// Binding is the persisted tenant -> document mapping
type Binding struct {
	TenantID   string
	DocumentID string
	UpdatedAt  time.Time
}
