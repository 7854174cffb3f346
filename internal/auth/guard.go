// Package auth guards admin-only pages with per-tenant shared secrets.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
	"sync"

	"github.com/zeventbooks/eventdb/internal/metrics"
	"github.com/zeventbooks/eventdb/internal/model"
	"go.uber.org/zap"
)

// PlaceholderSecret is the secret shipped in default configuration
const PlaceholderSecret = "CHANGE_ME"

var builtinPlaceholders = []string{PlaceholderSecret, "changeme"}

// Guard checks supplied admin keys against tenant secrets. A tenant whose
// secret is empty or a placeholder cannot be authorized with any key.
type Guard struct {
	placeholders map[string]bool
	metrics      *metrics.Metrics
	logger       *zap.Logger

	mu     sync.Mutex
	warned map[string]bool
}

// NewGuard creates a guard. extra lists additional placeholder secrets.
func NewGuard(extra []string, m *metrics.Metrics, logger *zap.Logger) *Guard {
	g := &Guard{
		placeholders: make(map[string]bool),
		metrics:      m,
		logger:       logger,
		warned:       make(map[string]bool),
	}
	for _, list := range [][]string{builtinPlaceholders, extra} {
		for _, s := range list {
			if s = strings.TrimSpace(s); s != "" {
				g.placeholders[s] = true
			}
		}
	}
	return g
}

// Authorize reports whether key is the tenant's admin secret. It never
// errors and gives the same answer for every kind of mismatch.
func (g *Guard) Authorize(tenant *model.Tenant, key string) bool {
	if tenant == nil || key == "" {
		return false
	}
	if g.Locked(tenant) {
		g.warnLocked(tenant)
		return false
	}

	want := sha256.Sum256([]byte(tenant.AdminSecret))
	got := sha256.Sum256([]byte(key))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

// Locked reports whether the tenant's secret is unset or a known placeholder
func (g *Guard) Locked(tenant *model.Tenant) bool {
	if tenant == nil {
		return true
	}
	secret := strings.TrimSpace(tenant.AdminSecret)
	if secret == "" || g.placeholders[secret] {
		return true
	}
	return strings.EqualFold(secret, PlaceholderSecret+"_"+tenant.ID)
}

// Audit checks every tenant once at start-up, logging and flagging the ones
// whose admin pages are locked.
func (g *Guard) Audit(tenants []*model.Tenant) []string {
	var locked []string
	for _, t := range tenants {
		isLocked := g.Locked(t)
		g.metrics.SetTenantLocked(t.ID, isLocked)
		if isLocked {
			g.warnLocked(t)
			locked = append(locked, t.ID)
		}
	}
	return locked
}

// warnLocked logs a lock-out once per tenant
func (g *Guard) warnLocked(tenant *model.Tenant) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.warned[tenant.ID] {
		return
	}
	g.warned[tenant.ID] = true
	g.metrics.SetTenantLocked(tenant.ID, true)
	g.logger.Warn("admin secret is unset or a placeholder, admin access is disabled",
		zap.String("tenant_id", tenant.ID))
}
