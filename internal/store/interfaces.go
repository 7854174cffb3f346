package store

import (
	"context"
	"errors"

	"github.com/zeventbooks/eventdb/internal/model"
)

// ErrNotFound is returned when no binding exists for a tenant
var ErrNotFound = errors.New("not found")

// BindingStore persists tenant -> document bindings across restarts.
// The store provisioner is the only writer.
type BindingStore interface {
	Get(ctx context.Context, tenantID string) (*model.Binding, error)
	Set(ctx context.Context, binding *model.Binding) error
	Delete(ctx context.Context, tenantID string) error

	// CompareAndSet writes binding only if the tenant's current document id
	// equals previous, where "" means no binding. It returns the binding held
	// after the call (nil if none) and whether binding was written.
	CompareAndSet(ctx context.Context, binding *model.Binding, previous string) (*model.Binding, bool, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}
