package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeventbooks/eventdb/internal/model"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const bindingBucket = "bindings"

// BoltBindingStore implements BindingStore on a local bbolt file
type BoltBindingStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

type boltBinding struct {
	DocumentID string    `json:"document_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewBoltBindingStore opens (or creates) the bbolt file at path
func NewBoltBindingStore(path string, logger *zap.Logger) (*BoltBindingStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("binding store path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open binding store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bindingBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bindings bucket: %w", err)
	}

	logger.Debug("opened bolt binding store", zap.String("path", path))

	return &BoltBindingStore{db: db, logger: logger}, nil
}

// Get retrieves the binding for a tenant
func (s *BoltBindingStore) Get(ctx context.Context, tenantID string) (*model.Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var stored boltBinding
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bindingBucket))
		if bucket == nil {
			return fmt.Errorf("bindings bucket is missing")
		}
		payload := bucket.Get([]byte(tenantID))
		if payload == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(payload, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal binding: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &model.Binding{
		TenantID:   tenantID,
		DocumentID: stored.DocumentID,
		UpdatedAt:  stored.UpdatedAt,
	}, nil
}

// Set stores or overwrites the binding for a tenant
func (s *BoltBindingStore) Set(ctx context.Context, binding *model.Binding) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	updatedAt := binding.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(boltBinding{DocumentID: binding.DocumentID, UpdatedAt: updatedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal binding: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bindingBucket))
		if bucket == nil {
			return fmt.Errorf("bindings bucket is missing")
		}
		return bucket.Put([]byte(binding.TenantID), payload)
	})
}

// CompareAndSet writes binding if the current document id equals previous.
// The read and the write share one bolt transaction.
func (s *BoltBindingStore) CompareAndSet(ctx context.Context, binding *model.Binding, previous string) (*model.Binding, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	updatedAt := binding.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	next := boltBinding{DocumentID: binding.DocumentID, UpdatedAt: updatedAt}
	payload, err := json.Marshal(next)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal binding: %w", err)
	}

	var current *boltBinding
	swapped := false
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bindingBucket))
		if bucket == nil {
			return fmt.Errorf("bindings bucket is missing")
		}

		currentDocID := ""
		if existing := bucket.Get([]byte(binding.TenantID)); existing != nil {
			var stored boltBinding
			if err := json.Unmarshal(existing, &stored); err != nil {
				return fmt.Errorf("failed to unmarshal binding: %w", err)
			}
			current = &stored
			currentDocID = stored.DocumentID
		}
		if currentDocID != previous {
			return nil
		}

		if err := bucket.Put([]byte(binding.TenantID), payload); err != nil {
			return err
		}
		current = &next
		swapped = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, nil
	}

	return &model.Binding{
		TenantID:   binding.TenantID,
		DocumentID: current.DocumentID,
		UpdatedAt:  current.UpdatedAt,
	}, swapped, nil
}

// Delete removes the binding for a tenant
func (s *BoltBindingStore) Delete(ctx context.Context, tenantID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bindingBucket))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(tenantID))
	})
}

// Ping verifies the bolt file is readable
func (s *BoltBindingStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bindingBucket)) == nil {
			return fmt.Errorf("bindings bucket is missing")
		}
		return nil
	})
}

// Close closes the bolt file
func (s *BoltBindingStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
