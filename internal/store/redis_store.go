package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeventbooks/eventdb/internal/model"
	"go.uber.org/zap"
)

// RedisBindingStore implements BindingStore for Redis.
// Bindings are written without a TTL.
type RedisBindingStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisBindingStore creates a new Redis binding store
func NewRedisBindingStore(host string, port int, password string, db int, prefix string, logger *zap.Logger) (*RedisBindingStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBindingStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

type redisBinding struct {
	DocumentID string    `json:"document_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Get retrieves the binding for a tenant
func (s *RedisBindingStore) Get(ctx context.Context, tenantID string) (*model.Binding, error) {
	data, err := s.client.Get(ctx, s.key(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var stored redisBinding
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal binding: %w", err)
	}

	return &model.Binding{
		TenantID:   tenantID,
		DocumentID: stored.DocumentID,
		UpdatedAt:  stored.UpdatedAt,
	}, nil
}

// Set stores or overwrites the binding for a tenant
func (s *RedisBindingStore) Set(ctx context.Context, binding *model.Binding) error {
	updatedAt := binding.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(redisBinding{DocumentID: binding.DocumentID, UpdatedAt: updatedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal binding: %w", err)
	}

	return s.client.Set(ctx, s.key(binding.TenantID), data, 0).Err()
}

// CompareAndSet writes binding if the current document id equals previous.
// The key is watched, so a concurrent writer aborts the transaction.
func (s *RedisBindingStore) CompareAndSet(ctx context.Context, binding *model.Binding, previous string) (*model.Binding, bool, error) {
	updatedAt := binding.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(redisBinding{DocumentID: binding.DocumentID, UpdatedAt: updatedAt})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal binding: %w", err)
	}

	key := s.key(binding.TenantID)
	swapped := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		currentDocID := ""
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// No binding yet.
		case err != nil:
			return err
		default:
			var stored redisBinding
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("failed to unmarshal binding: %w", err)
			}
			currentDocID = stored.DocumentID
		}
		if currentDocID != previous {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, key)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return nil, false, err
	}

	// Report whatever the key now holds, including another writer's binding.
	current, err := s.Get(ctx, binding.TenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, swapped, nil
	}
	if err != nil {
		return nil, swapped, err
	}
	return current, swapped, nil
}

// Delete removes the binding for a tenant
func (s *RedisBindingStore) Delete(ctx context.Context, tenantID string) error {
	return s.client.Del(ctx, s.key(tenantID)).Err()
}

// Ping checks the Redis connection
func (s *RedisBindingStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisBindingStore) Close() error {
	return s.client.Close()
}

func (s *RedisBindingStore) key(tenantID string) string {
	return bindingKey(s.prefix, tenantID)
}

// bindingKey generates the key under which a tenant binding is stored
func bindingKey(prefix, tenantID string) string {
	return fmt.Sprintf("%sbinding:%s", prefix, tenantID)
}
