package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quoteflow-io/quoteflow-backend/pkg/redis"
)

// Manager tracks processed message IDs per consumer using Redis SETNX with a TTL.
// Keys follow the `qf:idempotency:msg:processed:<consumer>:<message_id>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds an idempotency guard that marks messages as processed for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// CheckAndMarkProcessed returns true if the message has already been processed and
// otherwise marks it as processed with the configured TTL.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, messageID string) (bool, error) {
	key, err := m.processedKey(consumer, messageID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete clears the processed marker so the message can be replayed.
func (m *Manager) Delete(ctx context.Context, consumer string, messageID string) error {
	key, err := m.processedKey(consumer, messageID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(consumer string, messageID string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if messageID == "" {
		return "", errors.New("message id is required")
	}
	scope := fmt.Sprintf("msg:processed:%s", consumer)
	return m.store.IdempotencyKey(scope, messageID), nil
}
