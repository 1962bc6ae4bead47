package interaction

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for missing or expired keys.
var ErrNotFound = errors.New("interaction not found or expired")

// Store holds short-lived operator interaction state (for example a sync preview
// awaiting confirmation) with per-key expiry.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
