package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a key with no stored value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the durable key-value store backing draft and wizard
// persistence. Values are opaque JSON blobs. DeletePrefix removes every key
// under a prefix in one call, which is what gives discard its atomic
// all-keys teardown.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
