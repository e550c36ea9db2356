// Package settings persists small user preferences such as the last selected
// project or table layout.
package settings

import (
	"context"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// ErrNotFound reports a missing key.
var ErrNotFound = fmt.Errorf("setting not found: %w", errdefs.ErrNotFound)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key, returning ErrNotFound if it was not set.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string]string, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Path        string
	RedisAddr   string
	RedisPrefix string
}

// Open returns the store selected by opts.Backend. An empty backend means
// SQLite.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendSQLite:
		return OpenSQLite(opts.Path)
	case BackendRedis:
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown settings backend %q: %w", opts.Backend, errdefs.ErrInvalidArgument)
	}
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("setting key is required: %w", errdefs.ErrInvalidArgument)
	}
	return key, nil
}
