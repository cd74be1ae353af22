// Package cache selects the cache server the build cache writes through to.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/greeddj/go-sbp/internal/cache/local"
	"github.com/greeddj/go-sbp/internal/cache/s3"
	sbpcache "github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/config"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/infra"
)

var errHTTPClientNil = errors.New("http client is nil")

// New constructs the configured cache server backend.
// It returns nil when no cache server is configured.
func New(cfg config.CacheServerConfig, runtime *infra.Infra) (sbpcache.Remote, error) {
	if !cfg.Enabled {
		return nil, nil //nolint:nilnil // no cache server is a valid configuration.
	}
	switch cfg.Kind {
	case config.CacheServerS3:
		if runtime == nil || runtime.HTTP == nil {
			return nil, errHTTPClientNil
		}
		tempDir := ""
		if runtime.TempDir != nil {
			tempDir = runtime.TempDir()
		}
		return s3.New(cfg, runtime.HTTP, tempDir)
	case config.CacheServerDir:
		return local.New(cfg.Dir), nil
	default:
		return nil, fmt.Errorf("%w: %q", helpers.ErrCacheServerKind, cfg.Kind)
	}
}

// Connect opens the configured cache server. A server that cannot be opened is
// reported through warn and the build continues without it.
func Connect(ctx context.Context, cfg config.CacheServerConfig, runtime *infra.Infra, warn func(format string, args ...any)) (sbpcache.Remote, func()) {
	remote, err := New(cfg, runtime)
	if err == nil && remote != nil {
		err = remote.Open(ctx)
	}
	if err != nil {
		warn("cache server unavailable, building without it: %v", err)
		return nil, func() {}
	}
	if remote == nil {
		return nil, func() {}
	}
	return remote, func() {
		if err := remote.Close(context.WithoutCancel(ctx)); err != nil {
			warn("failed to close cache server: %v", err)
		}
	}
}
