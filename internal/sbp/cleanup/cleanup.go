// Package cleanup maintains the local build cache and the cache server.
package cleanup

import (
	"context"
	"fmt"

	cacheServer "github.com/greeddj/go-sbp/internal/cache"
	"github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/config"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/infra"
)

// Prune shrinks the local build cache to the configured size limit.
func Prune(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	err := runPrune(ctx, cfg, runtime)
	if err != nil {
		runtime.Output.PersistentPrintf("❌ Error: %s", err.Error())
	}
	return err
}

// Purge removes every cached artifact locally and, when configured, on the cache server.
func Purge(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	err := runPurge(ctx, cfg, runtime)
	if err != nil {
		runtime.Output.PersistentPrintf("❌ Error: %s", err.Error())
	}
	return err
}

func runPrune(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	root := cfg.Parameters().CacheFolder
	if cfg.MaxCacheSizeGB <= 0 {
		runtime.Output.PersistentPrintf("ℹ️ Cache size limit is disabled, nothing to prune in %s", root)
		return nil
	}
	start := runtime.Now()
	runtime.Output.Printf("🧹 prune %s to %d GB", root, cfg.MaxCacheSizeGB)
	if err := cache.PruneCache(root, int64(cfg.MaxCacheSizeGB)*helpers.BytesPerGigabyte, runtime.Output); err != nil {
		return err
	}
	runtime.Output.DebugSincef(start, "prune of %s", root)
	runtime.Output.PersistentPrintf("✨ Prune complete")
	return nil
}

func runPurge(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	root := cfg.Parameters().CacheFolder
	runtime.Output.Printf("🧹 purge %s", root)
	if err := cache.Purge(root); err != nil {
		return fmt.Errorf("failed to purge %s: %w", root, err)
	}
	if !cfg.CacheServer.Enabled {
		runtime.Output.PersistentPrintf("✨ Purge complete")
		return nil
	}

	runtime.Output.Printf("🧹 purge cache server")
	remote, err := cacheServer.New(cfg.CacheServer, runtime)
	if err != nil {
		return err
	}
	if err := remote.Open(ctx); err != nil {
		return err
	}
	defer func() {
		_ = remote.Close(context.WithoutCancel(ctx))
	}()
	release, err := remote.Lock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = release()
	}()
	if err := remote.ClearFiles(ctx); err != nil {
		return fmt.Errorf("failed to clear cache server: %w", err)
	}
	runtime.Output.PersistentPrintf("✨ Purge complete, cache server cleared")
	return nil
}
