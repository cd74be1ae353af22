// Package tasks implements the build tasks and the presets that chain them.
package tasks

import (
	"context"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/buildlog"
	"github.com/greeddj/go-sbp/internal/sbp/cache"
)

// WorkItem is one independent unit of work of a cached operation.
type WorkItem[T any] struct {
	Context    T
	Index      int
	Entry      cache.CacheEntry
	StatusText string
}

// NewWorkItem returns a work item carrying ctx.
func NewWorkItem[T any](ctx T, statusText string) *WorkItem[T] {
	return &WorkItem[T]{Context: ctx, StatusText: statusText}
}

// CachedCallbacks are the per-item steps of RunCachedOperation.
type CachedCallbacks[T any] interface {
	CreateCacheEntry(item *WorkItem[T]) cache.CacheEntry
	ProcessUncached(ctx context.Context, item *WorkItem[T]) error
	// ProcessCached restores the item from info. An error sends the item to ProcessUncached.
	ProcessCached(item *WorkItem[T], info *cache.CachedInfo) error
	PostProcess(item *WorkItem[T]) error
	CreateCachedInfo(item *WorkItem[T]) (*cache.CachedInfo, error)
}

// RunCachedOperation processes items, reusing cached results where the cache has them.
// PostProcess always sees the items in their original order. A nil buildCache disables caching.
func RunCachedOperation[T any](ctx context.Context, buildCache *cache.BuildCache, logger buildlog.Logger, tracker build.ProgressTracker, items []*WorkItem[T], cbs CachedCallbacks[T]) (build.ReturnCode, error) {
	if logger == nil {
		logger = buildlog.Discard
	}
	defer buildlog.ScopedStep(logger, buildlog.LevelInfo, "RunCachedOperation")()

	for i, item := range items {
		item.Index = i
	}

	uncached := items
	var cached []*WorkItem[T]
	var infos []*cache.CachedInfo
	if buildCache != nil {
		end := buildlog.ScopedStep(logger, buildlog.LevelInfo, "Creating Cache Entries")
		entries := make([]cache.CacheEntry, len(items))
		for i, item := range items {
			item.Entry = cbs.CreateCacheEntry(item)
			entries[i] = item.Entry
		}
		end()

		end = buildlog.ScopedStep(logger, buildlog.LevelInfo, "Load Cached Data")
		infos = buildCache.LoadCachedData(ctx, entries)
		end()

		uncached = make([]*WorkItem[T], 0, len(items))
		for _, item := range items {
			if infos[item.Index] != nil {
				cached = append(cached, item)
			} else {
				uncached = append(uncached, item)
			}
		}
	}

	code, err := processUncached(ctx, logger, tracker, uncached, cbs)
	if code != build.Success || err != nil {
		return code, err
	}

	end := buildlog.ScopedStep(logger, buildlog.LevelInfo, "Process Cached Entries")
	hits := make([]*WorkItem[T], 0, len(cached))
	var demoted []*WorkItem[T]
	for _, item := range cached {
		if err := cbs.ProcessCached(item, infos[item.Index]); err != nil {
			logger.AddEntry(buildlog.LevelWarning, "Unusable cached data for "+item.StatusText+": "+err.Error())
			demoted = append(demoted, item)
			continue
		}
		hits = append(hits, item)
	}
	end()
	if len(demoted) > 0 {
		code, err := processUncached(ctx, logger, tracker, demoted, cbs)
		if code != build.Success || err != nil {
			return code, err
		}
		uncached = append(uncached, demoted...)
	}

	for _, item := range items {
		if err := cbs.PostProcess(item); err != nil {
			return build.Error, err
		}
	}

	if buildCache != nil && len(uncached) > 0 {
		end := buildlog.ScopedStep(logger, buildlog.LevelInfo, "Saving to Cache")
		endInfos := buildlog.ScopedStep(logger, buildlog.LevelInfo, "Creating Cached Infos")
		save := make([]*cache.CachedInfo, 0, len(uncached))
		for _, item := range uncached {
			info, err := cbs.CreateCachedInfo(item)
			if err != nil {
				logger.AddEntry(buildlog.LevelWarning, "Not caching "+item.StatusText+": "+err.Error())
				continue
			}
			save = append(save, info)
		}
		endInfos()
		if err := buildCache.SaveCachedData(ctx, save); err != nil {
			logger.AddEntry(buildlog.LevelWarning, "Saving to cache failed: "+err.Error())
		}
		end()
	}

	buildlog.AddEntrySafe(logger, buildlog.LevelInfo, "Total Entries: %d, Processed: %d, Cached: %d", len(items), len(uncached), len(hits))
	return build.Success, nil
}

func processUncached[T any](ctx context.Context, logger buildlog.Logger, tracker build.ProgressTracker, items []*WorkItem[T], cbs CachedCallbacks[T]) (build.ReturnCode, error) {
	defer buildlog.ScopedStep(logger, buildlog.LevelInfo, "Process Entries")()
	for _, item := range items {
		if !build.Continue(ctx, tracker, item.StatusText) {
			return build.Canceled, nil
		}
		if err := cbs.ProcessUncached(ctx, item); err != nil {
			return build.Exception, err
		}
	}
	return build.Success, nil
}
