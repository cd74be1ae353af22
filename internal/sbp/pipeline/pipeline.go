// Package pipeline is the entry point of a content build.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/buildlog"
	"github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/output"
)

var pruning sync.WaitGroup

// WaitForPrune blocks until every cache prune started by a build has finished.
func WaitForPrune() {
	pruning.Wait()
}

// BuildAssetBundles runs factories over content and returns the bundle results.
//
// objects are registered in the build context before the defaults, so callers
// can supply their own logger, identifiers, tracker, cache or asset database.
// An output.Printer among objects receives the messages of the build log the
// pipeline creates. Results are nil unless the build succeeded.
func BuildAssetBundles(
	ctx context.Context,
	params *build.Parameters,
	content *build.BundleBuildContent,
	factories []build.TaskFactory,
	objects ...any,
) (code build.ReturnCode, results *build.BundleBuildResults, err error) {
	defer func() {
		if r := recover(); r != nil {
			code, results, err = build.Exception, nil, fmt.Errorf("%w: panic: %v", helpers.ErrBuildFailed, r)
		}
	}()

	if params == nil {
		return build.Exception, nil, helpers.ErrParametersNil
	}
	if content == nil {
		return build.Exception, nil, helpers.ErrContentNil
	}
	if len(factories) == 0 {
		return build.Exception, nil, helpers.ErrTaskListEmpty
	}

	b := &builder{params: params, content: content, results: build.NewBundleBuildResults()}
	defer b.finish()

	if err := b.setup(objects); err != nil {
		b.logError(err)
		return build.Exception, nil, err
	}

	tasks, code, err := build.Validate(b.bc, factories)
	if err != nil {
		b.logError(err)
		return code, nil, err
	}
	code, err = build.Run(ctx, tasks, b.logger, b.tracker)
	if !code.IsSuccess() {
		return code, nil, err
	}
	return code, b.results, nil
}

type builder struct {
	params  *build.Parameters
	content *build.BundleBuildContent
	results *build.BundleBuildResults

	bc      *buildcontext.Context
	logger  buildlog.Logger
	ownLog  *buildlog.Log
	tracker build.ProgressTracker
	cache   *cache.BuildCache
	// ownCache is set when the pipeline created the cache and has to close it.
	ownCache bool
	tempDir  bool
}

func (b *builder) setup(objects []any) error {
	if err := b.content.ValidateAddresses(); err != nil {
		return err
	}
	b.bc = build.NewContext()
	for _, obj := range objects {
		if printer, ok := obj.(output.Printer); ok && b.ownLog == nil && !isContextObject(obj) {
			b.ownLog = buildlog.New(printer)
			continue
		}
		if err := b.bc.Set(obj); err != nil {
			return err
		}
	}

	if logger, ok := buildcontext.TryGet[buildlog.Logger](b.bc); ok {
		b.logger = logger
		b.ownLog = nil
	} else {
		if b.ownLog == nil {
			b.ownLog = buildlog.New(output.Discard)
		}
		b.logger = b.ownLog
		if err := b.bc.Set(b.ownLog); err != nil {
			return err
		}
	}
	b.tracker, _ = buildcontext.TryGet[build.ProgressTracker](b.bc)

	if err := os.MkdirAll(b.params.TempOutputFolder, helpers.DirMod); err != nil {
		return err
	}
	b.tempDir = true
	if err := os.MkdirAll(b.params.ScriptOutputFolder, helpers.DirMod); err != nil {
		return err
	}

	defaults := []struct {
		present bool
		obj     any
	}{
		{buildcontext.Contains[*build.Parameters](b.bc), b.params},
		{buildcontext.Contains[*build.BundleBuildContent](b.bc), b.content},
		{buildcontext.Contains[*build.BundleBuildResults](b.bc), b.results},
		{buildcontext.Contains[*build.DependencyData](b.bc), build.NewDependencyData()},
		{buildcontext.Contains[*build.BundleWriteData](b.bc), build.NewBundleWriteData()},
		{buildcontext.Contains[*build.ClusterOutput](b.bc), build.NewClusterOutput()},
		{buildcontext.Contains[*build.BundleExplicitObjectLayout](b.bc), build.NewBundleExplicitObjectLayout()},
		{buildcontext.Contains[build.DeterministicIdentifiers](b.bc), build.DefaultIdentifiers(b.params.ContiguousBundles)},
	}
	for _, d := range defaults {
		if d.present {
			continue
		}
		if err := b.bc.Set(d.obj); err != nil {
			return err
		}
	}
	if results, ok := buildcontext.TryGet[*build.BundleBuildResults](b.bc); ok {
		b.results = results
	}
	return b.setupCache()
}

// isContextObject reports whether obj is registered rather than used as the log printer.
func isContextObject(obj any) bool {
	switch obj.(type) {
	case buildlog.Logger, build.ProgressTracker:
		return true
	}
	return false
}

func (b *builder) setupCache() error {
	if !b.params.UseCache {
		return nil
	}
	if c, ok := buildcontext.TryGet[*cache.BuildCache](b.bc); ok {
		// Sources may have changed since the cache was last used.
		c.ClearCacheEntryMaps()
		b.cache = c
		b.cache.SetBuildLogger(cacheLogger{b.logger})
		return nil
	}
	assets, _ := buildcontext.TryGet[cache.AssetDatabase](b.bc)
	remote, _ := buildcontext.TryGet[cache.Remote](b.bc)
	c, err := cache.New(cache.Options{
		Root:   b.params.CacheFolder,
		Assets: assets,
		Remote: remote,
		Policy: cache.PolicyFor(b.params),
	})
	if err != nil {
		return err
	}
	c.SetBuildLogger(cacheLogger{b.logger})
	b.cache = c
	b.ownCache = true
	return b.bc.Set(c)
}

// finish removes intermediate files, writes the build log and hands the cache
// over to a background prune.
func (b *builder) finish() {
	if b.tempDir {
		if err := os.RemoveAll(b.params.TempOutputFolder); err != nil {
			buildlog.AddEntrySafe(b.logger, buildlog.LevelWarning, "Failed to remove temp folder %s: %v", b.params.TempOutputFolder, err)
		}
	}
	if b.cache != nil {
		if err := b.cache.SyncPendingSaves(); err != nil {
			buildlog.AddEntrySafe(b.logger, buildlog.LevelWarning, "Failed to save build cache: %v", err)
		}
	}
	if b.ownLog != nil && b.params.OutputFolder != "" {
		if err := b.ownLog.WriteTraceEventProfiler(b.params.GetOutputFilePathForIdentifier(helpers.BuildLogFile)); err != nil {
			b.ownLog.Warnf("Failed to write build log: %v", err)
		}
	}
	if !b.ownCache {
		return
	}
	if err := b.cache.Close(); err != nil {
		buildlog.AddEntrySafe(b.logger, buildlog.LevelWarning, "Failed to close build cache: %v", err)
	}
	if b.params.MaxCacheSizeGB > 0 {
		root := b.cache.Root()
		limit := b.params.MaxCacheSizeBytes()
		logger := cacheLogger{b.logger}
		pruning.Go(func() {
			cache.PruneCacheBackground(root, limit, logger)()
		})
	}
}

func (b *builder) logError(err error) {
	if errors.Is(err, helpers.ErrContextObjectMissing) {
		buildlog.AddEntrySafe(b.logger, buildlog.LevelError, "Build task is missing required objects:\n%v", err)
		return
	}
	buildlog.AddEntrySafe(b.logger, buildlog.LevelError, "Build failed to start: %v", err)
}

// cacheLogger routes cache diagnostics into the build log.
type cacheLogger struct {
	logger buildlog.Logger
}

func (l cacheLogger) Warnf(format string, args ...any) {
	buildlog.AddEntrySafe(l.logger, buildlog.LevelWarning, format, args...)
}

func (l cacheLogger) Debugf(format string, args ...any) {
	buildlog.AddEntrySafe(l.logger, buildlog.LevelVerbose, format, args...)
}
