package tasks

import (
	"context"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/buildlog"
	"github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
)

const (
	calculateDependencyDataVersion = 1
	tagAssetDependencies           = "AssetDependencies"
	tagSceneDependencies           = "SceneDependencies"
)

type assetDependencies struct {
	Info  content.AssetLoadInfo
	Usage []content.UsageEntry
}

type sceneDependencies struct {
	Info  content.SceneDependencyInfo
	Usage []content.UsageEntry
}

type dependencyItem struct {
	guid  hashing.GUID
	scene bool
	asset assetDependencies
	level sceneDependencies
}

// CalculateDependencyData fills DependencyData for every asset and scene of the build.
type CalculateDependencyData struct {
	params   *build.Parameters
	content  *build.BundleBuildContent
	deps     *build.DependencyData
	resolver build.DependencyResolver
	tracker  build.ProgressTracker
	cache    *cache.BuildCache
	logger   buildlog.Logger

	settings content.BuildSettings
	useCache *cache.BuildCache
}

// NewCalculateDependencyData builds the task from bc.
func NewCalculateDependencyData(bc *buildcontext.Context) (build.Task, error) {
	r := build.NewResolver(bc)
	t := &CalculateDependencyData{
		params:   build.Require[*build.Parameters](r),
		content:  build.Require[*build.BundleBuildContent](r),
		deps:     build.Require[*build.DependencyData](r),
		resolver: build.Require[build.DependencyResolver](r),
		tracker:  build.Optional[build.ProgressTracker](r),
		cache:    build.Optional[*cache.BuildCache](r),
		logger:   build.Optional[buildlog.Logger](r),
	}
	return t, r.Err()
}

// Name implements build.Task.
func (t *CalculateDependencyData) Name() string { return "CalculateDependencyData" }

// Version implements build.Task.
func (t *CalculateDependencyData) Version() int { return calculateDependencyDataVersion }

// Run implements build.Task.
func (t *CalculateDependencyData) Run(ctx context.Context) (build.ReturnCode, error) {
	t.settings = t.params.GetContentBuildSettings()
	t.useCache = nil
	if t.params.UseCache {
		t.useCache = t.cache
	}

	items := make([]*WorkItem[*dependencyItem], 0, len(t.content.Assets)+len(t.content.Scenes))
	for _, guid := range t.content.Assets {
		items = append(items, NewWorkItem(&dependencyItem{guid: guid}, guid.String()))
	}
	for _, guid := range t.content.Scenes {
		items = append(items, NewWorkItem(&dependencyItem{guid: guid, scene: true}, guid.String()))
	}
	return RunCachedOperation(ctx, t.useCache, t.logger, t.tracker, items, t)
}

// CreateCacheEntry implements CachedCallbacks.
func (t *CalculateDependencyData) CreateCacheEntry(item *WorkItem[*dependencyItem]) cache.CacheEntry {
	entry := t.useCache.EntryForGUID(item.Context.guid, calculateDependencyDataVersion)
	if entry.IsValid() {
		entry.Hash = hashing.Calculate(entry.Hash, t.settings.GetHash128(), item.Context.scene).ToHash128()
	}
	return entry
}

// ProcessUncached implements CachedCallbacks.
func (t *CalculateDependencyData) ProcessUncached(_ context.Context, item *WorkItem[*dependencyItem]) error {
	if item.Context.scene {
		info, usage, err := t.resolver.SceneDependencies(item.Context.guid, t.settings)
		if err != nil {
			return err
		}
		item.Context.level = sceneDependencies{Info: info, Usage: usage.Entries()}
		return nil
	}
	info, usage, err := t.resolver.AssetDependencies(item.Context.guid, t.settings)
	if err != nil {
		return err
	}
	if address, ok := t.content.Addresses[item.Context.guid]; ok {
		info.Address = address
	}
	item.Context.asset = assetDependencies{Info: info, Usage: usage.Entries()}
	return nil
}

// ProcessCached implements CachedCallbacks.
func (t *CalculateDependencyData) ProcessCached(item *WorkItem[*dependencyItem], info *cache.CachedInfo) error {
	if item.Context.scene {
		return info.Decode(0, tagSceneDependencies, calculateDependencyDataVersion, &item.Context.level)
	}
	if err := info.Decode(0, tagAssetDependencies, calculateDependencyDataVersion, &item.Context.asset); err != nil {
		return err
	}
	if address, ok := t.content.Addresses[item.Context.guid]; ok {
		item.Context.asset.Info.Address = address
	}
	return nil
}

// PostProcess implements CachedCallbacks.
func (t *CalculateDependencyData) PostProcess(item *WorkItem[*dependencyItem]) error {
	guid := item.Context.guid
	if item.Context.scene {
		t.deps.SceneInfo[guid] = item.Context.level.Info
		t.deps.SceneUsage[guid] = content.UsageSetFromEntries(item.Context.level.Usage)
		t.deps.DependencyHash[guid] = content.HashObjects(item.Context.level.Info.ReferencedObjects)
		return nil
	}
	t.deps.AssetInfo[guid] = item.Context.asset.Info
	t.deps.AssetUsage[guid] = content.UsageSetFromEntries(item.Context.asset.Usage)
	t.deps.DependencyHash[guid] = content.HashObjects(item.Context.asset.Info.ReferencedObjects)
	return nil
}

// CreateCachedInfo implements CachedCallbacks.
// Every asset an object is referenced from becomes a dependency of the record.
func (t *CalculateDependencyData) CreateCachedInfo(item *WorkItem[*dependencyItem]) (*cache.CachedInfo, error) {
	var (
		payload cache.Payload
		err     error
		refs    []content.ObjectIdentifier
	)
	if item.Context.scene {
		payload, err = cache.NewPayload(tagSceneDependencies, calculateDependencyDataVersion, item.Context.level)
		refs = item.Context.level.Info.ReferencedObjects
	} else {
		payload, err = cache.NewPayload(tagAssetDependencies, calculateDependencyDataVersion, item.Context.asset)
		refs = item.Context.asset.Info.ReferencedObjects
	}
	if err != nil {
		return nil, err
	}

	seen := map[hashing.GUID]struct{}{item.Context.guid: {}}
	var deps []cache.CacheEntry
	for _, obj := range refs {
		if _, ok := seen[obj.GUID]; ok {
			continue
		}
		seen[obj.GUID] = struct{}{}
		dep := t.useCache.EntryForGUID(obj.GUID, cache.DefaultVersion)
		if dep.IsValid() {
			deps = append(deps, dep)
		}
	}
	return &cache.CachedInfo{Asset: item.Entry, Dependencies: deps, Data: []cache.Payload{payload}}, nil
}
