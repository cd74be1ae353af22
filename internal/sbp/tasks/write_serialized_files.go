package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/buildlog"
	"github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

const (
	writeSerializedFilesVersion = 4
	tagWriteResult              = "WriteResult"
	tagFileMetaData             = "SerializedFileMetaData"
)

// WriteSerializedFiles writes every write operation to disk, reusing cached files.
type WriteSerializedFiles struct {
	params    *build.Parameters
	deps      *build.DependencyData
	writeData *build.BundleWriteData
	results   *build.BundleBuildResults
	source    content.ObjectSource
	tracker   build.ProgressTracker
	cache     *cache.BuildCache
	logger    buildlog.Logger

	settings    content.BuildSettings
	globalUsage content.GlobalUsage
	useCache    *cache.BuildCache
}

type writeItem struct {
	op       content.WriteOperation
	result   content.WriteResult
	metaData content.SerializedFileMetaData
}

// NewWriteSerializedFiles builds the task from bc.
func NewWriteSerializedFiles(bc *buildcontext.Context) (build.Task, error) {
	r := build.NewResolver(bc)
	t := &WriteSerializedFiles{
		params:    build.Require[*build.Parameters](r),
		deps:      build.Require[*build.DependencyData](r),
		writeData: build.Require[*build.BundleWriteData](r),
		results:   build.Require[*build.BundleBuildResults](r),
		source:    build.Require[content.ObjectSource](r),
		tracker:   build.Optional[build.ProgressTracker](r),
		cache:     build.Optional[*cache.BuildCache](r),
		logger:    build.Optional[buildlog.Logger](r),
	}
	return t, r.Err()
}

// Name implements build.Task.
func (t *WriteSerializedFiles) Name() string { return "WriteSerializedFiles" }

// Version implements build.Task.
func (t *WriteSerializedFiles) Version() int { return writeSerializedFilesVersion }

// Run implements build.Task.
func (t *WriteSerializedFiles) Run(ctx context.Context) (build.ReturnCode, error) {
	t.globalUsage = t.deps.TotalGlobalUsage()
	t.settings = t.params.GetContentBuildSettings()
	t.useCache = nil
	if t.params.UseCache {
		t.useCache = t.cache
	}

	items := make([]*WorkItem[*writeItem], 0, len(t.writeData.WriteOperations))
	for _, op := range t.writeData.WriteOperations {
		items = append(items, NewWorkItem(&writeItem{op: op}, op.Command().InternalName))
	}
	return RunCachedOperation(ctx, t.useCache, t.logger, t.tracker, items, t)
}

// CreateCacheEntry implements CachedCallbacks.
func (t *WriteSerializedFiles) CreateCacheEntry(item *WorkItem[*writeItem]) cache.CacheEntry {
	guid := hashing.Calculate("WriteSerializedFiles").ToGUID()
	hash := hashing.Calculate(
		writeSerializedFilesVersion,
		item.Context.op.GetHash128(t.source),
		t.settings.GetHash128(),
		t.globalUsage,
		t.params.SlimWriteResults,
	).ToHash128()
	return cache.NewDataEntry(guid, hash, writeSerializedFilesVersion)
}

// ProcessUncached implements CachedCallbacks.
func (t *WriteSerializedFiles) ProcessUncached(_ context.Context, item *WorkItem[*writeItem]) error {
	op := item.Context.op
	targetDir := t.params.TempOutputFolder
	if t.useCache != nil {
		targetDir = t.useCache.GetCachedArtifactsDirectory(item.Entry)
	}
	if err := os.MkdirAll(targetDir, helpers.DirMod); err != nil {
		return err
	}

	end := buildlog.ScopedStep(t.logger, buildlog.LevelInfo, fmt.Sprintf("Writing %T", op), op.Command().FileName)
	result, err := op.Write(t.source, targetDir, t.settings, t.globalUsage)
	end()
	if err != nil {
		return fmt.Errorf("write %s: %w", op.Command().InternalName, err)
	}

	metaData, err := calculateFileMetadata(&result)
	if err != nil {
		return err
	}
	if t.params.SlimWriteResults {
		slimifySerializedObjects(&result)
	}
	item.Context.result = result
	item.Context.metaData = metaData
	return nil
}

// ProcessCached implements CachedCallbacks.
func (t *WriteSerializedFiles) ProcessCached(item *WorkItem[*writeItem], info *cache.CachedInfo) error {
	var result content.WriteResult
	if err := info.Decode(0, tagWriteResult, writeSerializedFilesVersion, &result); err != nil {
		return err
	}
	if err := info.Decode(1, tagFileMetaData, writeSerializedFilesVersion, &item.Context.metaData); err != nil {
		return err
	}
	dir := t.useCache.GetCachedArtifactsDirectory(item.Entry)
	for i, file := range result.ResourceFiles {
		name := filepath.FromSlash(file.FileName)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("%w: cached resource file %q", helpers.ErrResourcePathInvalid, file.FileName)
		}
		result.ResourceFiles[i].FileName = filepath.Join(dir, name)
	}
	item.Context.result = result
	return nil
}

// PostProcess implements CachedCallbacks.
func (t *WriteSerializedFiles) PostProcess(item *WorkItem[*writeItem]) error {
	name := item.Context.op.Command().InternalName
	t.results.WriteResults[name] = item.Context.result
	t.results.WriteResultsMetaData[name] = item.Context.metaData
	return nil
}

// CreateCachedInfo implements CachedCallbacks. Resource files are stored
// relative to the artifacts directory of the entry.
func (t *WriteSerializedFiles) CreateCachedInfo(item *WorkItem[*writeItem]) (*cache.CachedInfo, error) {
	dir := t.useCache.GetCachedArtifactsDirectory(item.Entry)
	stored := item.Context.result
	stored.ResourceFiles = make([]content.ResourceFile, len(item.Context.result.ResourceFiles))
	for i, file := range item.Context.result.ResourceFiles {
		rel, err := filepath.Rel(dir, file.FileName)
		if err != nil || !filepath.IsLocal(rel) {
			return nil, fmt.Errorf("%w: %s is outside %s", helpers.ErrResourcePathInvalid, file.FileName, dir)
		}
		file.FileName = filepath.ToSlash(rel)
		stored.ResourceFiles[i] = file
	}
	result, err := cache.NewPayload(tagWriteResult, writeSerializedFilesVersion, stored)
	if err != nil {
		return nil, err
	}
	metaData, err := cache.NewPayload(tagFileMetaData, writeSerializedFilesVersion, item.Context.metaData)
	if err != nil {
		return nil, err
	}
	return &cache.CachedInfo{Asset: item.Entry, Data: []cache.Payload{result, metaData}}, nil
}

// calculateFileMetadata hashes the resource files of result. The content hash of a
// serialized file starts at the first object written into it, skipping the header.
func calculateFileMetadata(result *content.WriteResult) (content.SerializedFileMetaData, error) {
	full := make([]hashing.RawHash, 0, len(result.ResourceFiles))
	contentHashes := make([]hashing.RawHash, 0, len(result.ResourceFiles))
	for _, file := range result.ResourceFiles {
		fileHash, err := hashing.CalculateFile(file.FileName)
		if err != nil {
			return content.SerializedFileMetaData{}, err
		}
		contentHash := fileHash
		if file.SerializedFile {
			if offset, ok := result.FirstObjectOffset(file.FileAlias); ok {
				//nolint:gosec // offsets come from files we just wrote.
				contentHash, err = hashing.CalculateFileFrom(file.FileName, int64(offset))
				if err != nil {
					return content.SerializedFileMetaData{}, err
				}
			}
		}
		full = append(full, fileHash)
		contentHashes = append(contentHashes, contentHash)
	}
	return content.SerializedFileMetaData{
		RawFileHash: hashing.Calculate(full).ToHash128(),
		ContentHash: hashing.Calculate(contentHashes).ToHash128(),
	}, nil
}

// slimifySerializedObjects keeps only the first object of every serialized file.
func slimifySerializedObjects(result *content.WriteResult) {
	var first []content.ObjectSerializedInfo
	for _, file := range result.ResourceFiles {
		if !file.SerializedFile {
			continue
		}
		for _, obj := range result.SerializedObjects {
			if obj.Header.FileName == file.FileAlias {
				first = append(first, obj)
				break
			}
		}
	}
	result.SerializedObjects = first
}
