package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"

	"github.com/greeddj/go-sbp/internal/sbp/archive"
	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/buildlog"
	"github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

const (
	archiveAndCompressVersion = 2
	tagBundleDetails          = "BundleDetails"
)

// ArchiveAndCompressBundles packs the resource files of every bundle into one archive.
type ArchiveAndCompressBundles struct {
	params    *build.Parameters
	writeData *build.BundleWriteData
	results   *build.BundleBuildResults
	tracker   build.ProgressTracker
	cache     *cache.BuildCache
	logger    buildlog.Logger
}

// NewArchiveAndCompressBundles builds the task from bc.
func NewArchiveAndCompressBundles(bc *buildcontext.Context) (build.Task, error) {
	r := build.NewResolver(bc)
	t := &ArchiveAndCompressBundles{
		params:    build.Require[*build.Parameters](r),
		writeData: build.Require[*build.BundleWriteData](r),
		results:   build.Require[*build.BundleBuildResults](r),
		tracker:   build.Optional[build.ProgressTracker](r),
		cache:     build.Optional[*cache.BuildCache](r),
		logger:    build.Optional[buildlog.Logger](r),
	}
	return t, r.Err()
}

// Name implements build.Task.
func (t *ArchiveAndCompressBundles) Name() string { return "ArchiveAndCompressBundles" }

// Version implements build.Task.
func (t *ArchiveAndCompressBundles) Version() int { return archiveAndCompressVersion }

// Run implements build.Task.
func (t *ArchiveAndCompressBundles) Run(ctx context.Context) (build.ReturnCode, error) {
	input := ArchiveInput{
		InternalFilenameToWriteResults: t.results.WriteResults,
		InternalFilenameToBundleName:   t.writeData.FileToBundle,
		AssetToFilesDependencies:       t.writeData.AssetToFiles,
		GetCompressionForIdentifier:    t.params.GetCompressionForIdentifier,
		GetOutputFilePathForIdentifier: t.params.GetOutputFilePathForIdentifier,
		Tracker:                        t.tracker,
		Logger:                         t.logger,
		TempOutputFolder:               t.params.TempOutputFolder,
		Threaded:                       t.params.ThreadedArchiving,
	}
	if t.params.UseCache {
		input.BuildCache = t.cache
	}
	code, output, err := RunArchive(ctx, input)
	if code == build.Success {
		for name, details := range output.BundleDetails {
			t.results.BundleInfos[name] = details
		}
	}
	return code, err
}

// ArchiveInput is everything the archive stage reads.
type ArchiveInput struct {
	InternalFilenameToWriteResults map[string]content.WriteResult
	InternalFilenameToBundleName   map[string]string
	AssetToFilesDependencies       map[hashing.GUID][]string
	GetCompressionForIdentifier    func(string) archive.Compression
	GetOutputFilePathForIdentifier func(string) string
	// BuildCache is nil when caching is off.
	BuildCache       *cache.BuildCache
	Tracker          build.ProgressTracker
	Logger           buildlog.Logger
	TempOutputFolder string
	Threaded         bool
	// Workers bounds parallel archiving. Zero means GOMAXPROCS.
	Workers int
}

// ArchiveOutput is what the archive stage produces.
type ArchiveOutput struct {
	BundleDetails map[string]build.BundleDetails
	// CachedBundles lists the bundles restored from the cache.
	CachedBundles []string
}

type archiveWorkItem struct {
	index              int
	bundleName         string
	outputFilePath     string
	cachedArtifactPath string
	resourceFiles      []content.ResourceFile
	compression        archive.Compression
	resultDetails      build.BundleDetails
	resultHash         hashing.Hash128
}

var errArchiveCanceled = errors.New("archiving canceled")

// RunArchive archives every bundle of input and computes bundle dependencies.
func RunArchive(ctx context.Context, input ArchiveInput) (build.ReturnCode, ArchiveOutput, error) {
	output := ArchiveOutput{BundleDetails: make(map[string]build.BundleDetails)}
	logger := input.Logger
	if logger == nil {
		logger = buildlog.Discard
	}

	allItems, err := createArchiveWorkItems(input)
	if err != nil {
		return build.Exception, output, err
	}
	fileOffsets := calculateHashFileOffsets(input.InternalFilenameToWriteResults)

	var entries []cache.CacheEntry
	var infos []*cache.CachedInfo
	cachedItems := []*archiveWorkItem{}
	nonCachedItems := allItems
	if input.BuildCache != nil {
		entries = make([]cache.CacheEntry, len(allItems))
		for i, item := range allItems {
			if entries[i], err = archiveCacheEntry(item.bundleName, item.resourceFiles, item.compression); err != nil {
				return build.Exception, output, err
			}
		}
		infos = input.BuildCache.LoadCachedData(ctx, entries)
		nonCachedItems = nil
		for _, item := range allItems {
			item.cachedArtifactPath = filepath.Join(input.BuildCache.GetCachedArtifactsDirectory(entries[item.index]), filepath.FromSlash(item.bundleName))
			if infos[item.index] != nil {
				cachedItems = append(cachedItems, item)
			} else {
				nonCachedItems = append(nonCachedItems, item)
			}
		}
	}

	// Cached bundles are copied first. A record whose archive is gone is rebuilt.
	hits := cachedItems[:0]
	for _, item := range cachedItems {
		if !build.Continue(ctx, input.Tracker, item.bundleName+" (Cached)") {
			return build.Canceled, output, nil
		}
		if err := restoreCachedArchive(item, infos[item.index]); err != nil {
			logger.AddEntry(buildlog.LevelWarning, fmt.Sprintf("Rebuilding %s: %v", item.bundleName, err))
			nonCachedItems = append(nonCachedItems, item)
			continue
		}
		hits = append(hits, item)
	}
	slices.SortFunc(nonCachedItems, func(a, b *archiveWorkItem) int { return a.index - b.index })

	ok, err := archiveItems(ctx, nonCachedItems, fileOffsets, input)
	if err != nil {
		return build.Exception, output, err
	}
	if !ok {
		return build.Canceled, output, nil
	}

	postArchiveProcessing(allItems, input.AssetToFilesDependencies, input.InternalFilenameToBundleName)

	if input.BuildCache != nil && len(nonCachedItems) > 0 {
		save := make([]*cache.CachedInfo, 0, len(nonCachedItems))
		for _, item := range nonCachedItems {
			info, err := archiveCachedInfo(entries[item.index], item.resultDetails)
			if err != nil {
				logger.AddEntry(buildlog.LevelWarning, fmt.Sprintf("Not caching %s: %v", item.bundleName, err))
				continue
			}
			save = append(save, info)
		}
		if err := input.BuildCache.SaveCachedData(ctx, save); err != nil {
			logger.AddEntry(buildlog.LevelWarning, "Saving to cache failed: "+err.Error())
		}
	}

	for _, item := range allItems {
		output.BundleDetails[item.bundleName] = item.resultDetails
	}
	for _, item := range hits {
		output.CachedBundles = append(output.CachedBundles, item.bundleName)
	}
	return build.Success, output, nil
}

// archiveCacheEntry keys a bundle by the alias and content of its resource files.
// Paths on disk differ between cache roots and are left out.
func archiveCacheEntry(bundleName string, resourceFiles []content.ResourceFile, compression archive.Compression) (cache.CacheEntry, error) {
	guid := hashing.Calculate("ArchiveAndCompressBundles", bundleName).ToGUID()
	b := hashing.NewBuilder().Add(archiveAndCompressVersion, len(resourceFiles))
	for _, file := range resourceFiles {
		h, err := hashing.CalculateFile(file.FileName)
		if err != nil {
			return cache.CacheEntry{}, fmt.Errorf("hash %s: %w", file.FileAlias, err)
		}
		b.Add(file, h)
	}
	hash := b.Add(int(compression)).Sum().ToHash128()
	return cache.NewDataEntry(guid, hash, archiveAndCompressVersion), nil
}

func archiveCachedInfo(entry cache.CacheEntry, details build.BundleDetails) (*cache.CachedInfo, error) {
	// Restores point FileName at their own output folder.
	details.FileName = ""
	payload, err := cache.NewPayload(tagBundleDetails, archiveAndCompressVersion, details)
	if err != nil {
		return nil, err
	}
	return &cache.CachedInfo{Asset: entry, Data: []cache.Payload{payload}}, nil
}

func restoreCachedArchive(item *archiveWorkItem, info *cache.CachedInfo) error {
	var details build.BundleDetails
	if err := info.Decode(0, tagBundleDetails, archiveAndCompressVersion, &details); err != nil {
		return err
	}
	if _, err := os.Stat(item.cachedArtifactPath); err != nil {
		return err
	}
	details.FileName = item.outputFilePath
	if err := copyToOutputLocation(item.cachedArtifactPath, details.FileName); err != nil {
		return err
	}
	item.resultDetails = details
	item.resultHash = details.Hash
	return nil
}

func createArchiveWorkItems(input ArchiveInput) ([]*archiveWorkItem, error) {
	bundleToResources := make(map[string][]content.ResourceFile)
	for _, internalName := range build.SortedKeys(input.InternalFilenameToWriteResults) {
		bundle, ok := input.InternalFilenameToBundleName[internalName]
		if !ok {
			return nil, fmt.Errorf("%w: %s", helpers.ErrUnknownFile, internalName)
		}
		bundleToResources[bundle] = append(bundleToResources[bundle], input.InternalFilenameToWriteResults[internalName].ResourceFiles...)
	}
	bundles := build.SortedKeys(bundleToResources)
	items := make([]*archiveWorkItem, 0, len(bundles))
	for index, bundle := range bundles {
		items = append(items, &archiveWorkItem{
			index:          index,
			bundleName:     bundle,
			resourceFiles:  bundleToResources[bundle],
			compression:    input.GetCompressionForIdentifier(bundle),
			outputFilePath: input.GetOutputFilePathForIdentifier(bundle),
		})
	}
	return items, nil
}

// calculateHashFileOffsets maps every serialized resource file to the offset of its first object.
// Files without objects are hashed whole.
func calculateHashFileOffsets(writeResults map[string]content.WriteResult) map[string]uint64 {
	offsets := make(map[string]uint64)
	for _, result := range writeResults {
		for _, file := range result.ResourceFiles {
			if !file.SerializedFile {
				continue
			}
			if offset, ok := result.FirstObjectOffset(file.FileAlias); ok {
				offsets[file.FileName] = offset
			}
		}
	}
	return offsets
}

// CalculateHashVersion hashes the resource files of a bundle, skipping the header of serialized files.
func CalculateHashVersion(fileOffsets map[string]uint64, resourceFiles []content.ResourceFile, dependencies []string) (hashing.Hash128, error) {
	hashes := make([]hashing.RawHash, 0, len(resourceFiles))
	for _, file := range resourceFiles {
		var (
			h   hashing.RawHash
			err error
		)
		if offset, ok := fileOffsets[file.FileName]; ok && file.SerializedFile {
			//nolint:gosec // offsets come from write results.
			h, err = hashing.CalculateFileFrom(file.FileName, int64(offset))
		} else {
			h, err = hashing.CalculateFile(file.FileName)
		}
		if err != nil {
			return hashing.Hash128{}, err
		}
		hashes = append(hashes, h)
	}
	return hashing.Calculate(hashes, dependencies).ToHash128(), nil
}

// calculateBundleDependencies gives the bundle owning each asset's first file an edge
// to the bundles owning its other files.
func calculateBundleDependencies(assetToFiles map[hashing.GUID][]string, fileToBundle map[string]string) map[string][]string {
	sets := make(map[string]map[string]struct{})
	for _, guid := range build.SortedGUIDs(assetToFiles) {
		files := assetToFiles[guid]
		if len(files) == 0 {
			continue
		}
		bundle := fileToBundle[files[0]]
		deps, ok := sets[bundle]
		if !ok {
			deps = make(map[string]struct{})
			sets[bundle] = deps
		}
		for _, file := range files {
			if dep, ok := fileToBundle[file]; ok && dep != bundle {
				deps[dep] = struct{}{}
			}
		}
	}
	result := make(map[string][]string, len(sets))
	for bundle, deps := range sets {
		list := make([]string, 0, len(deps))
		for dep := range deps {
			list = append(list, dep)
		}
		slices.Sort(list)
		result[bundle] = list
	}
	return result
}

func postArchiveProcessing(items []*archiveWorkItem, assetToFiles map[hashing.GUID][]string, fileToBundle map[string]string) {
	deps := calculateBundleDependencies(assetToFiles, fileToBundle)
	for _, item := range items {
		item.resultDetails.Dependencies = deps[item.bundleName]
		if item.resultDetails.Dependencies == nil {
			item.resultDetails.Dependencies = []string{}
		}
		item.resultDetails.Hash = item.resultHash
	}
}

func archiveSingleItem(ctx context.Context, item *archiveWorkItem, fileOffsets map[string]uint64, tempOutputFolder string) error {
	writePath := filepath.Join(tempOutputFolder, filepath.FromSlash(item.bundleName))
	if item.cachedArtifactPath != "" {
		writePath = item.cachedArtifactPath
	}
	if err := os.MkdirAll(filepath.Dir(writePath), helpers.DirMod); err != nil {
		return err
	}
	entries := make([]archive.Entry, 0, len(item.resourceFiles))
	for _, file := range item.resourceFiles {
		entries = append(entries, archive.Entry{Name: file.FileAlias, Path: file.FileName})
	}
	crc, err := archive.ArchiveAndCompress(entries, writePath, item.compression)
	if err != nil {
		return fmt.Errorf("archive %s: %w", item.bundleName, err)
	}
	// Dependencies are computed after archiving, so the hash never includes them.
	hash, err := CalculateHashVersion(fileOffsets, item.resourceFiles, nil)
	if err != nil {
		return fmt.Errorf("hash %s: %w", item.bundleName, err)
	}
	if ctx.Err() != nil {
		return errArchiveCanceled
	}
	if err := copyToOutputLocation(writePath, item.outputFilePath); err != nil {
		return err
	}
	item.resultDetails = build.BundleDetails{FileName: item.outputFilePath, Crc: crc}
	item.resultHash = hash
	return nil
}

func archiveItems(ctx context.Context, items []*archiveWorkItem, fileOffsets map[string]uint64, input ArchiveInput) (bool, error) {
	if input.Threaded {
		return archiveItemsThreaded(ctx, items, fileOffsets, input)
	}
	for _, item := range items {
		if !build.Continue(ctx, input.Tracker, item.bundleName) {
			return false, nil
		}
		if err := archiveSingleItem(ctx, item, fileOffsets, input.TempOutputFolder); err != nil {
			if errors.Is(err, errArchiveCanceled) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// archiveItemsThreaded archives items in parallel. Completions are counted on the
// coordinating goroutine, which polls the tracker after each one and waits for
// every started worker before returning.
func archiveItemsThreaded(ctx context.Context, items []*archiveWorkItem, fileOffsets map[string]uint64, input ArchiveInput) (bool, error) {
	workers := input.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	done := make(chan struct{}, len(items))
	errs := make([]error, len(items))
	for i, item := range items {
		wg.Go(func() {
			defer func() { done <- struct{}{} }()
			sem <- struct{}{}
			defer func() { <-sem }()
			if workCtx.Err() != nil {
				errs[i] = errArchiveCanceled
				return
			}
			errs[i] = archiveSingleItem(workCtx, item, fileOffsets, input.TempOutputFolder)
		})
	}

	canceled := false
	for i := range items {
		<-done
		if !build.Continue(ctx, input.Tracker, fmt.Sprintf("Archive %d/%d", i+1, len(items))) {
			canceled = true
			cancel()
			break
		}
	}
	wg.Wait()

	if canceled {
		return false, nil
	}
	for _, err := range errs {
		if errors.Is(err, errArchiveCanceled) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

func copyToOutputLocation(writePath, finalPath string) error {
	if writePath == finalPath {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), helpers.DirMod); err != nil {
		return err
	}
	return helpers.CopyFile(writePath, finalPath)
}
