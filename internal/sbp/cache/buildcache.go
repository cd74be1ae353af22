package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/greeddj/go-sbp/internal/sbp/archive"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/store"
)

// DefaultVersion is the local version of entries created without one.
const DefaultVersion = 1

// AssetDatabase resolves asset GUIDs and their import state.
type AssetDatabase interface {
	GUIDToPath(guid hashing.GUID) (string, bool)
	PathToGUID(path string) (hashing.GUID, bool)
	AssetHash(guid hashing.GUID) (hashing.Hash128, bool)
}

// Logger receives non-fatal cache diagnostics.
type Logger interface {
	Warnf(format string, args ...any)
	Debugf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Debugf(string, ...any) {}

// Options configures a BuildCache.
type Options struct {
	// Root is the local cache directory.
	Root string
	// Assets resolves asset GUIDs. Optional.
	Assets AssetDatabase
	// Remote is an optional cache server.
	Remote Remote
	// Policy decides whether records are read and written.
	Policy Policy
	// Now is used for access bookkeeping. Defaults to time.Now.
	Now func() time.Time
}

type entryKey struct {
	id      string
	version int
}

// BuildCache stores task results keyed by CacheEntry.
type BuildCache struct {
	root   string
	assets AssetDatabase
	remote Remote
	policy Policy
	now    func() time.Time

	logMu  sync.RWMutex
	logger Logger

	memoMu  sync.Mutex
	entries map[entryKey]CacheEntry
	files   map[string]hashing.RawHash

	indexMu sync.Mutex

	pendingMu sync.Mutex
	pending   chan saveJob
	inflight  sync.WaitGroup
	errMu     sync.Mutex
	saveErrs  []error
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

type saveJob struct {
	ctx   context.Context
	entry CacheEntry
	data  []byte
}

// New returns a BuildCache rooted at opts.Root.
func New(opts Options) (*BuildCache, error) {
	if opts.Root == "" {
		return nil, helpers.ErrCacheDirEmpty
	}
	if err := os.MkdirAll(opts.Root, helpers.DirMod); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &BuildCache{
		root:    opts.Root,
		assets:  opts.Assets,
		remote:  opts.Remote,
		policy:  opts.Policy,
		now:     now,
		logger:  nopLogger{},
		entries: make(map[entryKey]CacheEntry),
		files:   make(map[string]hashing.RawHash),
		pending: make(chan saveJob, helpers.CachePendingQueue),
		done:    make(chan struct{}),
	}
	go c.saveLoop()
	return c, nil
}

// Root returns the cache directory.
func (c *BuildCache) Root() string {
	return c.root
}

// Policy returns the read/write policy of the cache.
func (c *BuildCache) Policy() Policy {
	return c.policy
}

// SetBuildLogger routes cache diagnostics to logger.
func (c *BuildCache) SetBuildLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	c.logMu.Lock()
	c.logger = logger
	c.logMu.Unlock()
}

func (c *BuildCache) log() Logger {
	c.logMu.RLock()
	defer c.logMu.RUnlock()
	return c.logger
}

// GetCacheEntry returns the entry of an asset GUID or a file path.
// The optional localVersion salts the hash so unrelated callers get separate cache lines.
func (c *BuildCache) GetCacheEntry(identifier string, localVersion ...int) CacheEntry {
	version := DefaultVersion
	if len(localVersion) > 0 {
		version = localVersion[0]
	}
	if guid, err := hashing.ParseGUID(identifier); err == nil {
		return c.EntryForGUID(guid, version)
	}
	if c.assets != nil {
		if guid, ok := c.assets.PathToGUID(identifier); ok {
			return c.EntryForGUID(guid, version)
		}
	}
	return c.EntryForFile(identifier, version)
}

// EntryForGUID returns the Asset entry of guid.
// The entry is invalid when the asset does not resolve.
func (c *BuildCache) EntryForGUID(guid hashing.GUID, version int) CacheEntry {
	key := entryKey{id: "guid:" + guid.String(), version: version}
	if entry, ok := c.memo(key); ok {
		return entry
	}
	entry := CacheEntry{Kind: KindAsset, GUID: guid, Version: version}
	if c.assets != nil {
		if assetHash, ok := c.assets.AssetHash(guid); ok && !assetHash.IsZero() {
			entry.Hash = hashing.Calculate(assetHash, version).ToHash128()
		}
	}
	c.remember(key, entry)
	return entry
}

// EntryForFile returns the File entry of path.
// The entry is invalid when the file cannot be read.
func (c *BuildCache) EntryForFile(path string, version int) CacheEntry {
	key := entryKey{id: "file:" + path, version: version}
	if entry, ok := c.memo(key); ok {
		return entry
	}
	entry := CacheEntry{
		Kind:    KindFile,
		GUID:    hashing.Calculate(path).ToGUID(),
		Version: version,
		File:    path,
	}
	if fileHash, ok := c.fileHash(path); ok {
		entry.Hash = hashing.Calculate(fileHash, version).ToHash128()
	}
	c.remember(key, entry)
	return entry
}

// GetUpdatedCacheEntry recomputes the live entry of a recorded one.
// Data entries have no live source and are returned unchanged.
func (c *BuildCache) GetUpdatedCacheEntry(entry CacheEntry) CacheEntry {
	switch entry.Kind {
	case KindAsset:
		return c.EntryForGUID(entry.GUID, entry.Version)
	case KindFile:
		return c.EntryForFile(entry.File, entry.Version)
	default:
		return entry
	}
}

// ClearCacheEntryMaps forgets memoized entries so the next lookup rehashes sources.
func (c *BuildCache) ClearCacheEntryMaps() {
	c.memoMu.Lock()
	c.entries = make(map[entryKey]CacheEntry)
	c.files = make(map[string]hashing.RawHash)
	c.memoMu.Unlock()
}

func (c *BuildCache) memo(key entryKey) (CacheEntry, bool) {
	c.memoMu.Lock()
	defer c.memoMu.Unlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *BuildCache) remember(key entryKey, entry CacheEntry) {
	c.memoMu.Lock()
	c.entries[key] = entry
	c.memoMu.Unlock()
}

func (c *BuildCache) fileHash(path string) (hashing.RawHash, bool) {
	c.memoMu.Lock()
	h, ok := c.files[path]
	c.memoMu.Unlock()
	if ok {
		return h, true
	}
	h, err := hashing.CalculateFile(path)
	if err != nil {
		return hashing.RawHash{}, false
	}
	c.memoMu.Lock()
	c.files[path] = h
	c.memoMu.Unlock()
	return h, true
}

// GetCachedArtifactsDirectory returns the artifacts directory of entry.
// It depends only on the entry identity and hash.
func (c *BuildCache) GetCachedArtifactsDirectory(entry CacheEntry) string {
	return filepath.Join(c.root, filepath.FromSlash(entry.Key()))
}

// GetCachedInfoFile returns the path of the record of entry.
func (c *BuildCache) GetCachedInfoFile(entry CacheEntry) string {
	return filepath.Join(c.GetCachedArtifactsDirectory(entry), entry.Hash.String()+helpers.CacheInfoExtension)
}

// LoadCachedData returns one record per entry, nil where the record is missing or stale.
func (c *BuildCache) LoadCachedData(ctx context.Context, entries []CacheEntry) []*CachedInfo {
	infos := make([]*CachedInfo, len(entries))
	if !c.policy.Read {
		return infos
	}
	var hits []string
	for i, entry := range entries {
		if !entry.IsValid() {
			continue
		}
		info, err := c.loadOne(ctx, entry)
		if err != nil {
			c.log().Debugf("cache miss %s: %v", entry, err)
			continue
		}
		infos[i] = info
		hits = append(hits, entry.Key())
	}
	c.touch(hits...)
	return infos
}

var errStale = errors.New("stale record")

func (c *BuildCache) loadOne(ctx context.Context, entry CacheEntry) (*CachedInfo, error) {
	path := c.GetCachedInfoFile(entry)
	//nolint:gosec // path is derived from the cache root.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && c.remote != nil {
		if rerr := c.fetchRemote(ctx, entry); rerr != nil {
			c.log().Debugf("cache server miss %s: %v", entry, rerr)
		} else {
			//nolint:gosec // see above.
			data, err = os.ReadFile(path)
		}
	}
	if err != nil {
		return nil, err
	}
	info, err := decodeInfo(data)
	if err != nil {
		c.log().Warnf("corrupt cache record %s: %v", path, err)
		return nil, err
	}
	if !info.Asset.Equal(entry) || info.Asset.Hash != entry.Hash {
		return nil, fmt.Errorf("%w: recorded %s", errStale, info.Asset)
	}
	for _, dep := range info.Dependencies {
		live := c.GetUpdatedCacheEntry(dep)
		if !live.IsValid() || live.Hash != dep.Hash {
			return nil, fmt.Errorf("%w: dependency %s changed", errStale, dep)
		}
	}
	return info, nil
}

// SaveCachedData encodes infos and queues them for writing.
// Encoding happens before return, so callers may reuse what infos point to.
func (c *BuildCache) SaveCachedData(ctx context.Context, infos []*CachedInfo) error {
	if !c.policy.Write {
		return nil
	}
	var errs []error
	for _, info := range infos {
		if info == nil || !info.Asset.IsValid() {
			continue
		}
		data, err := encodeInfo(info)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", info.Asset, err))
			continue
		}
		c.enqueue(saveJob{ctx: context.WithoutCancel(ctx), entry: info.Asset, data: data})
	}
	return errors.Join(errs...)
}

// touch records an access of every artifacts directory key.
// An unavailable index only costs prune accuracy.
func (c *BuildCache) touch(keys ...string) {
	if len(keys) == 0 {
		return
	}
	c.indexMu.Lock()
	defer c.indexMu.Unlock()
	idx, err := store.OpenIndex(c.root)
	if err != nil {
		c.log().Debugf("access index unavailable: %v", err)
		return
	}
	if err := idx.Touch(c.now(), keys...); err != nil {
		c.log().Debugf("access index update failed: %v", err)
	}
	_ = idx.Close()
}

func (c *BuildCache) fetchRemote(ctx context.Context, entry CacheEntry) error {
	artifacts := c.remote.Artifacts()
	file, err := artifacts.Fetch(ctx, entry.RemoteKey())
	if err != nil {
		return err
	}
	if file.Cleanup != nil {
		defer file.Cleanup()
	}
	dir := c.GetCachedArtifactsDirectory(entry)
	staging := dir + ".remote"
	_ = os.RemoveAll(staging)
	if err := archive.ExtractTarGz(file.Path, staging); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	return os.Rename(staging, dir)
}

func (c *BuildCache) pushRemote(ctx context.Context, entry CacheEntry) error {
	artifacts := c.remote.Artifacts()
	tmp, cleanup, err := artifacts.TempFile(ctx, "sbp-pack-")
	if err != nil {
		return err
	}
	defer cleanup()
	if err := archive.PackDir(c.GetCachedArtifactsDirectory(entry), tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	meta := map[string]string{
		"guid":    entry.GUID.String(),
		"hash":    entry.Hash.String(),
		"kind":    entry.Kind.String(),
		"version": fmt.Sprint(entry.Version),
	}
	_, err = artifacts.Commit(ctx, entry.RemoteKey(), tmp.Name(), meta)
	return err
}
