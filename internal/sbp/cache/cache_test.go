package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/store"
)

type fakeAssets struct {
	paths  map[hashing.GUID]string
	hashes map[hashing.GUID]hashing.Hash128
}

func (f *fakeAssets) GUIDToPath(guid hashing.GUID) (string, bool) {
	p, ok := f.paths[guid]
	return p, ok
}

func (f *fakeAssets) PathToGUID(path string) (hashing.GUID, bool) {
	for guid, p := range f.paths {
		if p == path {
			return guid, true
		}
	}
	return hashing.GUID{}, false
}

func (f *fakeAssets) AssetHash(guid hashing.GUID) (hashing.Hash128, bool) {
	h, ok := f.hashes[guid]
	return h, ok
}

// dirRemote is a cache server backed by a local directory.
type dirRemote struct {
	dir     string
	mu      sync.Mutex
	commits int
}

func (r *dirRemote) Open(context.Context) error { return nil }
func (r *dirRemote) Close(context.Context) error { return nil }
func (r *dirRemote) Lock(context.Context) (func() error, error) { return func() error { return nil }, nil }
func (r *dirRemote) ClearFiles(context.Context) error { return os.RemoveAll(r.dir) }
func (r *dirRemote) Artifacts() ArtifactStore { return r }
func (r *dirRemote) Delete(_ context.Context, key string) error { return os.Remove(r.path(key)) }
func (r *dirRemote) path(key string) string { return filepath.Join(r.dir, filepath.FromSlash(key)) }
func (r *dirRemote) Has(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(r.path(key))
	return err == nil, nil
}

func (r *dirRemote) Fetch(_ context.Context, key string) (ArtifactFile, error) {
	if _, err := os.Stat(r.path(key)); err != nil {
		return ArtifactFile{}, err
	}
	return ArtifactFile{Path: r.path(key)}, nil
}

func (r *dirRemote) TempFile(_ context.Context, prefix string) (*os.File, func(), error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.CreateTemp(r.dir, prefix)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = os.Remove(f.Name()) }, nil
}

func (r *dirRemote) Commit(_ context.Context, key, tmpPath string, _ map[string]string) (ArtifactFile, error) {
	r.mu.Lock()
	r.commits++
	r.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(r.path(key)), 0o755); err != nil {
		return ArtifactFile{}, err
	}
	return ArtifactFile{Path: r.path(key)}, os.Rename(tmpPath, r.path(key))
}

func newTestCache(t *testing.T, opts Options) *BuildCache {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	if !opts.Policy.Read && !opts.Policy.Write {
		opts.Policy = Policy{Read: true, Write: true}
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
}

func storeInfo(t *testing.T, c *BuildCache, entry CacheEntry, value string, deps ...CacheEntry) {
	t.Helper()
	payload, err := NewPayload("test", 1, value)
	if err != nil {
		t.Fatalf("NewPayload error: %v", err)
	}
	info := &CachedInfo{Asset: entry, Dependencies: deps, Data: []Payload{payload}}
	if err := c.SaveCachedData(context.Background(), []*CachedInfo{info}); err != nil {
		t.Fatalf("SaveCachedData error: %v", err)
	}
	if err := c.SyncPendingSaves(); err != nil {
		t.Fatalf("SyncPendingSaves error: %v", err)
	}
}

func TestFileEntryVersions(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Options{})
	path := filepath.Join(t.TempDir(), "testfile1.txt")
	writeFile(t, path, "t1")

	v1 := c.GetCacheEntry(path)
	v2 := c.GetCacheEntry(path, 2)
	if !v1.IsValid() || !v2.IsValid() {
		t.Fatalf("expected valid entries: %s %s", v1, v2)
	}
	if v1.Kind != KindFile || v1.File != path || v1.Version != DefaultVersion {
		t.Fatalf("unexpected entry %s", v1)
	}
	if v1.GUID != v2.GUID || v1.Kind != v2.Kind || v1.File != v2.File {
		t.Fatalf("identity should not depend on the local version")
	}
	if v1.Hash == v2.Hash {
		t.Fatalf("local version should salt the hash")
	}
	if missing := c.GetCacheEntry(filepath.Join(t.TempDir(), "nope")); missing.IsValid() {
		t.Fatalf("expected invalid entry for missing file, got %s", missing)
	}
}

func TestAssetEntryResolution(t *testing.T) {
	t.Parallel()
	guid := hashing.MustParseGUID("0123456789abcdef0123456789abcdef")
	assets := &fakeAssets{
		paths:  map[hashing.GUID]string{guid: "Assets/a.prefab"},
		hashes: map[hashing.GUID]hashing.Hash128{guid: hashing.Calculate("import").ToHash128()},
	}
	c := newTestCache(t, Options{Assets: assets})

	byGUID := c.GetCacheEntry(guid.String())
	byPath := c.GetCacheEntry("Assets/a.prefab")
	if byGUID.Kind != KindAsset || !byGUID.IsValid() {
		t.Fatalf("unexpected entry %s", byGUID)
	}
	if byGUID != byPath {
		t.Fatalf("path and guid lookups differ: %s vs %s", byGUID, byPath)
	}
	unknown := c.GetCacheEntry("fedcba9876543210fedcba9876543210")
	if unknown.IsValid() {
		t.Fatalf("expected invalid entry for unknown asset")
	}
	if infos := c.LoadCachedData(context.Background(), []CacheEntry{unknown}); infos[0] != nil {
		t.Fatalf("invalid entries must miss")
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Options{})
	entry := NewDataEntry(hashing.Calculate("unit").ToGUID(), hashing.Calculate("v").ToHash128(), 3)
	storeInfo(t, c, entry, "payload")

	infos := c.LoadCachedData(context.Background(), []CacheEntry{entry})
	if infos[0] == nil {
		t.Fatalf("expected cache hit")
	}
	var got string
	if err := infos[0].Decode(0, "test", 1, &got); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got != "payload" {
		t.Fatalf("expected payload, got %q", got)
	}
	if err := infos[0].Decode(0, "test", 2, &got); !errors.Is(err, helpers.ErrPayloadMismatch) {
		t.Fatalf("expected ErrPayloadMismatch, got %v", err)
	}

	other := entry
	other.Hash = hashing.Calculate("w").ToHash128()
	if infos := c.LoadCachedData(context.Background(), []CacheEntry{other}); infos[0] != nil {
		t.Fatalf("expected miss for different hash")
	}
}

func TestInfoFileLivesInArtifactsDirectory(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Options{})
	entry := NewDataEntry(hashing.Calculate("unit").ToGUID(), hashing.Calculate("v").ToHash128(), 1)
	dir := c.GetCachedArtifactsDirectory(entry)
	info := c.GetCachedInfoFile(entry)
	if filepath.Dir(info) != dir {
		t.Fatalf("info file %s not inside %s", info, dir)
	}
	if dir != c.GetCachedArtifactsDirectory(entry) {
		t.Fatalf("artifacts directory is not stable")
	}
	if !strings.HasPrefix(dir, c.Root()) {
		t.Fatalf("artifacts directory %s outside root", dir)
	}
}

func TestDependencyChangeInvalidates(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Options{})
	dep := filepath.Join(t.TempDir(), "dep.txt")
	writeFile(t, dep, "before")
	entry := NewDataEntry(hashing.Calculate("bundle").ToGUID(), hashing.Calculate("inputs").ToHash128(), 1)
	storeInfo(t, c, entry, "details", c.GetCacheEntry(dep))

	if infos := c.LoadCachedData(context.Background(), []CacheEntry{entry}); infos[0] == nil {
		t.Fatalf("expected hit before change")
	}
	writeFile(t, dep, "after")
	c.ClearCacheEntryMaps()
	if infos := c.LoadCachedData(context.Background(), []CacheEntry{entry}); infos[0] != nil {
		t.Fatalf("expected miss after dependency change")
	}
	if err := os.Remove(dep); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	c.ClearCacheEntryMaps()
	if infos := c.LoadCachedData(context.Background(), []CacheEntry{entry}); infos[0] != nil {
		t.Fatalf("expected miss after dependency removal")
	}
}

func TestCorruptRecordIsMiss(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Options{})
	entry := NewDataEntry(hashing.Calculate("unit").ToGUID(), hashing.Calculate("v").ToHash128(), 1)
	storeInfo(t, c, entry, "payload")
	writeFile(t, c.GetCachedInfoFile(entry), "garbage")

	if infos := c.LoadCachedData(context.Background(), []CacheEntry{entry}); infos[0] != nil {
		t.Fatalf("expected miss for corrupt record")
	}
}

func TestRefreshPolicySkipsReads(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	entry := NewDataEntry(hashing.Calculate("unit").ToGUID(), hashing.Calculate("v").ToHash128(), 1)
	storeInfo(t, newTestCache(t, Options{Root: root}), entry, "payload")

	refresh := newTestCache(t, Options{Root: root, Policy: Policy{Write: true}})
	if infos := refresh.LoadCachedData(context.Background(), []CacheEntry{entry}); infos[0] != nil {
		t.Fatalf("refresh policy must not read")
	}
}

func TestRemoteWriteThroughAndFetch(t *testing.T) {
	t.Parallel()
	remote := &dirRemote{dir: t.TempDir()}
	entry := NewDataEntry(hashing.Calculate("unit").ToGUID(), hashing.Calculate("v").ToHash128(), 1)

	first := newTestCache(t, Options{Remote: remote})
	if err := os.MkdirAll(first.GetCachedArtifactsDirectory(entry), 0o755); err != nil {
		t.Fatalf("MkdirAll error: %v", err)
	}
	writeFile(t, filepath.Join(first.GetCachedArtifactsDirectory(entry), "bundle"), "archived")
	storeInfo(t, first, entry, "payload")
	if remote.commits != 1 {
		t.Fatalf("expected one upload, got %d", remote.commits)
	}

	second := newTestCache(t, Options{Remote: remote})
	infos := second.LoadCachedData(context.Background(), []CacheEntry{entry})
	if infos[0] == nil {
		t.Fatalf("expected remote hit")
	}
	data, err := os.ReadFile(filepath.Join(second.GetCachedArtifactsDirectory(entry), "bundle"))
	if err != nil || string(data) != "archived" {
		t.Fatalf("artifact not restored: %q %v", data, err)
	}
}

func TestPruneCacheFoldersRemovesOldestFirst(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var folders []CacheFolder
	for _, name := range []string{"new", "old", "mid"} {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll error: %v", err)
		}
		age := map[string]int{"old": 0, "mid": 1, "new": 2}[name]
		folders = append(folders, CacheFolder{Key: name, Path: dir, Length: 10, LastAccess: base.Add(time.Duration(age) * time.Hour)})
	}

	removed, err := PruneCacheFolders(15, 30, folders)
	if err != nil {
		t.Fatalf("PruneCacheFolders error: %v", err)
	}
	if len(removed) != 2 || removed[0].Key != "old" || removed[1].Key != "mid" {
		t.Fatalf("unexpected removal order %+v", removed)
	}
	if _, err := os.Stat(filepath.Join(root, "new")); err != nil {
		t.Fatalf("newest folder should survive: %v", err)
	}
}

func TestPruneCacheHonorsLimit(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Options{})
	for i := range 4 {
		entry := NewDataEntry(hashing.Calculate("unit", i).ToGUID(), hashing.Calculate("v").ToHash128(), 1)
		dir := c.GetCachedArtifactsDirectory(entry)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll error: %v", err)
		}
		writeFile(t, filepath.Join(dir, "blob"), strings.Repeat("x", 1000))
	}
	total, folders, err := ComputeCacheSizeAndFolders(c.Root(), nil)
	if err != nil {
		t.Fatalf("ComputeCacheSizeAndFolders error: %v", err)
	}
	if total != 4000 || len(folders) != 4 {
		t.Fatalf("expected 4 folders and 4000 bytes, got %d and %d", len(folders), total)
	}

	wait := PruneCacheBackground(c.Root(), 2500, nil)
	wait()
	total, folders, err = ComputeCacheSizeAndFolders(c.Root(), nil)
	if err != nil {
		t.Fatalf("ComputeCacheSizeAndFolders error: %v", err)
	}
	if total > 2500 || len(folders) != 2 {
		t.Fatalf("expected 2 folders within limit, got %d and %d bytes", len(folders), total)
	}
}

func TestQueuedSavesShareOneIndexUpdate(t *testing.T) {
	t.Parallel()
	var stamps atomic.Int64
	c := newTestCache(t, Options{Now: func() time.Time {
		stamps.Add(1)
		return time.Now()
	}})
	const records = 20
	infos := make([]*CachedInfo, 0, records)
	for i := range records {
		payload, err := NewPayload("test", 1, i)
		if err != nil {
			t.Fatalf("NewPayload error: %v", err)
		}
		entry := NewDataEntry(hashing.Calculate("unit", i).ToGUID(), hashing.Calculate("v").ToHash128(), 1)
		infos = append(infos, &CachedInfo{Asset: entry, Data: []Payload{payload}})
	}

	// Hold the index so the writer cannot finish a batch while jobs are queued.
	c.indexMu.Lock()
	if err := c.SaveCachedData(context.Background(), infos); err != nil {
		c.indexMu.Unlock()
		t.Fatalf("SaveCachedData error: %v", err)
	}
	c.indexMu.Unlock()
	if err := c.SyncPendingSaves(); err != nil {
		t.Fatalf("SyncPendingSaves error: %v", err)
	}
	if n := stamps.Load(); n > 2 {
		t.Fatalf("index updated %d times for %d queued records", n, records)
	}

	idx, err := store.OpenIndex(c.Root())
	if err != nil {
		t.Fatalf("OpenIndex error: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	access, err := idx.LastAccess()
	if err != nil {
		t.Fatalf("LastAccess error: %v", err)
	}
	for _, info := range infos {
		if _, ok := access[info.Asset.Key()]; !ok {
			t.Fatalf("no access recorded for %s", info.Asset)
		}
	}
}

func TestPruneCacheBackgroundSkipsRecentPrune(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Options{})
	entry := NewDataEntry(hashing.Calculate("unit").ToGUID(), hashing.Calculate("v").ToHash128(), 1)
	dir := c.GetCachedArtifactsDirectory(entry)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll error: %v", err)
	}
	writeFile(t, filepath.Join(dir, "blob"), strings.Repeat("x", 1000))

	setLastPrune := func(at time.Time) {
		t.Helper()
		idx, err := store.OpenIndex(c.Root())
		if err != nil {
			t.Fatalf("OpenIndex error: %v", err)
		}
		if err := idx.SetLastPrune(at); err != nil {
			t.Fatalf("SetLastPrune error: %v", err)
		}
		if err := idx.Close(); err != nil {
			t.Fatalf("Close error: %v", err)
		}
	}

	setLastPrune(time.Now())
	PruneCacheBackground(c.Root(), 10, nil)()
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("recently pruned cache was pruned again: %v", err)
	}

	setLastPrune(time.Now().Add(-2 * helpers.CachePruneInterval))
	PruneCacheBackground(c.Root(), 10, nil)()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected folder to be pruned, got %v", err)
	}
}

func TestPurge(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, Options{})
	entry := NewDataEntry(hashing.Calculate("unit").ToGUID(), hashing.Calculate("v").ToHash128(), 1)
	storeInfo(t, c, entry, "payload")
	if err := Purge(c.Root()); err != nil {
		t.Fatalf("Purge error: %v", err)
	}
	if _, err := os.Stat(c.GetCachedInfoFile(entry)); !os.IsNotExist(err) {
		t.Fatalf("expected record to be purged, got %v", err)
	}
}

func TestPolicyFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		noCache bool
		refresh bool
		want    Policy
	}{
		{name: "default", want: Policy{Read: true, Write: true}},
		{name: "no cache", noCache: true, want: Policy{}},
		{name: "refresh", refresh: true, want: Policy{Write: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := PolicyFor(policyOpts{noCache: tt.noCache, refresh: tt.refresh}); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

type policyOpts struct {
	noCache bool
	refresh bool
}

func (p policyOpts) IsNoCache() bool { return p.noCache }
func (p policyOpts) IsRefresh() bool { return p.refresh }
