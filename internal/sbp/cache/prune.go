package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/store"
)

// CacheFolder is one artifacts directory found under the cache root.
type CacheFolder struct {
	// Key is the directory relative to the cache root, slash separated.
	Key        string
	Path       string
	Length     int64
	LastAccess time.Time
}

// ComputeCacheSizeAndFolders walks every artifacts directory under root.
// LastAccess is the later of the recorded access and the newest file in the folder.
func ComputeCacheSizeAndFolders(root string, access map[string]time.Time) (int64, []CacheFolder, error) {
	var total int64
	var folders []CacheFolder
	prefixes, err := readDirs(root)
	if err != nil {
		return 0, nil, err
	}
	for _, prefix := range prefixes {
		guids, err := readDirs(filepath.Join(root, prefix))
		if err != nil {
			return 0, nil, err
		}
		for _, guid := range guids {
			hashes, err := readDirs(filepath.Join(root, prefix, guid))
			if err != nil {
				return 0, nil, err
			}
			for _, hash := range hashes {
				folder := CacheFolder{
					Key:  prefix + "/" + guid + "/" + hash,
					Path: filepath.Join(root, prefix, guid, hash),
				}
				if err := measureFolder(&folder); err != nil {
					return 0, nil, err
				}
				if at, ok := access[folder.Key]; ok && at.After(folder.LastAccess) {
					folder.LastAccess = at
				}
				total += folder.Length
				folders = append(folders, folder)
			}
		}
	}
	return total, folders, nil
}

func readDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func measureFolder(folder *CacheFolder) error {
	return filepath.WalkDir(folder.Path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		folder.Length += info.Size()
		if info.ModTime().After(folder.LastAccess) {
			folder.LastAccess = info.ModTime()
		}
		return nil
	})
}

// PruneCacheFolders deletes the least recently accessed folders until currentBytes <= maximumBytes.
// It returns the folders it removed.
func PruneCacheFolders(maximumBytes, currentBytes int64, folders []CacheFolder) ([]CacheFolder, error) {
	if currentBytes <= maximumBytes {
		return nil, nil
	}
	sorted := append([]CacheFolder(nil), folders...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastAccess.Before(sorted[j].LastAccess)
	})
	var removed []CacheFolder
	for _, folder := range sorted {
		if currentBytes <= maximumBytes {
			break
		}
		if err := os.RemoveAll(folder.Path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", folder.Path, err)
		}
		currentBytes -= folder.Length
		removed = append(removed, folder)
		removeIfEmpty(filepath.Dir(folder.Path))
		removeIfEmpty(filepath.Dir(filepath.Dir(folder.Path)))
	}
	return removed, nil
}

func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(dir)
	}
}

// PruneCache shrinks the cache at root to maximumBytes.
// When another process holds the cache lock the prune is skipped.
func PruneCache(root string, maximumBytes int64, logger Logger) error {
	if logger == nil {
		logger = nopLogger{}
	}
	release, err := store.AcquireLock(root)
	if err != nil {
		if errors.Is(err, helpers.ErrAnotherInstanceIsRunning) {
			logger.Debugf("skipping cache prune: %v", err)
			return nil
		}
		return err
	}
	defer func() {
		_ = release()
	}()

	idx, err := store.OpenIndex(root)
	if err != nil {
		logger.Debugf("access index unavailable, pruning by modification time: %v", err)
		idx = nil
	}
	defer func() {
		_ = idx.Close()
	}()
	access, err := idx.LastAccess()
	if err != nil {
		return err
	}

	total, folders, err := ComputeCacheSizeAndFolders(root, access)
	if err != nil {
		return err
	}
	removed, err := PruneCacheFolders(maximumBytes, total, folders)
	keys := make([]string, 0, len(removed))
	for _, folder := range removed {
		keys = append(keys, folder.Key)
	}
	if ferr := idx.Forget(keys...); ferr != nil {
		logger.Debugf("access index cleanup failed: %v", ferr)
	}
	if err != nil {
		return err
	}
	if len(removed) > 0 {
		logger.Debugf("pruned %d cache folders, cache size was %d bytes", len(removed), total)
	}
	return idx.SetLastPrune(time.Now())
}

// PruneCacheBackground runs PruneCache in a goroutine unless root was pruned
// within helpers.CachePruneInterval.
// Errors are logged, never returned. The returned function waits for the prune to finish.
func PruneCacheBackground(root string, maximumBytes int64, logger Logger) func() {
	if logger == nil {
		logger = nopLogger{}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if at, ok := lastPrune(root); ok && time.Since(at) < helpers.CachePruneInterval {
			logger.Debugf("skipping cache prune, last one finished at %s", at.Format(time.RFC3339))
			return
		}
		if err := PruneCache(root, maximumBytes, logger); err != nil {
			logger.Warnf("cache prune failed: %v", err)
		}
	}()
	return func() { <-done }
}

func lastPrune(root string) (time.Time, bool) {
	idx, err := store.OpenIndex(root)
	if err != nil {
		return time.Time{}, false
	}
	defer func() {
		_ = idx.Close()
	}()
	return idx.LastPrune()
}

// Purge removes every artifacts directory under root and resets the access index.
func Purge(root string) error {
	if root == "" {
		return helpers.ErrCacheDirEmpty
	}
	release, err := store.AcquireLock(root)
	if err != nil {
		return err
	}
	defer func() {
		_ = release()
	}()

	prefixes, err := readDirs(root)
	if err != nil {
		return err
	}
	for _, prefix := range prefixes {
		if err := os.RemoveAll(filepath.Join(root, prefix)); err != nil {
			return err
		}
	}
	idx, err := store.OpenIndex(root)
	if err != nil {
		return err
	}
	defer func() {
		_ = idx.Close()
	}()
	return idx.Reset()
}
