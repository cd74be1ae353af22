// Package cache implements the content-addressed build cache.
package cache

import (
	"fmt"
	"path"

	"github.com/greeddj/go-sbp/internal/sbp/hashing"
)

// EntryKind says what backs a cache entry.
type EntryKind int

const (
	// KindAsset entries are backed by an asset GUID.
	KindAsset EntryKind = iota
	// KindFile entries are backed by a file path.
	KindFile
	// KindData entries are synthetic units of work.
	KindData
)

// String implements fmt.Stringer.
func (k EntryKind) String() string {
	switch k {
	case KindAsset:
		return "Asset"
	case KindFile:
		return "File"
	case KindData:
		return "Data"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// CacheEntry identifies one cacheable unit of work.
type CacheEntry struct {
	Kind    EntryKind       `cbor:"1,keyasint"`
	GUID    hashing.GUID    `cbor:"2,keyasint"`
	Hash    hashing.Hash128 `cbor:"3,keyasint"`
	Version int             `cbor:"4,keyasint"`
	File    string          `cbor:"5,keyasint,omitempty"`
}

// NewDataEntry returns a synthetic entry for a unit of work not backed by a source.
func NewDataEntry(guid hashing.GUID, hash hashing.Hash128, version int) CacheEntry {
	return CacheEntry{Kind: KindData, GUID: guid, Hash: hash, Version: version}
}

// Equal reports whether e and other name the same logical unit.
// Hash is not compared: equal entries with different hashes are stale copies.
func (e CacheEntry) Equal(other CacheEntry) bool {
	return e.Kind == other.Kind && e.GUID == other.GUID && e.Version == other.Version
}

// IsValid is false for entries whose source did not resolve.
func (e CacheEntry) IsValid() bool {
	return !e.GUID.IsZero() && !e.Hash.IsZero()
}

// Key returns the slash separated artifacts directory of e relative to the cache root.
func (e CacheEntry) Key() string {
	guid := e.GUID.String()
	return path.Join(guid[:2], guid, e.Hash.String())
}

// RemoteKey names the packed artifacts directory of e on a cache server.
func (e CacheEntry) RemoteKey() string {
	return path.Join(e.GUID.String(), e.Hash.String()+".tar.gz")
}

// String implements fmt.Stringer.
func (e CacheEntry) String() string {
	if e.File != "" {
		return fmt.Sprintf("(%s, %s, %s, v%d, %s)", e.Kind, e.GUID, e.Hash, e.Version, e.File)
	}
	return fmt.Sprintf("(%s, %s, %s, v%d)", e.Kind, e.GUID, e.Hash, e.Version)
}

// AppendHash implements hashing.Hashable.
func (e CacheEntry) AppendHash(b *hashing.Builder) {
	b.Add(int(e.Kind), e.GUID, e.Hash, e.Version, e.File)
}
