// Package content describes engine objects and turns write operations into serialized files.
package content

import (
	"cmp"
	"fmt"

	"github.com/greeddj/go-sbp/internal/sbp/hashing"
)

// FileType says where an object's source data lives.
type FileType int

const (
	// NonAssetType objects come from engine resource files.
	NonAssetType FileType = 0
	// DeprecatedCachedAssetType is kept for numbering compatibility.
	DeprecatedCachedAssetType FileType = 1
	// SerializedAssetType objects come from serialized asset files.
	SerializedAssetType FileType = 2
	// MetaAssetType objects come from imported asset meta data.
	MetaAssetType FileType = 3
)

// ObjectIdentifier references one serializable engine object.
type ObjectIdentifier struct {
	GUID                  hashing.GUID `yaml:"guid"`
	LocalIdentifierInFile int64        `yaml:"lfid"`
	FileType              FileType     `yaml:"fileType"`
	FilePath              string       `yaml:"filePath,omitempty"`
}

// Compare orders identifiers by GUID, local id, file type and path.
func (o ObjectIdentifier) Compare(other ObjectIdentifier) int {
	if c := o.GUID.Compare(other.GUID); c != 0 {
		return c
	}
	if c := cmp.Compare(o.LocalIdentifierInFile, other.LocalIdentifierInFile); c != 0 {
		return c
	}
	if c := cmp.Compare(o.FileType, other.FileType); c != 0 {
		return c
	}
	return cmp.Compare(o.FilePath, other.FilePath)
}

// String implements fmt.Stringer.
func (o ObjectIdentifier) String() string {
	if o.FilePath != "" {
		return fmt.Sprintf("{%s, %d, %d, %s}", o.GUID, o.LocalIdentifierInFile, o.FileType, o.FilePath)
	}
	return fmt.Sprintf("{%s, %d, %d}", o.GUID, o.LocalIdentifierInFile, o.FileType)
}

// AppendHash implements hashing.Hashable.
func (o ObjectIdentifier) AppendHash(b *hashing.Builder) {
	b.Add(o.GUID, o.LocalIdentifierInFile, int(o.FileType), o.FilePath)
}

// HashObjects returns the hash of objs in order.
func HashObjects(objs []ObjectIdentifier) hashing.Hash128 {
	b := hashing.NewBuilder().Add(len(objs))
	for _, obj := range objs {
		b.Add(obj)
	}
	return b.Sum().ToHash128()
}

// TypeInfo names a script or engine type.
type TypeInfo struct {
	Assembly string `yaml:"assembly"`
	Name     string `yaml:"name"`
}

// Compare orders types by assembly then name.
func (t TypeInfo) Compare(other TypeInfo) int {
	if c := cmp.Compare(t.Assembly, other.Assembly); c != 0 {
		return c
	}
	return cmp.Compare(t.Name, other.Name)
}

// AssetLoadInfo lists the objects an asset contains and references.
type AssetLoadInfo struct {
	Asset             hashing.GUID
	Address           string
	IncludedObjects   []ObjectIdentifier
	ReferencedObjects []ObjectIdentifier
}

// SceneDependencyInfo lists the objects a scene references.
type SceneDependencyInfo struct {
	Scene             string
	ReferencedObjects []ObjectIdentifier
	GlobalUsage       GlobalUsage
}
