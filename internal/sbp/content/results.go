package content

import "github.com/greeddj/go-sbp/internal/sbp/hashing"

// ResourceFile is one file produced by a write operation.
type ResourceFile struct {
	// FileName is the path on disk.
	FileName string
	// FileAlias is the name of the file inside a bundle.
	FileAlias string
	// SerializedFile is true for files holding serialized objects.
	SerializedFile bool
}

// AppendHash implements hashing.Hashable. FileName depends on where the file
// was written and is not hashed.
func (r ResourceFile) AppendHash(b *hashing.Builder) {
	b.Add(r.FileAlias, r.SerializedFile)
}

// SerializedLocation is a byte range inside a resource file.
type SerializedLocation struct {
	FileName string
	Offset   uint64
	Size     uint64
}

// ObjectSerializedInfo tells where an object was written.
type ObjectSerializedInfo struct {
	SerializedObject ObjectIdentifier
	Header           SerializedLocation
	RawData          SerializedLocation
}

// WriteResult is the outcome of one write operation.
type WriteResult struct {
	ResourceFiles          []ResourceFile
	SerializedObjects      []ObjectSerializedInfo
	IncludedTypes          []TypeInfo
	ExternalFileReferences []string
}

// FirstObjectOffset returns the offset of the first object written into the file with alias.
func (w *WriteResult) FirstObjectOffset(alias string) (uint64, bool) {
	for _, obj := range w.SerializedObjects {
		if obj.Header.FileName == alias {
			return obj.Header.Offset, true
		}
	}
	return 0, false
}

// SerializedFileMetaData holds the hashes of a write result's files.
type SerializedFileMetaData struct {
	// RawFileHash covers every byte of every resource file.
	RawFileHash hashing.Hash128
	// ContentHash skips serialized file headers.
	ContentHash hashing.Hash128
}
