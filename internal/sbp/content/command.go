package content

import (
	"slices"

	"github.com/greeddj/go-sbp/internal/sbp/hashing"
)

// SerializationInfo assigns a local file id to an object.
type SerializationInfo struct {
	SerializationObject ObjectIdentifier
	SerializationIndex  int64
}

// WriteCommand lists the objects serialized into one file.
type WriteCommand struct {
	FileName         string
	InternalName     string
	SerializeObjects []SerializationInfo
}

// AppendHash implements hashing.Hashable.
func (c *WriteCommand) AppendHash(b *hashing.Builder) {
	b.Add(c.FileName, c.InternalName, len(c.SerializeObjects))
	for _, info := range c.SerializeObjects {
		b.Add(info.SerializationObject, info.SerializationIndex)
	}
}

// ObjectLocation is where a referenced object ends up.
type ObjectLocation struct {
	InternalFileName string
	LocalID          int64
}

// ReferenceMap resolves cross-file object references.
type ReferenceMap struct {
	locations map[ObjectIdentifier]ObjectLocation
}

// NewReferenceMap returns an empty ReferenceMap.
func NewReferenceMap() *ReferenceMap {
	return &ReferenceMap{locations: make(map[ObjectIdentifier]ObjectLocation)}
}

// AddMapping records that obj is written into internalFileName with localID.
// An existing mapping is kept unless overwrite is set.
func (m *ReferenceMap) AddMapping(internalFileName string, localID int64, obj ObjectIdentifier, overwrite bool) {
	if m.locations == nil {
		m.locations = make(map[ObjectIdentifier]ObjectLocation)
	}
	if _, ok := m.locations[obj]; ok && !overwrite {
		return
	}
	m.locations[obj] = ObjectLocation{InternalFileName: internalFileName, LocalID: localID}
}

// AddMappings records every object of infos as written into internalFileName.
func (m *ReferenceMap) AddMappings(internalFileName string, infos []SerializationInfo, overwrite bool) {
	for _, info := range infos {
		m.AddMapping(internalFileName, info.SerializationIndex, info.SerializationObject, overwrite)
	}
}

// Lookup returns where obj is written.
func (m *ReferenceMap) Lookup(obj ObjectIdentifier) (ObjectLocation, bool) {
	if m == nil {
		return ObjectLocation{}, false
	}
	loc, ok := m.locations[obj]
	return loc, ok
}

// Len returns the number of mappings.
func (m *ReferenceMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.locations)
}

// AppendHash implements hashing.Hashable.
func (m *ReferenceMap) AppendHash(b *hashing.Builder) {
	if m == nil {
		b.Add(0)
		return
	}
	keys := make([]ObjectIdentifier, 0, len(m.locations))
	for obj := range m.locations {
		keys = append(keys, obj)
	}
	slices.SortFunc(keys, ObjectIdentifier.Compare)
	b.Add(len(keys))
	for _, obj := range keys {
		loc := m.locations[obj]
		b.Add(obj, loc.InternalFileName, loc.LocalID)
	}
}
