package build

import (
	"encoding/binary"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
)

const extraArtifactPrefix = "virtualartifacts/extra/"

// DeterministicIdentifiers names internal files and assigns local file ids
// so that unchanged content keeps its identifiers between builds.
type DeterministicIdentifiers interface {
	GenerateInternalFileName(name string) string
	SerializationIndexFromObjectIdentifier(obj content.ObjectIdentifier) int64
}

// Unity5PackedIdentifiers derives ids from a hash of the whole object identifier.
type Unity5PackedIdentifiers struct{}

// GenerateInternalFileName implements DeterministicIdentifiers.
func (Unity5PackedIdentifiers) GenerateInternalFileName(name string) string {
	return "CAB-" + hashing.Calculate(name).ToHash128().String()
}

// SerializationIndexFromObjectIdentifier implements DeterministicIdentifiers.
func (Unity5PackedIdentifiers) SerializationIndexFromObjectIdentifier(obj content.ObjectIdentifier) int64 {
	var h hashing.RawHash
	if (obj.FileType == content.MetaAssetType || obj.FileType == content.SerializedAssetType) && !isExtraArtifact(obj) {
		h = hashing.Calculate(obj.GUID.String(), obj.LocalIdentifierInFile)
	} else {
		h = hashing.Calculate(obj)
	}
	//nolint:gosec // the bit pattern is the identifier.
	return int64(binary.LittleEndian.Uint64(h[:8]))
}

// PrefabPackedIdentifiers keeps the objects of one asset in a contiguous id range:
// the high 32 bits come from the asset, the low 32 bits from the object.
type PrefabPackedIdentifiers struct{}

// GenerateInternalFileName implements DeterministicIdentifiers.
func (PrefabPackedIdentifiers) GenerateInternalFileName(name string) string {
	return Unity5PackedIdentifiers{}.GenerateInternalFileName(name)
}

// SerializationIndexFromObjectIdentifier implements DeterministicIdentifiers.
func (PrefabPackedIdentifiers) SerializationIndexFromObjectIdentifier(obj content.ObjectIdentifier) int64 {
	var assetHash hashing.RawHash
	if isExtraArtifact(obj) {
		assetHash = hashing.Calculate(obj.FilePath)
	} else {
		assetHash = hashing.Calculate(obj.GUID, obj.FilePath)
	}
	objectHash := hashing.Calculate(obj)
	assetVal := binary.LittleEndian.Uint64(assetHash[:8])
	objectVal := binary.LittleEndian.Uint64(objectHash[:8])
	//nolint:gosec // the bit pattern is the identifier.
	return int64((assetVal & 0xFFFFFFFF00000000) | ((objectVal ^ assetVal) & 0x00000000FFFFFFFF))
}

func isExtraArtifact(obj content.ObjectIdentifier) bool {
	return strings.HasPrefix(strings.ToLower(obj.FilePath), extraArtifactPrefix)
}

// DefaultIdentifiers returns the identifiers used when the caller registered none.
func DefaultIdentifiers(contiguousBundles bool) DeterministicIdentifiers {
	if contiguousBundles {
		return PrefabPackedIdentifiers{}
	}
	return Unity5PackedIdentifiers{}
}
