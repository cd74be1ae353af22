package content

import (
	"github.com/greeddj/go-sbp/internal/sbp/codec"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
)

// ObjectData is what the asset database knows about one object.
type ObjectData struct {
	Type       TypeInfo
	Payload    []byte
	Stream     []byte
	References []ObjectIdentifier
}

// ObjectSource supplies object contents for serialization.
type ObjectSource interface {
	ObjectData(obj ObjectIdentifier) (ObjectData, error)
	// SourceHash returns the live hash of the asset that owns guid.
	SourceHash(guid hashing.GUID) (hashing.Hash128, bool)
}

// WriteOperation produces one serialized file.
type WriteOperation interface {
	Command() *WriteCommand
	UsageSet() *UsageSet
	ReferenceMap() *ReferenceMap
	// GetHash128 changes whenever the written bytes would change.
	GetHash128(src ObjectSource) hashing.Hash128
	Write(src ObjectSource, outputFolder string, settings BuildSettings, globalUsage GlobalUsage) (WriteResult, error)
}

// RawWriteOperation writes the objects of its command.
type RawWriteOperation struct {
	Cmd    *WriteCommand
	Usage  *UsageSet
	RefMap *ReferenceMap
}

// Command implements WriteOperation.
func (op *RawWriteOperation) Command() *WriteCommand { return op.Cmd }

// UsageSet implements WriteOperation.
func (op *RawWriteOperation) UsageSet() *UsageSet { return op.Usage }

// ReferenceMap implements WriteOperation.
func (op *RawWriteOperation) ReferenceMap() *ReferenceMap { return op.RefMap }

// GetHash128 implements WriteOperation.
func (op *RawWriteOperation) GetHash128(src ObjectSource) hashing.Hash128 {
	b := hashing.NewBuilder().Add("raw", op.Cmd, op.Usage, op.RefMap)
	appendSourceHashes(b, src, op.Cmd)
	return b.Sum().ToHash128()
}

// Write implements WriteOperation.
func (op *RawWriteOperation) Write(src ObjectSource, outputFolder string, settings BuildSettings, globalUsage GlobalUsage) (WriteResult, error) {
	return writeSerializedFile(fileRequest{
		src:      src,
		dir:      outputFolder,
		settings: settings,
		usage:    globalUsage,
		cmd:      op.Cmd,
		tags:     op.Usage,
		refs:     op.RefMap,
	})
}

// SceneRawWriteOperation writes the objects a scene references plus the scene root.
type SceneRawWriteOperation struct {
	RawWriteOperation
	Scene     string
	SceneGUID hashing.GUID
}

// GetHash128 implements WriteOperation.
func (op *SceneRawWriteOperation) GetHash128(src ObjectSource) hashing.Hash128 {
	b := hashing.NewBuilder().Add("scene", op.Cmd, op.Usage, op.RefMap, op.Scene, op.SceneGUID)
	if h, ok := src.SourceHash(op.SceneGUID); ok {
		b.Add(h)
	}
	appendSourceHashes(b, src, op.Cmd)
	return b.Sum().ToHash128()
}

// Write implements WriteOperation.
func (op *SceneRawWriteOperation) Write(src ObjectSource, outputFolder string, settings BuildSettings, globalUsage GlobalUsage) (WriteResult, error) {
	return writeSerializedFile(fileRequest{
		src:      src,
		dir:      outputFolder,
		settings: settings,
		usage:    globalUsage,
		cmd:      op.Cmd,
		tags:     op.Usage,
		refs:     op.RefMap,
		extra: []syntheticObject{{
			id:      ObjectIdentifier{GUID: op.SceneGUID, FileType: NonAssetType, FilePath: op.Scene},
			typ:     TypeInfo{Assembly: "UnityEngine.CoreModule", Name: "UnityEngine.SceneManagement.Scene"},
			payload: []byte(op.Scene),
		}},
	})
}

// BundleInfo is the asset table written into a bundle's serialized file.
type BundleInfo struct {
	BundleName   string
	BundleAssets []AssetLoadInfo
}

// BundleWriteOperation writes the objects of a bundle plus its asset table.
type BundleWriteOperation struct {
	RawWriteOperation
	Info BundleInfo
}

// GetHash128 implements WriteOperation.
func (op *BundleWriteOperation) GetHash128(src ObjectSource) hashing.Hash128 {
	b := hashing.NewBuilder().Add("bundle", op.Cmd, op.Usage, op.RefMap, op.Info.BundleName, len(op.Info.BundleAssets))
	for _, asset := range op.Info.BundleAssets {
		b.Add(asset.Asset, asset.Address)
	}
	appendSourceHashes(b, src, op.Cmd)
	return b.Sum().ToHash128()
}

// Write implements WriteOperation.
func (op *BundleWriteOperation) Write(src ObjectSource, outputFolder string, settings BuildSettings, globalUsage GlobalUsage) (WriteResult, error) {
	table, err := codec.Marshal(op.Info)
	if err != nil {
		return WriteResult{}, err
	}
	return writeSerializedFile(fileRequest{
		src:      src,
		dir:      outputFolder,
		settings: settings,
		usage:    globalUsage,
		cmd:      op.Cmd,
		tags:     op.Usage,
		refs:     op.RefMap,
		extra: []syntheticObject{{
			id:      ObjectIdentifier{LocalIdentifierInFile: 1, FileType: NonAssetType, FilePath: "bundle:" + op.Info.BundleName},
			typ:     TypeInfo{Assembly: "UnityEngine.AssetBundleModule", Name: "UnityEngine.AssetBundle"},
			payload: table,
		}},
	})
}

func appendSourceHashes(b *hashing.Builder, src ObjectSource, cmd *WriteCommand) {
	if src == nil || cmd == nil {
		return
	}
	seen := make(map[hashing.GUID]struct{})
	for _, info := range cmd.SerializeObjects {
		guid := info.SerializationObject.GUID
		if _, ok := seen[guid]; ok {
			continue
		}
		seen[guid] = struct{}{}
		if h, ok := src.SourceHash(guid); ok {
			b.Add(guid, h)
		}
	}
}
