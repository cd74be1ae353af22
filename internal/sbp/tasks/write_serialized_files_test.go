package tasks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/greeddj/go-sbp/internal/cache/local"
	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOperationFor(name string, objs ...content.ObjectIdentifier) *content.RawWriteOperation {
	op := &content.RawWriteOperation{
		Cmd:    &content.WriteCommand{FileName: name, InternalName: name},
		Usage:  content.NewUsageSet(),
		RefMap: content.NewReferenceMap(),
	}
	ids := build.Unity5PackedIdentifiers{}
	for _, obj := range objs {
		lfid := ids.SerializationIndexFromObjectIdentifier(obj)
		op.Cmd.SerializeObjects = append(op.Cmd.SerializeObjects, content.SerializationInfo{SerializationObject: obj, SerializationIndex: lfid})
		op.RefMap.AddMapping(name, lfid, obj, false)
	}
	return op
}

func writeProject() (*memProject, []content.ObjectIdentifier) {
	p := newMemProject()
	mesh := []content.ObjectIdentifier{testObject("mesh", 1), testObject("mesh", 2)}
	p.addAsset("mesh", meshType, mesh)
	return p, mesh
}

func TestWriteSerializedFiles(t *testing.T) {
	t.Parallel()
	p, mesh := writeProject()
	env := newTaskEnv(t, p, nil, nil)
	env.writeData.WriteOperations = []content.WriteOperation{writeOperationFor("CAB-mesh", mesh...)}

	require.Equal(t, build.Success, env.run(t, NewWriteSerializedFiles))
	result, ok := env.results.WriteResults["CAB-mesh"]
	require.True(t, ok)
	require.Len(t, result.SerializedObjects, 2)
	require.NotEmpty(t, result.ResourceFiles)
	assert.FileExists(t, result.ResourceFiles[0].FileName)
	assert.Contains(t, result.IncludedTypes, meshType)

	meta := env.results.WriteResultsMetaData["CAB-mesh"]
	assert.False(t, meta.RawFileHash.IsZero())
	assert.False(t, meta.ContentHash.IsZero())
	assert.NotEqual(t, meta.RawFileHash, meta.ContentHash)
}

func TestWriteSerializedFilesSlimResults(t *testing.T) {
	t.Parallel()
	p, mesh := writeProject()
	env := newTaskEnv(t, p, nil, nil)
	env.params.SlimWriteResults = true
	env.writeData.WriteOperations = []content.WriteOperation{writeOperationFor("CAB-mesh", mesh...)}

	require.Equal(t, build.Success, env.run(t, NewWriteSerializedFiles))
	result := env.results.WriteResults["CAB-mesh"]
	require.Len(t, result.SerializedObjects, 1)
	assert.Equal(t, "CAB-mesh", result.SerializedObjects[0].Header.FileName)
}

func TestWriteSerializedFilesUsesCache(t *testing.T) {
	t.Parallel()
	p, mesh := writeProject()
	c := newArchiveCache(t)

	first := newTaskEnv(t, p, nil, c)
	first.writeData.WriteOperations = []content.WriteOperation{writeOperationFor("CAB-mesh", mesh...)}
	require.Equal(t, build.Success, first.run(t, NewWriteSerializedFiles))
	require.NoError(t, c.SyncPendingSaves())
	reads := p.objectReads.Load()
	require.Positive(t, reads)

	second := newTaskEnv(t, p, nil, c)
	second.writeData.WriteOperations = []content.WriteOperation{writeOperationFor("CAB-mesh", mesh...)}
	require.Equal(t, build.Success, second.run(t, NewWriteSerializedFiles))
	assert.Equal(t, reads, p.objectReads.Load(), "cached write read objects again")
	assert.Equal(t, first.results.WriteResults["CAB-mesh"], second.results.WriteResults["CAB-mesh"])
	assert.Equal(t, first.results.WriteResultsMetaData["CAB-mesh"], second.results.WriteResultsMetaData["CAB-mesh"])

	p.touch("mesh")
	third := newTaskEnv(t, p, nil, c)
	third.writeData.WriteOperations = []content.WriteOperation{writeOperationFor("CAB-mesh", mesh...)}
	require.Equal(t, build.Success, third.run(t, NewWriteSerializedFiles))
	assert.Greater(t, p.objectReads.Load(), reads, "changed source was not rewritten")
}

func TestWriteSerializedFilesCachedResultFollowsCacheRoot(t *testing.T) {
	t.Parallel()
	p, mesh := writeProject()
	server := local.New(t.TempDir())
	require.NoError(t, server.Open(t.Context()))
	newCache := func(root string) *cache.BuildCache {
		c, err := cache.New(cache.Options{Root: root, Assets: p, Remote: server, Policy: cache.Policy{Read: true, Write: true}})
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	rootA := t.TempDir()
	first := newTaskEnv(t, p, nil, newCache(rootA))
	first.writeData.WriteOperations = []content.WriteOperation{writeOperationFor("CAB-mesh", mesh...)}
	require.Equal(t, build.Success, first.run(t, NewWriteSerializedFiles))
	require.NoError(t, first.cache.SyncPendingSaves())
	require.NoError(t, first.cache.Close())
	require.NoError(t, os.RemoveAll(rootA))
	reads := p.objectReads.Load()

	rootB := t.TempDir()
	second := newTaskEnv(t, p, nil, newCache(rootB))
	second.writeData.WriteOperations = []content.WriteOperation{writeOperationFor("CAB-mesh", mesh...)}
	require.Equal(t, build.Success, second.run(t, NewWriteSerializedFiles))
	assert.Equal(t, reads, p.objectReads.Load(), "server hit read objects again")

	result := second.results.WriteResults["CAB-mesh"]
	require.Len(t, result.ResourceFiles, len(first.results.WriteResults["CAB-mesh"].ResourceFiles))
	for _, file := range result.ResourceFiles {
		assert.True(t, strings.HasPrefix(file.FileName, rootB+string(filepath.Separator)), file.FileName)
		assert.FileExists(t, file.FileName)
	}
	assert.Equal(t, first.results.WriteResultsMetaData["CAB-mesh"], second.results.WriteResultsMetaData["CAB-mesh"])
}

func TestWriteSerializedFilesRequiresObjectSource(t *testing.T) {
	t.Parallel()
	bc := build.NewContext()
	require.NoError(t, bc.Set(build.NewParameters("StandaloneLinux64", "Standalone", t.TempDir())))
	_, code, err := build.Validate(bc, []build.TaskFactory{NewWriteSerializedFiles})
	require.Error(t, err)
	assert.Equal(t, build.MissingRequiredObjects, code)
}
