package tasks

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sharedProject has two assets that both reference an object of a third.
func sharedProject() (*memProject, map[string]content.ObjectIdentifier) {
	p := newMemProject()
	objs := map[string]content.ObjectIdentifier{
		"a": testObject("a", 1),
		"b": testObject("b", 1),
		"s": testObject("s", 1),
	}
	p.addAsset("s", materialType, []content.ObjectIdentifier{objs["s"]})
	p.addAsset("a", meshType, []content.ObjectIdentifier{objs["a"]}, objs["s"])
	p.addAsset("b", meshType, []content.ObjectIdentifier{objs["b"]}, objs["s"])
	return p, objs
}

func TestClusterBuildLayout(t *testing.T) {
	t.Parallel()
	p, objs := sharedProject()
	clusters := build.NewClusterOutput()
	env := newTaskEnv(t, p, p.dependencyData(), nil, clusters)

	require.Equal(t, build.Success, env.run(t, NewClusterBuildLayout))
	require.Len(t, env.writeData.WriteOperations, 3)

	clusterA := clusters.ObjectToCluster[objs["a"]]
	clusterS := clusters.ObjectToCluster[objs["s"]]
	assert.NotEqual(t, clusterA, clusterS)
	assert.NotEqual(t, clusters.ObjectToCluster[objs["b"]], clusterS)

	for _, op := range env.writeData.WriteOperations {
		name := op.Command().InternalName
		assert.Equal(t, name, op.Command().FileName)
		assert.Equal(t, name, env.writeData.FileToBundle[name])
	}
	refs := env.writeData.FileToReferenceMap[clusterA.String()]
	loc, ok := refs.Lookup(objs["s"])
	require.True(t, ok)
	assert.Equal(t, clusterS.String(), loc.InternalFileName)
	assert.Equal(t, clusters.ObjectToLocalID[objs["s"]], loc.LocalID)
}

func TestClusterBuildLayoutContentIDs(t *testing.T) {
	t.Parallel()
	p, objs := sharedProject()
	clusters := build.NewClusterOutput()
	env := newTaskEnv(t, p, p.dependencyData(), nil, clusters)
	env.params.ClusterContentIDs = true

	require.Equal(t, build.Success, env.run(t, NewClusterBuildLayout))
	assert.Equal(t, ComputeClusterID([]content.ObjectIdentifier{objs["s"]}), clusters.ObjectToCluster[objs["s"]])
	assert.Contains(t, env.writeData.FileToObjects, ComputeClusterID([]content.ObjectIdentifier{objs["a"]}).String())
}

func TestClusterBuildLayoutScenes(t *testing.T) {
	t.Parallel()
	p, objs := sharedProject()
	scene := p.addScene("level", objs["a"])
	env := newTaskEnv(t, p, p.dependencyData(), nil, build.NewClusterOutput())

	require.Equal(t, build.Success, env.run(t, NewClusterBuildLayout))
	name := scene.String()
	assert.Equal(t, name, env.writeData.FileToBundle[name])
	var sceneOp *content.SceneRawWriteOperation
	for _, op := range env.writeData.WriteOperations {
		if s, ok := op.(*content.SceneRawWriteOperation); ok {
			sceneOp = s
		}
	}
	require.NotNil(t, sceneOp)
	assert.Equal(t, scene, sceneOp.SceneGUID)
	_, ok := sceneOp.RefMap.Lookup(objs["a"])
	assert.True(t, ok)
}

func TestClusterBuildLayoutNeedsNewerEngine(t *testing.T) {
	t.Parallel()
	p, _ := sharedProject()
	env := newTaskEnv(t, p, p.dependencyData(), nil, build.NewClusterOutput())
	env.params.Settings.EngineVersion = "2021.3.5f1"

	tasks, _, err := build.Validate(env.bc, []build.TaskFactory{NewClusterBuildLayout})
	require.NoError(t, err)
	code, err := tasks[0].Run(context.Background())
	assert.Equal(t, build.Error, code)
	assert.True(t, errors.Is(err, helpers.ErrEngineVersionUnsupported))
}

func TestComputeClusterIDIsOrderSensitive(t *testing.T) {
	t.Parallel()
	a := testObject("a", 1)
	b := testObject("b", 1)
	assert.Equal(t, ComputeClusterID([]content.ObjectIdentifier{a, b}), ComputeClusterID([]content.ObjectIdentifier{a, b}))
	assert.NotEqual(t, ComputeClusterID([]content.ObjectIdentifier{a, b}), ComputeClusterID([]content.ObjectIdentifier{b, a}))
	withPath := a
	withPath.FilePath = "library/extra"
	assert.NotEqual(t, ComputeClusterID([]content.ObjectIdentifier{a}), ComputeClusterID([]content.ObjectIdentifier{withPath}))
}

var builtInShader = content.ObjectIdentifier{GUID: builtInExtraGUID, LocalIdentifierInFile: 46, FileType: content.NonAssetType}

func TestCreateBuiltInBundle(t *testing.T) {
	t.Parallel()
	p := newMemProject()
	p.objects[builtInShader] = content.ObjectData{Type: shaderType, Payload: []byte("standard")}
	p.addAsset("mat", materialType, []content.ObjectIdentifier{testObject("mat", 1)}, builtInShader)
	layout := build.NewBundleExplicitObjectLayout()
	env := newTaskEnv(t, p, p.dependencyData(), nil, layout)

	require.Equal(t, build.Success, env.run(t, NewCreateBuiltInBundle("builtin")))
	assert.Equal(t, map[content.ObjectIdentifier]string{builtInShader: "builtin"}, layout.ExplicitObjectLocation)

	empty := build.NewBundleExplicitObjectLayout()
	plain, _ := sharedProject()
	env = newTaskEnv(t, plain, plain.dependencyData(), nil, empty)
	assert.Equal(t, build.SuccessNotRun, env.run(t, NewCreateBuiltInBundle("builtin")))
	assert.Empty(t, empty.ExplicitObjectLocation)
}

func bundleContent(p *memProject, layout map[string][]hashing.GUID) *build.BundleBuildContent {
	return build.NewBundleBuildContent(layout, func(guid hashing.GUID) bool {
		_, ok := p.scenes[guid]
		return ok
	})
}

func TestGenerateBundleLayout(t *testing.T) {
	t.Parallel()
	p := newMemProject()
	loose := testObject("loose", 1)
	owned := testObject("b", 1)
	p.addAsset("loose", materialType, []content.ObjectIdentifier{loose})
	p.addAsset("b", materialType, []content.ObjectIdentifier{owned})
	a := p.addAsset("a", meshType, []content.ObjectIdentifier{testObject("a", 1)}, owned, loose)
	b := testGUID("b")
	bc := bundleContent(p, map[string][]hashing.GUID{"a": {a}, "b": {b}})
	bc.Addresses[a] = "hero"
	env := newTaskEnv(t, p, p.dependencyData(), nil, bc)

	require.Equal(t, build.Success, env.run(t, NewGenerateBundleLayout))
	ids := build.Unity5PackedIdentifiers{}
	fileA := ids.GenerateInternalFileName("a")
	fileB := ids.GenerateInternalFileName("b")

	assert.Equal(t, []string{fileA, fileB}, env.writeData.AssetToFiles[a])
	assert.Equal(t, []string{fileB}, env.writeData.AssetToFiles[b])
	assert.Equal(t, "a", env.writeData.FileToBundle[fileA])
	assert.Equal(t, "b", env.writeData.FileToBundle[fileB])
	assert.ElementsMatch(t, []content.ObjectIdentifier{testObject("a", 1), loose}, env.writeData.FileToObjects[fileA])
	assert.Equal(t, []content.ObjectIdentifier{owned}, env.writeData.FileToObjects[fileB])

	require.Len(t, env.writeData.WriteOperations, 2)
	op, ok := env.writeData.WriteOperations[0].(*content.BundleWriteOperation)
	require.True(t, ok)
	assert.Equal(t, "a", op.Info.BundleName)
	require.Len(t, op.Info.BundleAssets, 1)
	assert.Equal(t, "hero", op.Info.BundleAssets[0].Address)
	loc, ok := op.RefMap.Lookup(owned)
	require.True(t, ok)
	assert.Equal(t, fileB, loc.InternalFileName)
}

func TestGenerateBundleLayoutExplicitObjects(t *testing.T) {
	t.Parallel()
	p := newMemProject()
	p.objects[builtInShader] = content.ObjectData{Type: shaderType, Payload: []byte("standard")}
	mat := p.addAsset("mat", materialType, []content.ObjectIdentifier{testObject("mat", 1)}, builtInShader)
	scene := p.addScene("level", testObject("mat", 1), builtInShader)
	layout := build.NewBundleExplicitObjectLayout()
	layout.ExplicitObjectLocation[builtInShader] = "builtin"
	bc := bundleContent(p, map[string][]hashing.GUID{"materials": {mat}, "scenes": {scene}})
	env := newTaskEnv(t, p, p.dependencyData(), nil, bc, layout)

	require.Equal(t, build.Success, env.run(t, NewGenerateBundleLayout))
	ids := build.Unity5PackedIdentifiers{}
	builtinFile := ids.GenerateInternalFileName("builtin")
	materialsFile := ids.GenerateInternalFileName("materials")
	sceneFile := ids.GenerateInternalFileName(p.paths[scene])

	assert.Equal(t, "builtin", env.writeData.FileToBundle[builtinFile])
	assert.Equal(t, []content.ObjectIdentifier{builtInShader}, env.writeData.FileToObjects[builtinFile])
	assert.Equal(t, []string{materialsFile, builtinFile}, env.writeData.AssetToFiles[mat])
	assert.Equal(t, "scenes", env.writeData.FileToBundle[sceneFile])
	files := env.writeData.AssetToFiles[scene]
	require.NotEmpty(t, files)
	assert.Equal(t, sceneFile, files[0])
	assert.True(t, slices.Contains(files, builtinFile))
	assert.True(t, slices.Contains(files, materialsFile))
	assert.Len(t, env.writeData.WriteOperations, 3)
}

func TestGenerateBundleLayoutUnknownAsset(t *testing.T) {
	t.Parallel()
	p := newMemProject()
	bc := bundleContent(p, map[string][]hashing.GUID{"a": {testGUID("missing")}})
	env := newTaskEnv(t, p, p.dependencyData(), nil, bc)
	tasks, _, err := build.Validate(env.bc, []build.TaskFactory{NewGenerateBundleLayout})
	require.NoError(t, err)
	code, err := tasks[0].Run(context.Background())
	assert.Equal(t, build.Error, code)
	assert.True(t, errors.Is(err, helpers.ErrUnknownAsset))
}
