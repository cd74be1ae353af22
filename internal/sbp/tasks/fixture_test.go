package tasks

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/stretchr/testify/require"
)

var (
	meshType     = content.TypeInfo{Assembly: "UnityEngine.CoreModule", Name: "UnityEngine.Mesh"}
	materialType = content.TypeInfo{Assembly: "UnityEngine.CoreModule", Name: "UnityEngine.Material"}
	shaderType   = content.TypeInfo{Assembly: "UnityEngine.CoreModule", Name: "UnityEngine.Shader"}
)

// memProject is an in-memory asset database, object source and dependency resolver.
type memProject struct {
	objects map[content.ObjectIdentifier]content.ObjectData
	hashes  map[hashing.GUID]hashing.Hash128
	paths   map[hashing.GUID]string
	assets  map[hashing.GUID]content.AssetLoadInfo
	scenes  map[hashing.GUID]content.SceneDependencyInfo

	objectReads atomic.Int64
	resolves    atomic.Int64
}

func newMemProject() *memProject {
	return &memProject{
		objects: make(map[content.ObjectIdentifier]content.ObjectData),
		hashes:  make(map[hashing.GUID]hashing.Hash128),
		paths:   make(map[hashing.GUID]string),
		assets:  make(map[hashing.GUID]content.AssetLoadInfo),
		scenes:  make(map[hashing.GUID]content.SceneDependencyInfo),
	}
}

func testGUID(name string) hashing.GUID {
	return hashing.Calculate("guid", name).ToGUID()
}

func testObject(asset string, lfid int64) content.ObjectIdentifier {
	return content.ObjectIdentifier{GUID: testGUID(asset), LocalIdentifierInFile: lfid, FileType: content.SerializedAssetType}
}

// addAsset registers an asset whose objects are included in it. refs are
// objects of other assets the asset references.
func (p *memProject) addAsset(name string, typ content.TypeInfo, objs []content.ObjectIdentifier, refs ...content.ObjectIdentifier) hashing.GUID {
	guid := testGUID(name)
	p.paths[guid] = "Assets/" + name
	p.hashes[guid] = hashing.Calculate("import", name).ToHash128()
	for _, obj := range objs {
		p.objects[obj] = content.ObjectData{Type: typ, Payload: []byte(fmt.Sprintf("%s/%d", name, obj.LocalIdentifierInFile)), References: refs}
	}
	p.assets[guid] = content.AssetLoadInfo{Asset: guid, Address: p.paths[guid], IncludedObjects: objs, ReferencedObjects: refs}
	return guid
}

func (p *memProject) addScene(name string, refs ...content.ObjectIdentifier) hashing.GUID {
	guid := testGUID(name)
	p.paths[guid] = "Assets/" + name + ".unity"
	p.hashes[guid] = hashing.Calculate("import", name).ToHash128()
	p.scenes[guid] = content.SceneDependencyInfo{Scene: p.paths[guid], ReferencedObjects: refs}
	return guid
}

func (p *memProject) touch(name string) {
	guid := testGUID(name)
	p.hashes[guid] = hashing.Calculate("import", name, p.hashes[guid]).ToHash128()
}

func (p *memProject) ObjectData(obj content.ObjectIdentifier) (content.ObjectData, error) {
	p.objectReads.Add(1)
	data, ok := p.objects[obj]
	if !ok {
		return content.ObjectData{}, fmt.Errorf("%w: %s", helpers.ErrUnknownObject, obj)
	}
	return data, nil
}

func (p *memProject) SourceHash(guid hashing.GUID) (hashing.Hash128, bool) {
	h, ok := p.hashes[guid]
	return h, ok
}

func (p *memProject) GUIDToPath(guid hashing.GUID) (string, bool) {
	path, ok := p.paths[guid]
	return path, ok
}

func (p *memProject) PathToGUID(path string) (hashing.GUID, bool) {
	for guid, candidate := range p.paths {
		if candidate == path {
			return guid, true
		}
	}
	return hashing.GUID{}, false
}

func (p *memProject) AssetHash(guid hashing.GUID) (hashing.Hash128, bool) {
	return p.SourceHash(guid)
}

func (p *memProject) AssetDependencies(guid hashing.GUID, _ content.BuildSettings) (content.AssetLoadInfo, *content.UsageSet, error) {
	p.resolves.Add(1)
	info, ok := p.assets[guid]
	if !ok {
		return content.AssetLoadInfo{}, nil, fmt.Errorf("%w: %s", helpers.ErrUnknownAsset, guid)
	}
	usage := content.NewUsageSet()
	for _, obj := range info.IncludedObjects {
		usage.Set(obj, content.UsageLightmapped)
	}
	return info, usage, nil
}

func (p *memProject) SceneDependencies(guid hashing.GUID, _ content.BuildSettings) (content.SceneDependencyInfo, *content.UsageSet, error) {
	p.resolves.Add(1)
	info, ok := p.scenes[guid]
	if !ok {
		return content.SceneDependencyInfo{}, nil, fmt.Errorf("%w: %s", helpers.ErrUnknownAsset, guid)
	}
	return info, content.NewUsageSet(), nil
}

// dependencyData returns the dependency data of every asset and scene of p.
func (p *memProject) dependencyData() *build.DependencyData {
	deps := build.NewDependencyData()
	for guid, info := range p.assets {
		deps.AssetInfo[guid] = info
		deps.AssetUsage[guid] = content.NewUsageSet()
	}
	for guid, info := range p.scenes {
		deps.SceneInfo[guid] = info
		deps.SceneUsage[guid] = content.NewUsageSet()
	}
	return deps
}

type taskEnv struct {
	dir       string
	bc        *buildcontext.Context
	params    *build.Parameters
	deps      *build.DependencyData
	writeData *build.BundleWriteData
	results   *build.BundleBuildResults
	cache     *cache.BuildCache
}

// newTaskEnv registers p and fresh build data in a context. When buildCache is
// nil the build runs uncached.
func newTaskEnv(t *testing.T, p *memProject, deps *build.DependencyData, buildCache *cache.BuildCache, extra ...any) *taskEnv {
	t.Helper()
	dir := t.TempDir()
	env := &taskEnv{
		dir:       dir,
		bc:        build.NewContext(),
		params:    build.NewParameters("StandaloneLinux64", "Standalone", filepath.Join(dir, "out")),
		deps:      deps,
		writeData: build.NewBundleWriteData(),
		results:   build.NewBundleBuildResults(),
		cache:     buildCache,
	}
	env.params.TempOutputFolder = filepath.Join(dir, "temp")
	env.params.Settings.EngineVersion = "6000.0.23f1"
	env.params.UseCache = buildCache != nil
	env.params.ThreadedArchiving = false
	if env.deps == nil {
		env.deps = build.NewDependencyData()
	}
	objects := []any{env.params, env.deps, env.writeData, env.results, p, build.Unity5PackedIdentifiers{}}
	if buildCache != nil {
		objects = append(objects, buildCache)
	}
	for _, obj := range append(objects, extra...) {
		require.NoError(t, env.bc.Set(obj))
	}
	return env
}

func (e *taskEnv) run(t *testing.T, factory build.TaskFactory) build.ReturnCode {
	t.Helper()
	tasks, code, err := build.Validate(e.bc, []build.TaskFactory{factory})
	require.NoError(t, err)
	require.Equal(t, build.Success, code)
	code, err = tasks[0].Run(t.Context())
	require.NoError(t, err)
	return code
}
