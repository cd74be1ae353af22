package tasks

import (
	"context"
	"encoding/binary"
	"slices"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/buildlog"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

const clusterBuildLayoutVersion = 2

var builtInResourcesGUID = hashing.MustParseGUID(helpers.BuiltInResourcesGUID)

// ClusterBuildLayout groups objects by the exact set of assets that use them.
// Every group becomes one serialized file, every scene gets a file of its own.
type ClusterBuildLayout struct {
	params    *build.Parameters
	deps      *build.DependencyData
	writeData *build.BundleWriteData
	ids       build.DeterministicIdentifiers
	source    content.ObjectSource
	clusters  *build.ClusterOutput
	logger    buildlog.Logger

	useContentIDs bool
}

// NewClusterBuildLayout builds the task from bc.
func NewClusterBuildLayout(bc *buildcontext.Context) (build.Task, error) {
	r := build.NewResolver(bc)
	t := &ClusterBuildLayout{
		params:    build.Require[*build.Parameters](r),
		deps:      build.Require[*build.DependencyData](r),
		writeData: build.Require[*build.BundleWriteData](r),
		ids:       build.Require[build.DeterministicIdentifiers](r),
		source:    build.Require[content.ObjectSource](r),
		clusters:  build.Require[*build.ClusterOutput](r),
		logger:    build.Optional[buildlog.Logger](r),
	}
	if t.params != nil {
		t.useContentIDs = t.params.ClusterContentIDs
	}
	return t, r.Err()
}

// Name implements build.Task.
func (t *ClusterBuildLayout) Name() string { return "ClusterBuildLayout" }

// Version implements build.Task.
func (t *ClusterBuildLayout) Version() int { return clusterBuildLayoutVersion }

// Run implements build.Task.
func (t *ClusterBuildLayout) Run(_ context.Context) (build.ReturnCode, error) {
	engine := t.params.Settings.EngineVersion
	if err := build.RequireEngine(engine, build.ClusterLayoutConstraint, "cluster layout"); err != nil {
		return build.Error, err
	}
	sortByID, err := build.EngineSatisfies(engine, build.SortedClusterObjectsConstraint)
	if err != nil {
		return build.Error, err
	}

	objectToAssets := t.collectObjectUsers()
	clusterObjects := make(map[hashing.Hash128][]content.ObjectIdentifier)
	clusterOrder := make([]hashing.Hash128, 0)
	for obj, assets := range objectToAssets {
		slices.SortFunc(assets, hashing.GUID.Compare)
		id := hashing.Calculate(assets).ToHash128()
		if _, ok := clusterObjects[id]; !ok {
			clusterOrder = append(clusterOrder, id)
		}
		clusterObjects[id] = append(clusterObjects[id], obj)
	}

	usage := content.NewUsageSet()
	for _, guid := range build.SortedGUIDs(t.deps.AssetUsage) {
		usage.UnionWith(t.deps.AssetUsage[guid])
	}
	for _, guid := range build.SortedGUIDs(t.deps.SceneUsage) {
		usage.UnionWith(t.deps.SceneUsage[guid])
	}

	named := make(map[string][]content.ObjectIdentifier, len(clusterOrder))
	for _, tempID := range clusterOrder {
		objs := clusterObjects[tempID]
		if sortByID {
			slices.SortFunc(objs, content.ObjectIdentifier.Compare)
		} else {
			slices.SortFunc(objs, compareObjectHashes)
		}
		id := tempID
		if t.useContentIDs {
			id = ComputeClusterID(objs)
		}
		for _, obj := range objs {
			if _, ok := t.clusters.ObjectToCluster[obj]; !ok {
				t.clusters.ObjectToCluster[obj] = id
			}
			t.clusters.ObjectToLocalID[obj] = t.ids.SerializationIndexFromObjectIdentifier(obj)
		}
		named[id.String()] = objs
	}

	for _, name := range build.SortedKeys(named) {
		objs := named[name]
		t.writeData.FileToObjects[name] = objs
		op := &content.RawWriteOperation{
			Cmd:    &content.WriteCommand{FileName: name, InternalName: name},
			Usage:  usage,
			RefMap: content.NewReferenceMap(),
		}
		for _, obj := range objs {
			lfid := t.clusters.ObjectToLocalID[obj]
			op.Cmd.SerializeObjects = append(op.Cmd.SerializeObjects, content.SerializationInfo{SerializationObject: obj, SerializationIndex: lfid})
			op.RefMap.AddMapping(name, lfid, obj, false)
		}
		if err := t.mapClusterDependencies(op.RefMap, objs); err != nil {
			return build.Error, err
		}
		t.writeData.FileToBundle[name] = name
		t.writeData.FileToUsageSet[name] = usage
		t.writeData.FileToReferenceMap[name] = op.RefMap
		t.writeData.WriteOperations = append(t.writeData.WriteOperations, op)
	}

	for _, guid := range build.SortedGUIDs(t.deps.SceneInfo) {
		info := t.deps.SceneInfo[guid]
		name := guid.String()
		op := &content.SceneRawWriteOperation{
			RawWriteOperation: content.RawWriteOperation{
				Cmd:    &content.WriteCommand{FileName: name, InternalName: name},
				Usage:  usage,
				RefMap: content.NewReferenceMap(),
			},
			Scene:     info.Scene,
			SceneGUID: guid,
		}
		for _, obj := range info.ReferencedObjects {
			if obj.GUID == builtInResourcesGUID {
				continue
			}
			t.addClusterMapping(op.RefMap, obj)
		}
		t.writeData.FileToBundle[name] = name
		t.writeData.FileToUsageSet[name] = usage
		t.writeData.FileToReferenceMap[name] = op.RefMap
		t.writeData.WriteOperations = append(t.writeData.WriteOperations, op)
	}
	return build.Success, nil
}

// collectObjectUsers maps every clusterable object to the assets and scenes that use it.
func (t *ClusterBuildLayout) collectObjectUsers() map[content.ObjectIdentifier][]hashing.GUID {
	users := make(map[content.ObjectIdentifier][]hashing.GUID)
	add := func(obj content.ObjectIdentifier, user hashing.GUID) {
		if strings.EqualFold(obj.FilePath, helpers.DefaultResourcePath) {
			return
		}
		if slices.Contains(users[obj], user) {
			return
		}
		users[obj] = append(users[obj], user)
	}
	for _, guid := range build.SortedGUIDs(t.deps.AssetInfo) {
		info := t.deps.AssetInfo[guid]
		for _, obj := range info.IncludedObjects {
			add(obj, guid)
		}
		for _, obj := range info.ReferencedObjects {
			add(obj, guid)
		}
	}
	for _, guid := range build.SortedGUIDs(t.deps.SceneInfo) {
		for _, obj := range t.deps.SceneInfo[guid].ReferencedObjects {
			add(obj, guid)
		}
	}
	return users
}

func (t *ClusterBuildLayout) mapClusterDependencies(refs *content.ReferenceMap, objs []content.ObjectIdentifier) error {
	for _, obj := range objs {
		data, err := t.source.ObjectData(obj)
		if err != nil {
			return err
		}
		for _, dep := range data.References {
			if dep.GUID == builtInResourcesGUID {
				continue
			}
			t.addClusterMapping(refs, dep)
		}
	}
	return nil
}

func (t *ClusterBuildLayout) addClusterMapping(refs *content.ReferenceMap, obj content.ObjectIdentifier) {
	cluster, ok := t.clusters.ObjectToCluster[obj]
	if !ok {
		buildlog.AddEntrySafe(t.logger, buildlog.LevelWarning, "Object %s is not part of any cluster", obj)
		return
	}
	refs.AddMapping(cluster.String(), t.clusters.ObjectToLocalID[obj], obj, false)
}

// ComputeClusterID hashes the identities of objs, so a cluster keeps its name
// for as long as it holds the same objects.
func ComputeClusterID(objs []content.ObjectIdentifier) hashing.Hash128 {
	buf := make([]byte, 0, len(objs)*44)
	for _, obj := range objs {
		buf = append(buf, obj.GUID[:]...)
		//nolint:gosec // local ids are written as their two's complement bits.
		buf = binary.LittleEndian.AppendUint64(buf, uint64(obj.LocalIdentifierInFile))
		//nolint:gosec // file types are small enumerations.
		buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(obj.FileType)))
		var pathHash hashing.Hash128
		if obj.FilePath != "" {
			pathHash = hashing.Calculate(obj.FilePath).ToHash128()
		}
		buf = append(buf, pathHash[:]...)
	}
	return hashing.Calculate(buf).ToHash128()
}

func compareObjectHashes(a, b content.ObjectIdentifier) int {
	ha := hashing.Calculate(a).ToHash128()
	hb := hashing.Calculate(b).ToHash128()
	return slices.Compare(ha[:], hb[:])
}
