package tasks

import (
	"context"
	"fmt"
	"slices"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

const generateBundleLayoutVersion = 1

// GenerateBundleLayout turns the bundle layout of the build content into write
// operations: one serialized file per bundle holding its assets, one per scene.
// Objects no bundle includes are copied into every file that references them.
type GenerateBundleLayout struct {
	content   *build.BundleBuildContent
	deps      *build.DependencyData
	writeData *build.BundleWriteData
	ids       build.DeterministicIdentifiers
	source    content.ObjectSource
	layout    *build.BundleExplicitObjectLayout
}

type layoutFile struct {
	name   string
	bundle string
	objs   []content.ObjectIdentifier
	seen   map[content.ObjectIdentifier]struct{}
	usage  *content.UsageSet
	assets []content.AssetLoadInfo
}

func newLayoutFile(name, bundle string) *layoutFile {
	return &layoutFile{
		name:   name,
		bundle: bundle,
		seen:   make(map[content.ObjectIdentifier]struct{}),
		usage:  content.NewUsageSet(),
	}
}

func (f *layoutFile) add(obj content.ObjectIdentifier) {
	if _, ok := f.seen[obj]; ok {
		return
	}
	f.seen[obj] = struct{}{}
	f.objs = append(f.objs, obj)
}

// NewGenerateBundleLayout builds the task from bc.
func NewGenerateBundleLayout(bc *buildcontext.Context) (build.Task, error) {
	r := build.NewResolver(bc)
	t := &GenerateBundleLayout{
		content:   build.Require[*build.BundleBuildContent](r),
		deps:      build.Require[*build.DependencyData](r),
		writeData: build.Require[*build.BundleWriteData](r),
		ids:       build.Require[build.DeterministicIdentifiers](r),
		source:    build.Require[content.ObjectSource](r),
		layout:    build.Optional[*build.BundleExplicitObjectLayout](r),
	}
	return t, r.Err()
}

// Name implements build.Task.
func (t *GenerateBundleLayout) Name() string { return "GenerateBundleLayout" }

// Version implements build.Task.
func (t *GenerateBundleLayout) Version() int { return generateBundleLayoutVersion }

// Run implements build.Task.
func (t *GenerateBundleLayout) Run(ctx context.Context) (build.ReturnCode, error) {
	owners, files := t.placeObjects()

	for _, bundle := range build.SortedKeys(t.content.BundleLayout) {
		if ctx.Err() != nil {
			return build.Canceled, nil
		}
		for _, guid := range t.content.BundleLayout[bundle] {
			if _, ok := t.deps.SceneInfo[guid]; ok {
				if err := t.layoutScene(guid, bundle, owners); err != nil {
					return build.Error, err
				}
				continue
			}
			if err := t.layoutAsset(guid, files[bundle], owners); err != nil {
				return build.Error, err
			}
		}
	}

	for _, bundle := range build.SortedKeys(files) {
		f := files[bundle]
		if len(f.objs) == 0 && len(f.assets) == 0 {
			continue
		}
		op := &content.BundleWriteOperation{
			RawWriteOperation: content.RawWriteOperation{
				Cmd:   &content.WriteCommand{FileName: f.name, InternalName: f.name},
				Usage: f.usage.FilterTo(f.objs),
			},
			Info: content.BundleInfo{BundleName: bundle, BundleAssets: f.assets},
		}
		refs, err := t.commandReferences(op.Cmd, f.objs, owners)
		if err != nil {
			return build.Error, err
		}
		op.RefMap = refs
		t.record(f, op)
	}
	return build.Success, nil
}

// placeObjects decides which file owns each object: explicitly placed objects
// first, then the objects assets include.
func (t *GenerateBundleLayout) placeObjects() (map[content.ObjectIdentifier]string, map[string]*layoutFile) {
	owners := make(map[content.ObjectIdentifier]string)
	files := make(map[string]*layoutFile)
	fileFor := func(bundle string) *layoutFile {
		if f, ok := files[bundle]; ok {
			return f
		}
		f := newLayoutFile(t.ids.GenerateInternalFileName(bundle), bundle)
		files[bundle] = f
		return f
	}

	if t.layout != nil {
		explicit := make([]content.ObjectIdentifier, 0, len(t.layout.ExplicitObjectLocation))
		for obj := range t.layout.ExplicitObjectLocation {
			explicit = append(explicit, obj)
		}
		slices.SortFunc(explicit, content.ObjectIdentifier.Compare)
		for _, obj := range explicit {
			f := fileFor(t.layout.ExplicitObjectLocation[obj])
			owners[obj] = f.name
			f.add(obj)
		}
	}

	for _, bundle := range build.SortedKeys(t.content.BundleLayout) {
		for _, guid := range t.content.BundleLayout[bundle] {
			info, ok := t.deps.AssetInfo[guid]
			if !ok {
				continue
			}
			f := fileFor(bundle)
			for _, obj := range info.IncludedObjects {
				if _, placed := owners[obj]; !placed {
					owners[obj] = f.name
				}
			}
		}
	}
	return owners, files
}

func (t *GenerateBundleLayout) layoutAsset(guid hashing.GUID, f *layoutFile, owners map[content.ObjectIdentifier]string) error {
	info, ok := t.deps.AssetInfo[guid]
	if !ok || f == nil {
		return fmt.Errorf("%w: %s", helpers.ErrUnknownAsset, guid)
	}
	for _, obj := range info.IncludedObjects {
		if owners[obj] == f.name {
			f.add(obj)
		}
	}
	depFiles := t.pullReferences(f, info.ReferencedObjects, owners)
	t.writeData.AssetToFiles[guid] = append([]string{f.name}, depFiles...)

	if address, ok := t.content.Addresses[guid]; ok {
		info.Address = address
	}
	f.assets = append(f.assets, info)
	f.usage.UnionWith(t.deps.AssetUsage[guid])
	return nil
}

func (t *GenerateBundleLayout) layoutScene(guid hashing.GUID, bundle string, owners map[content.ObjectIdentifier]string) error {
	info := t.deps.SceneInfo[guid]
	f := newLayoutFile(t.ids.GenerateInternalFileName(info.Scene), bundle)
	depFiles := t.pullReferences(f, info.ReferencedObjects, owners)
	t.writeData.AssetToFiles[guid] = append([]string{f.name}, depFiles...)
	f.usage.UnionWith(t.deps.SceneUsage[guid])

	op := &content.SceneRawWriteOperation{
		RawWriteOperation: content.RawWriteOperation{
			Cmd:   &content.WriteCommand{FileName: f.name, InternalName: f.name},
			Usage: f.usage.FilterTo(f.objs),
		},
		Scene:     info.Scene,
		SceneGUID: guid,
	}
	refs, err := t.commandReferences(op.Cmd, f.objs, owners)
	if err != nil {
		return err
	}
	op.RefMap = refs
	t.record(f, op)
	return nil
}

// pullReferences copies unowned referenced objects into f and returns the
// other files f depends on.
func (t *GenerateBundleLayout) pullReferences(f *layoutFile, refs []content.ObjectIdentifier, owners map[content.ObjectIdentifier]string) []string {
	var depFiles []string
	for _, obj := range refs {
		if obj.GUID == builtInResourcesGUID {
			continue
		}
		owner, ok := owners[obj]
		switch {
		case !ok:
			f.add(obj)
		case owner != f.name && !slices.Contains(depFiles, owner):
			depFiles = append(depFiles, owner)
		}
	}
	slices.Sort(depFiles)
	return depFiles
}

// commandReferences fills cmd with objs and maps every object they reference to its file.
func (t *GenerateBundleLayout) commandReferences(cmd *content.WriteCommand, objs []content.ObjectIdentifier, owners map[content.ObjectIdentifier]string) (*content.ReferenceMap, error) {
	refs := content.NewReferenceMap()
	for _, obj := range objs {
		lfid := t.ids.SerializationIndexFromObjectIdentifier(obj)
		cmd.SerializeObjects = append(cmd.SerializeObjects, content.SerializationInfo{SerializationObject: obj, SerializationIndex: lfid})
		refs.AddMapping(cmd.InternalName, lfid, obj, true)
	}
	for _, obj := range objs {
		data, err := t.source.ObjectData(obj)
		if err != nil {
			return nil, err
		}
		for _, dep := range data.References {
			owner, ok := owners[dep]
			if !ok || owner == cmd.InternalName {
				continue
			}
			refs.AddMapping(owner, t.ids.SerializationIndexFromObjectIdentifier(dep), dep, false)
		}
	}
	return refs, nil
}

func (t *GenerateBundleLayout) record(f *layoutFile, op content.WriteOperation) {
	t.writeData.FileToObjects[f.name] = f.objs
	t.writeData.FileToBundle[f.name] = f.bundle
	t.writeData.FileToUsageSet[f.name] = op.UsageSet()
	t.writeData.FileToReferenceMap[f.name] = op.ReferenceMap()
	t.writeData.WriteOperations = append(t.writeData.WriteOperations, op)
}
