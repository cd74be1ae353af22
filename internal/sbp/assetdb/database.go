// Package assetdb loads a project manifest and answers the asset, object and
// dependency queries of a build.
package assetdb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"gopkg.in/yaml.v3"
)

var (
	builtInExtraGUID     = hashing.MustParseGUID(helpers.BuiltInExtraGUID)
	builtInResourcesGUID = hashing.MustParseGUID(helpers.BuiltInResourcesGUID)
)

type object struct {
	data   content.ObjectData
	usage  content.UsageTags
	engine string
	refs   []string
}

type asset struct {
	path    string
	address string
	objects []content.ObjectIdentifier
}

type scene struct {
	path        string
	refs        []content.ObjectIdentifier
	globalUsage content.GlobalUsage
}

// Database is an in-memory project: assets, scenes and the objects they hold.
type Database struct {
	root    string
	paths   map[hashing.GUID]string
	guids   map[string]hashing.GUID
	hashes  map[hashing.GUID]hashing.Hash128
	assets  map[hashing.GUID]*asset
	scenes  map[hashing.GUID]*scene
	objects map[content.ObjectIdentifier]*object
	layout  map[string][]hashing.GUID
}

// Load reads the manifest at path. Asset files are looked up relative to its directory.
func Load(path string) (*Database, error) {
	//nolint:gosec // path is the user-provided project manifest.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, filepath.Dir(path))
}

// Parse builds a Database from manifest data. When root is not empty the
// content of every asset file under root is part of the asset's import hash.
func Parse(data []byte, root string) (*Database, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", helpers.ErrManifestInvalid, err)
	}
	d := &Database{
		root:    root,
		paths:   make(map[hashing.GUID]string),
		guids:   make(map[string]hashing.GUID),
		hashes:  make(map[hashing.GUID]hashing.Hash128),
		assets:  make(map[hashing.GUID]*asset),
		scenes:  make(map[hashing.GUID]*scene),
		objects: make(map[content.ObjectIdentifier]*object),
		layout:  make(map[string][]hashing.GUID, len(m.Bundles)),
	}
	if err := d.addBuiltins(m); err != nil {
		return nil, err
	}
	for _, entry := range m.Assets {
		if err := d.addAsset(entry); err != nil {
			return nil, err
		}
	}
	for _, entry := range m.Scenes {
		if _, err := d.register(entry.GUID, entry.Path); err != nil {
			return nil, err
		}
	}
	if err := d.linkObjects(); err != nil {
		return nil, err
	}
	for _, entry := range m.Scenes {
		if err := d.addScene(entry); err != nil {
			return nil, err
		}
	}
	for bundle, members := range m.Bundles {
		for _, member := range members {
			guid, ok := d.lookup(member)
			if !ok {
				return nil, fmt.Errorf("%w: bundle %q lists unknown asset %q", helpers.ErrManifestInvalid, bundle, member)
			}
			d.layout[bundle] = append(d.layout[bundle], guid)
		}
	}
	return d, nil
}

func (d *Database) register(rawGUID, path string) (hashing.GUID, error) {
	path = filepath.ToSlash(strings.TrimSpace(path))
	if path == "" {
		return hashing.GUID{}, fmt.Errorf("%w: entry without path", helpers.ErrManifestInvalid)
	}
	guid := hashing.Calculate("asset", path).ToGUID()
	if rawGUID != "" {
		parsed, err := hashing.ParseGUID(rawGUID)
		if err != nil {
			return hashing.GUID{}, fmt.Errorf("%w: %s: %w", helpers.ErrManifestInvalid, path, err)
		}
		guid = parsed
	}
	if _, ok := d.guids[path]; ok {
		return hashing.GUID{}, fmt.Errorf("%w: duplicate path %q", helpers.ErrManifestInvalid, path)
	}
	if _, ok := d.paths[guid]; ok {
		return hashing.GUID{}, fmt.Errorf("%w: duplicate guid %s", helpers.ErrManifestInvalid, guid)
	}
	d.paths[guid] = path
	d.guids[path] = guid
	return guid, nil
}

func (d *Database) addBuiltins(m manifest) error {
	b := hashing.NewBuilder().Add("builtin")
	for _, entry := range m.Builtin {
		id := content.ObjectIdentifier{GUID: builtInExtraGUID, LocalIdentifierInFile: entry.LFID, FileType: content.NonAssetType}
		if err := d.addObject(id, builtinRef, entry); err != nil {
			return err
		}
		b.Add(entry)
	}
	b.Add("resources")
	for _, entry := range m.Resources {
		id := content.ObjectIdentifier{
			GUID:                  builtInResourcesGUID,
			LocalIdentifierInFile: entry.LFID,
			FileType:              content.NonAssetType,
			FilePath:              helpers.DefaultResourcePath,
		}
		if err := d.addObject(id, resourcesRef, entry); err != nil {
			return err
		}
		b.Add(entry)
	}
	h := b.Sum().ToHash128()
	d.hashes[builtInExtraGUID] = h
	d.hashes[builtInResourcesGUID] = h
	return nil
}

func (d *Database) addAsset(entry assetEntry) error {
	guid, err := d.register(entry.GUID, entry.Path)
	if err != nil {
		return err
	}
	a := &asset{path: d.paths[guid], address: strings.TrimSpace(entry.Address)}
	b := hashing.NewBuilder().Add("asset", a.path)
	for _, obj := range entry.Objects {
		id := content.ObjectIdentifier{GUID: guid, LocalIdentifierInFile: obj.LFID, FileType: content.SerializedAssetType}
		if err := d.addObject(id, a.path, obj); err != nil {
			return err
		}
		a.objects = append(a.objects, id)
		b.Add(obj)
	}
	fileHash, err := d.fileHash(a.path)
	if err != nil {
		return err
	}
	b.Add(fileHash)
	d.assets[guid] = a
	d.hashes[guid] = b.Sum().ToHash128()
	return nil
}

func (d *Database) addObject(id content.ObjectIdentifier, owner string, entry objectEntry) error {
	if err := entry.validate(owner); err != nil {
		return err
	}
	if _, ok := d.objects[id]; ok {
		return fmt.Errorf("%w: duplicate object %s#%d", helpers.ErrManifestInvalid, owner, entry.LFID)
	}
	usage, err := parseUsage(entry.Usage)
	if err != nil {
		return err
	}
	obj := &object{
		data: content.ObjectData{
			Type:    entry.typeInfo(),
			Payload: entry.payload(owner),
		},
		usage:  usage,
		engine: entry.Engine,
		refs:   entry.References,
	}
	if entry.Stream != "" {
		obj.data.Stream = []byte(entry.Stream)
	}
	d.objects[id] = obj
	return nil
}

// linkObjects resolves object references once every object is known.
func (d *Database) linkObjects() error {
	for _, obj := range d.objects {
		for _, ref := range obj.refs {
			id, err := d.resolveRef(ref)
			if err != nil {
				return err
			}
			obj.data.References = append(obj.data.References, id)
		}
	}
	return nil
}

func (d *Database) addScene(entry sceneEntry) error {
	guid := d.guids[filepath.ToSlash(strings.TrimSpace(entry.Path))]
	s := &scene{path: d.paths[guid], globalUsage: entry.GlobalUsage}
	for _, ref := range entry.References {
		id, err := d.resolveRef(ref)
		if err != nil {
			return err
		}
		s.refs = append(s.refs, id)
	}
	fileHash, err := d.fileHash(s.path)
	if err != nil {
		return err
	}
	d.scenes[guid] = s
	d.hashes[guid] = hashing.NewBuilder().Add("scene", s.path, entry.References, s.globalUsage, fileHash).Sum().ToHash128()
	return nil
}

func (d *Database) resolveRef(ref string) (content.ObjectIdentifier, error) {
	owner, lfid, err := splitRef(ref)
	if err != nil {
		return content.ObjectIdentifier{}, err
	}
	var id content.ObjectIdentifier
	switch owner {
	case builtinRef:
		id = content.ObjectIdentifier{GUID: builtInExtraGUID, LocalIdentifierInFile: lfid, FileType: content.NonAssetType}
	case resourcesRef:
		id = content.ObjectIdentifier{
			GUID:                  builtInResourcesGUID,
			LocalIdentifierInFile: lfid,
			FileType:              content.NonAssetType,
			FilePath:              helpers.DefaultResourcePath,
		}
	default:
		guid, ok := d.lookup(owner)
		if !ok {
			return content.ObjectIdentifier{}, fmt.Errorf("%w: reference %q: unknown asset", helpers.ErrManifestInvalid, ref)
		}
		id = content.ObjectIdentifier{GUID: guid, LocalIdentifierInFile: lfid, FileType: content.SerializedAssetType}
	}
	if _, ok := d.objects[id]; !ok {
		return content.ObjectIdentifier{}, fmt.Errorf("%w: reference %q: unknown object", helpers.ErrManifestInvalid, ref)
	}
	return id, nil
}

// lookup accepts a path or a GUID string.
func (d *Database) lookup(value string) (hashing.GUID, bool) {
	value = strings.TrimSpace(value)
	if guid, ok := d.guids[filepath.ToSlash(value)]; ok {
		return guid, true
	}
	if guid, err := hashing.ParseGUID(value); err == nil {
		if _, ok := d.paths[guid]; ok {
			return guid, true
		}
	}
	return hashing.GUID{}, false
}

// fileHash hashes the asset file when it exists under the project root.
func (d *Database) fileHash(path string) (hashing.RawHash, error) {
	if d.root == "" {
		return hashing.RawHash{}, nil
	}
	h, err := hashing.CalculateFile(filepath.Join(d.root, filepath.FromSlash(path)))
	if errors.Is(err, fs.ErrNotExist) {
		return hashing.RawHash{}, nil
	}
	return h, err
}

// GUIDToPath implements cache.AssetDatabase.
func (d *Database) GUIDToPath(guid hashing.GUID) (string, bool) {
	path, ok := d.paths[guid]
	return path, ok
}

// PathToGUID implements cache.AssetDatabase.
func (d *Database) PathToGUID(path string) (hashing.GUID, bool) {
	guid, ok := d.guids[filepath.ToSlash(path)]
	return guid, ok
}

// AssetHash implements cache.AssetDatabase.
func (d *Database) AssetHash(guid hashing.GUID) (hashing.Hash128, bool) {
	h, ok := d.hashes[guid]
	return h, ok
}

// SourceHash implements content.ObjectSource.
func (d *Database) SourceHash(guid hashing.GUID) (hashing.Hash128, bool) {
	return d.AssetHash(guid)
}

// ObjectData implements content.ObjectSource.
func (d *Database) ObjectData(id content.ObjectIdentifier) (content.ObjectData, error) {
	obj, ok := d.objects[id]
	if !ok {
		return content.ObjectData{}, fmt.Errorf("%w: %s", helpers.ErrUnknownObject, id)
	}
	return obj.data, nil
}

// IsScene reports whether guid is a scene.
func (d *Database) IsScene(guid hashing.GUID) bool {
	_, ok := d.scenes[guid]
	return ok
}

// Content returns the bundle layout of the manifest. Every bundled asset is
// addressed by its manifest address, or by its path when it has none.
func (d *Database) Content() *build.BundleBuildContent {
	c := build.NewBundleBuildContent(d.layout, d.IsScene)
	for _, guid := range c.Assets {
		a := d.assets[guid]
		if a.address != "" {
			c.Addresses[guid] = a.address
		} else {
			c.Addresses[guid] = a.path
		}
	}
	return c
}

// AssetDependencies implements build.DependencyResolver.
func (d *Database) AssetDependencies(guid hashing.GUID, settings content.BuildSettings) (content.AssetLoadInfo, *content.UsageSet, error) {
	a, ok := d.assets[guid]
	if !ok {
		return content.AssetLoadInfo{}, nil, fmt.Errorf("%w: %s", helpers.ErrUnknownAsset, guid)
	}
	usage := content.NewUsageSet()
	included := make(map[content.ObjectIdentifier]struct{}, len(a.objects))
	info := content.AssetLoadInfo{Asset: guid, Address: a.path}
	if a.address != "" {
		info.Address = a.address
	}
	var seeds []content.ObjectIdentifier
	for _, id := range a.objects {
		exists, err := d.available(id, settings)
		if err != nil {
			return content.AssetLoadInfo{}, nil, err
		}
		if !exists {
			continue
		}
		included[id] = struct{}{}
		info.IncludedObjects = append(info.IncludedObjects, id)
		obj := d.objects[id]
		seeds = append(seeds, obj.data.References...)
		if obj.usage != 0 {
			usage.Set(id, obj.usage)
		}
	}
	refs, err := d.closure(seeds, included, settings, usage)
	if err != nil {
		return content.AssetLoadInfo{}, nil, err
	}
	info.ReferencedObjects = refs
	return info, usage, nil
}

// SceneDependencies implements build.DependencyResolver.
func (d *Database) SceneDependencies(guid hashing.GUID, settings content.BuildSettings) (content.SceneDependencyInfo, *content.UsageSet, error) {
	s, ok := d.scenes[guid]
	if !ok {
		return content.SceneDependencyInfo{}, nil, fmt.Errorf("%w: %s", helpers.ErrUnknownAsset, guid)
	}
	usage := content.NewUsageSet()
	refs, err := d.closure(s.refs, nil, settings, usage)
	if err != nil {
		return content.SceneDependencyInfo{}, nil, err
	}
	return content.SceneDependencyInfo{Scene: s.path, ReferencedObjects: refs, GlobalUsage: s.globalUsage}, usage, nil
}

// closure returns every object reachable from seeds, in discovery order,
// leaving out the objects of exclude.
func (d *Database) closure(seeds []content.ObjectIdentifier, exclude map[content.ObjectIdentifier]struct{}, settings content.BuildSettings, usage *content.UsageSet) ([]content.ObjectIdentifier, error) {
	var out []content.ObjectIdentifier
	seen := make(map[content.ObjectIdentifier]struct{})
	queue := append([]content.ObjectIdentifier(nil), seeds...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := exclude[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		exists, err := d.available(id, settings)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		out = append(out, id)
		obj := d.objects[id]
		if obj.usage != 0 {
			usage.Set(id, obj.usage)
		}
		queue = append(queue, obj.data.References...)
	}
	return out, nil
}

// available reports whether id exists for the target engine.
func (d *Database) available(id content.ObjectIdentifier, settings content.BuildSettings) (bool, error) {
	obj, ok := d.objects[id]
	if !ok {
		return false, nil
	}
	if obj.engine == "" {
		return true, nil
	}
	return build.EngineSatisfies(settings.EngineVersion, obj.engine)
}
