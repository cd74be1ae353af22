package assetdb

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/hashing"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

const heroManifest = `
builtin:
  - lfid: 46
    type: UnityEngine.Shader
    data: Standard
assets:
  - path: Assets/Hero.prefab
    address: hero
    objects:
      - lfid: 1
        type: UnityEngine.GameObject
        references: ["Assets/Hero.mat#2"]
      - lfid: 3
        type: UnityEngine.Mesh
        usage: [skinned]
        engine: ">= 6000.0"
  - path: Assets/Hero.mat
    guid: 0123456789abcdef0123456789abcdef
    objects:
      - lfid: 2
        type: UnityEngine.Material
        references: ["builtin#46", "Assets/Hero.png#4"]
  - path: Assets/Hero.png
    objects:
      - lfid: 4
        type: UnityEngine.Texture2D
        stream: pixels
scenes:
  - path: Assets/Level.unity
    references: ["Assets/Hero.prefab#1"]
    globalUsage:
      fogModes: 2
bundles:
  heroes: [Assets/Hero.prefab, Assets/Hero.mat]
  levels: [Assets/Level.unity]
`

func mustParse(t *testing.T, data string) *Database {
	t.Helper()
	d, err := Parse([]byte(data), "")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return d
}

func mustGUID(t *testing.T, d *Database, path string) hashing.GUID {
	t.Helper()
	guid, ok := d.PathToGUID(path)
	if !ok {
		t.Fatalf("path %s is unknown", path)
	}
	return guid
}

func objectOf(guid hashing.GUID, lfid int64) content.ObjectIdentifier {
	return content.ObjectIdentifier{GUID: guid, LocalIdentifierInFile: lfid, FileType: content.SerializedAssetType}
}

var shader = content.ObjectIdentifier{GUID: builtInExtraGUID, LocalIdentifierInFile: 46, FileType: content.NonAssetType}

func TestParseManifest(t *testing.T) {
	t.Parallel()
	d := mustParse(t, heroManifest)
	mat := mustGUID(t, d, "Assets/Hero.mat")
	if mat != hashing.MustParseGUID("0123456789abcdef0123456789abcdef") {
		t.Fatalf("manifest guid was not used: %s", mat)
	}
	if path, ok := d.GUIDToPath(mat); !ok || path != "Assets/Hero.mat" {
		t.Fatalf("GUIDToPath = %q, %v", path, ok)
	}
	prefab := mustGUID(t, d, "Assets/Hero.prefab")
	level := mustGUID(t, d, "Assets/Level.unity")

	c := d.Content()
	if !slices.Equal(c.Assets, []hashing.GUID{prefab, mat}) {
		t.Fatalf("unexpected assets: %v", c.Assets)
	}
	if !slices.Equal(c.Scenes, []hashing.GUID{level}) {
		t.Fatalf("unexpected scenes: %v", c.Scenes)
	}
	if c.Addresses[prefab] != "hero" || c.Addresses[mat] != "Assets/Hero.mat" {
		t.Fatalf("unexpected addresses: %v", c.Addresses)
	}
	if !d.IsScene(level) || d.IsScene(prefab) {
		t.Fatalf("IsScene mismatch")
	}
}

func TestAssetDependencies(t *testing.T) {
	t.Parallel()
	d := mustParse(t, heroManifest)
	prefab := mustGUID(t, d, "Assets/Hero.prefab")
	mat := mustGUID(t, d, "Assets/Hero.mat")
	png := mustGUID(t, d, "Assets/Hero.png")

	tests := []struct {
		name     string
		engine   string
		included []content.ObjectIdentifier
	}{
		{name: "current engine", engine: "6000.0.23f1", included: []content.ObjectIdentifier{objectOf(prefab, 1), objectOf(prefab, 3)}},
		{name: "older engine", engine: "2022.3.10f1", included: []content.ObjectIdentifier{objectOf(prefab, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info, usage, err := d.AssetDependencies(prefab, content.BuildSettings{EngineVersion: tt.engine})
			if err != nil {
				t.Fatalf("AssetDependencies error: %v", err)
			}
			if info.Address != "hero" {
				t.Fatalf("unexpected address %q", info.Address)
			}
			if !slices.Equal(info.IncludedObjects, tt.included) {
				t.Fatalf("unexpected included objects: %v", info.IncludedObjects)
			}
			wantRefs := []content.ObjectIdentifier{objectOf(mat, 2), shader, objectOf(png, 4)}
			if !slices.Equal(info.ReferencedObjects, wantRefs) {
				t.Fatalf("unexpected referenced objects: %v", info.ReferencedObjects)
			}
			wantSkinned := len(tt.included) == 2
			if got := usage.Get(objectOf(prefab, 3)) == content.UsageSkinned; got != wantSkinned {
				t.Fatalf("skinned usage = %v, want %v", got, wantSkinned)
			}
		})
	}

	if _, _, err := d.AssetDependencies(hashing.Calculate("missing").ToGUID(), content.BuildSettings{}); !errors.Is(err, helpers.ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestSceneDependencies(t *testing.T) {
	t.Parallel()
	d := mustParse(t, heroManifest)
	prefab := mustGUID(t, d, "Assets/Hero.prefab")
	mat := mustGUID(t, d, "Assets/Hero.mat")
	png := mustGUID(t, d, "Assets/Hero.png")

	info, _, err := d.SceneDependencies(mustGUID(t, d, "Assets/Level.unity"), content.BuildSettings{})
	if err != nil {
		t.Fatalf("SceneDependencies error: %v", err)
	}
	want := []content.ObjectIdentifier{objectOf(prefab, 1), objectOf(mat, 2), shader, objectOf(png, 4)}
	if !slices.Equal(info.ReferencedObjects, want) {
		t.Fatalf("unexpected referenced objects: %v", info.ReferencedObjects)
	}
	if info.Scene != "Assets/Level.unity" || info.GlobalUsage.FogModesUsed != 2 {
		t.Fatalf("unexpected scene info: %#v", info)
	}
	if _, _, err := d.SceneDependencies(prefab, content.BuildSettings{}); !errors.Is(err, helpers.ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestObjectData(t *testing.T) {
	t.Parallel()
	d := mustParse(t, heroManifest)
	png := mustGUID(t, d, "Assets/Hero.png")

	data, err := d.ObjectData(objectOf(png, 4))
	if err != nil {
		t.Fatalf("ObjectData error: %v", err)
	}
	if string(data.Payload) != "Assets/Hero.png#4" || string(data.Stream) != "pixels" {
		t.Fatalf("unexpected object data: %#v", data)
	}
	if data.Type != (content.TypeInfo{Assembly: defaultAssembly, Name: "UnityEngine.Texture2D"}) {
		t.Fatalf("unexpected type: %#v", data.Type)
	}
	builtin, err := d.ObjectData(shader)
	if err != nil || string(builtin.Payload) != "Standard" {
		t.Fatalf("unexpected builtin object: %#v, %v", builtin, err)
	}
	if _, err := d.ObjectData(objectOf(png, 5)); !errors.Is(err, helpers.ErrUnknownObject) {
		t.Fatalf("expected ErrUnknownObject, got %v", err)
	}
}

func TestAssetHashFollowsFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, helpers.ManifestFile)
	if err := os.WriteFile(manifestPath, []byte(heroManifest), helpers.FileMod); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	texture := filepath.Join(dir, "Assets", "Hero.png")
	if err := os.MkdirAll(filepath.Dir(texture), helpers.DirMod); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(texture, []byte("v1"), helpers.FileMod); err != nil {
		t.Fatalf("write texture: %v", err)
	}

	hashes := func() (hashing.Hash128, hashing.Hash128) {
		d, err := Load(manifestPath)
		if err != nil {
			t.Fatalf("Load error: %v", err)
		}
		png, _ := d.AssetHash(mustGUID(t, d, "Assets/Hero.png"))
		mat, _ := d.AssetHash(mustGUID(t, d, "Assets/Hero.mat"))
		return png, mat
	}
	png1, mat1 := hashes()
	if err := os.WriteFile(texture, []byte("v2"), helpers.FileMod); err != nil {
		t.Fatalf("rewrite texture: %v", err)
	}
	png2, mat2 := hashes()
	if png1 == png2 {
		t.Fatalf("texture hash did not change")
	}
	if mat1 != mat2 {
		t.Fatalf("material hash changed")
	}
}

func TestParseInvalidManifests(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data string
	}{
		{name: "yaml", data: "assets: [\n"},
		{name: "missing path", data: "assets:\n  - objects: []\n"},
		{name: "duplicate path", data: "assets:\n  - path: a\n  - path: a\n"},
		{name: "bad guid", data: "assets:\n  - path: a\n    guid: xyz\n"},
		{name: "missing type", data: "assets:\n  - path: a\n    objects:\n      - lfid: 1\n"},
		{name: "duplicate lfid", data: "assets:\n  - path: a\n    objects:\n      - {lfid: 1, type: T}\n      - {lfid: 1, type: T}\n"},
		{name: "bad usage", data: "assets:\n  - path: a\n    objects:\n      - {lfid: 1, type: T, usage: [shiny]}\n"},
		{name: "bad engine", data: "assets:\n  - path: a\n    objects:\n      - {lfid: 1, type: T, engine: \"banana\"}\n"},
		{name: "unknown reference", data: "assets:\n  - path: a\n    objects:\n      - {lfid: 1, type: T, references: [\"b#1\"]}\n"},
		{name: "malformed reference", data: "assets:\n  - path: a\n    objects:\n      - {lfid: 1, type: T, references: [\"a\"]}\n"},
		{name: "unknown bundle member", data: "assets:\n  - path: a\nbundles:\n  x: [b]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.data), "")
			if !errors.Is(err, helpers.ErrManifestInvalid) {
				t.Fatalf("expected ErrManifestInvalid, got %v", err)
			}
		})
	}
}
