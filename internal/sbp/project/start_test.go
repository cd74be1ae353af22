package project

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/greeddj/go-sbp/internal/sbp/archive"
	"github.com/greeddj/go-sbp/internal/sbp/config"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/infra"
	"github.com/greeddj/go-sbp/internal/sbp/output"
	"github.com/greeddj/go-sbp/internal/sbp/tasks"
)

const manifest = `
assets:
  - path: Assets/Hero.prefab
    address: hero
    objects:
      - lfid: 1
        type: UnityEngine.GameObject
        references: ["Assets/Hero.png#4"]
  - path: Assets/Hero.png
    objects:
      - lfid: 4
        type: UnityEngine.Texture2D
        data: TEXTURE
bundles:
  heroes: [Assets/Hero.prefab]
  textures: [Assets/Hero.png]
`

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, helpers.ManifestFile)
	if err := os.WriteFile(path, []byte(manifest), helpers.FileMod); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return &config.Config{
		ProjectDir:        dir,
		ManifestFile:      path,
		OutputFolder:      filepath.Join(dir, "Bundles"),
		Target:            "StandaloneLinux64",
		Group:             "Standalone",
		Preset:            tasks.AssetBundleCompatible,
		Compression:       archive.LZ4,
		CacheDir:          filepath.Join(dir, "cache"),
		ThreadedArchiving: true,
	}
}

func TestStartWritesResults(t *testing.T) {
	t.Parallel()
	cfg := newConfig(t)
	if err := Start(context.Background(), cfg, infra.New(output.Discard, nil)); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.OutputFolder, helpers.ResultsFile))
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	var results Results
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if results.Target != "StandaloneLinux64" || results.ReturnCode != "Success" {
		t.Fatalf("unexpected results header: %+v", results)
	}
	names := make([]string, 0, len(results.Bundles))
	for name := range results.Bundles {
		names = append(names, name)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"heroes", "textures"}) {
		t.Fatalf("unexpected bundles: %v", names)
	}
	if deps := results.Bundles["heroes"].Dependencies; !slices.Equal(deps, []string{"textures"}) {
		t.Fatalf("unexpected heroes dependencies: %v", deps)
	}
	for name, details := range results.Bundles {
		if _, err := os.Stat(details.FileName); err != nil {
			t.Fatalf("bundle %s not written: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.ProjectDir, helpers.DefaultTempBuildPath)); !os.IsNotExist(err) {
		t.Fatalf("temp folder left behind: %v", err)
	}
}

func TestStartMissingManifest(t *testing.T) {
	t.Parallel()
	cfg := newConfig(t)
	cfg.ManifestFile = filepath.Join(cfg.ProjectDir, "missing.yml")
	err := Start(context.Background(), cfg, infra.New(output.Discard, nil))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestStartCanceled(t *testing.T) {
	t.Parallel()
	cfg := newConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Start(ctx, cfg, infra.New(output.Discard, nil))
	if !errors.Is(err, helpers.ErrBuildFailed) {
		t.Fatalf("expected ErrBuildFailed, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputFolder, helpers.ResultsFile)); !os.IsNotExist(err) {
		t.Fatalf("results written for canceled build: %v", err)
	}
}

func TestStartSharesCacheAcrossRoots(t *testing.T) {
	t.Parallel()
	server := t.TempDir()
	readResults := func(cfg *config.Config) Results {
		t.Helper()
		data, err := os.ReadFile(filepath.Join(cfg.OutputFolder, helpers.ResultsFile))
		if err != nil {
			t.Fatalf("read results: %v", err)
		}
		var results Results
		if err := json.Unmarshal(data, &results); err != nil {
			t.Fatalf("decode results: %v", err)
		}
		return results
	}

	first := newConfig(t)
	second := newConfig(t)
	for _, cfg := range []*config.Config{first, second} {
		cfg.CacheServer = config.CacheServerConfig{Enabled: true, Kind: config.CacheServerDir, Dir: server}
	}

	if err := Start(context.Background(), first, infra.New(output.Discard, nil)); err != nil {
		t.Fatalf("first Start error: %v", err)
	}
	if err := os.RemoveAll(first.CacheDir); err != nil {
		t.Fatalf("remove first cache: %v", err)
	}
	if err := Start(context.Background(), second, infra.New(output.Discard, nil)); err != nil {
		t.Fatalf("second Start error: %v", err)
	}

	want := readResults(first)
	got := readResults(second)
	for name, details := range want.Bundles {
		other, ok := got.Bundles[name]
		if !ok {
			t.Fatalf("bundle %s missing from second build", name)
		}
		if details.Hash != other.Hash || details.Crc != other.Crc {
			t.Fatalf("bundle %s differs: %+v vs %+v", name, details, other)
		}
		a, err := os.ReadFile(details.FileName)
		if err != nil {
			t.Fatalf("read %s: %v", details.FileName, err)
		}
		b, err := os.ReadFile(other.FileName)
		if err != nil {
			t.Fatalf("read %s: %v", other.FileName, err)
		}
		if !slices.Equal(a, b) {
			t.Fatalf("bundle %s bytes differ", name)
		}
	}
}
