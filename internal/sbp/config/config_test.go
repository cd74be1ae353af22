package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/greeddj/go-sbp/internal/sbp/archive"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/tasks"
	"github.com/urfave/cli/v2"
)

func testFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "manifest", Value: helpers.ManifestFile},
		&cli.StringFlag{Name: "settings", Value: helpers.SettingsFile},
		&cli.StringFlag{Name: "output", Value: "Bundles"},
		&cli.StringFlag{Name: "preset", Value: "assetbundle"},
		&cli.StringFlag{Name: "compression", Value: "lz4"},
		&cli.IntFlag{Name: "max-cache-size", Value: helpers.DefaultMaxCacheSizeGB},
		&cli.IntFlag{Name: "cache-server-port"},
		&cli.DurationFlag{Name: "timeout"},
	}
	for _, name := range []string{
		"project-dir", "target", "group", "engine-version", "builtin-bundle", "cache-dir",
		"cache-server", "cache-server-host", "cache-server-dir", "cache-server-region",
		"cache-server-bucket", "cache-server-prefix", "cache-server-access-key",
		"cache-server-secret-key", "cache-server-session-token",
	} {
		flags = append(flags, &cli.StringFlag{Name: name})
	}
	for _, name := range []string{
		"verbose", "quiet", "no-cache", "force-rebuild", "append-hash", "link-xml",
		"contiguous-bundles", "cluster-content-ids", "slim-write-results",
		"no-threaded-archiving", "cache-server-path-style-disabled",
	} {
		flags = append(flags, &cli.BoolFlag{Name: name})
	}
	return flags
}

func runBuildConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var (
		cfg *Config
		err error
	)
	app := &cli.App{
		Name:      "sbp-test",
		Flags:     testFlags(),
		Writer:    io.Discard,
		ErrWriter: io.Discard,
		Action: func(c *cli.Context) error {
			cfg, err = BuildConfig(c)
			return nil
		},
	}
	if runErr := app.Run(append([]string{"sbp-test"}, args...)); runErr != nil {
		t.Fatalf("app.Run error: %v", runErr)
	}
	return cfg, err
}

const projectSettings = `
[build]
target = "FromSettings"
engine_version = "6000.0.23f1"
preset = "contentfile"
compression = "zstd"
append_hash = true
threaded_archiving = false

[build.bundle_compression]
levels = "lz4hc"

[cache]
dir = "SharedCache"
max_size_gb = 5
`

func TestBuildConfigAppliesSettings(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, helpers.SettingsFile), []byte(projectSettings), helpers.FileMod); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	cfg, err := runBuildConfig(t, "--project-dir", dir, "--target", "FromFlag")
	if err != nil {
		t.Fatalf("BuildConfig error: %v", err)
	}
	if cfg.Target != "FromFlag" {
		t.Fatalf("explicit flag was overridden: %q", cfg.Target)
	}
	if cfg.EngineVersion != "6000.0.23f1" || cfg.Preset != tasks.ContentFileCompatible || cfg.Compression != archive.Zstd {
		t.Fatalf("settings were not applied: %#v", cfg)
	}
	if !cfg.AppendHash || cfg.ThreadedArchiving {
		t.Fatalf("bool settings were not applied: append=%v threaded=%v", cfg.AppendHash, cfg.ThreadedArchiving)
	}
	if cfg.MaxCacheSizeGB != 5 {
		t.Fatalf("MaxCacheSizeGB = %d", cfg.MaxCacheSizeGB)
	}
	if cfg.CacheDir != filepath.Join(dir, "SharedCache") || cfg.ManifestFile != filepath.Join(dir, helpers.ManifestFile) {
		t.Fatalf("paths were not resolved: cache=%s manifest=%s", cfg.CacheDir, cfg.ManifestFile)
	}
	if cfg.SettingsPath != filepath.Join(dir, helpers.SettingsFile) {
		t.Fatalf("SettingsPath = %q", cfg.SettingsPath)
	}
	if !slices.Contains(cfg.SettingsUsed, "build.engine_version") || slices.Contains(cfg.SettingsUsed, "build.target") {
		t.Fatalf("unexpected SettingsUsed: %v", cfg.SettingsUsed)
	}

	params := cfg.Parameters()
	if params.Settings.EngineVersion != "6000.0.23f1" || params.CacheFolder != cfg.CacheDir {
		t.Fatalf("unexpected parameters: %#v", params)
	}
	if params.GetCompressionForIdentifier("levels") != archive.LZ4HC || params.GetCompressionForIdentifier("heroes") != archive.Zstd {
		t.Fatalf("unexpected bundle compression: %v", params.PerBundleCompression)
	}
	if params.TempOutputFolder != filepath.Join(dir, helpers.DefaultTempBuildPath) || !params.UseCache {
		t.Fatalf("unexpected temp folder or cache use: %s %v", params.TempOutputFolder, params.UseCache)
	}
}

func TestBuildConfigWithoutSettingsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg, err := runBuildConfig(t, "--project-dir", dir, "--no-cache", "--quiet")
	if err != nil {
		t.Fatalf("BuildConfig error: %v", err)
	}
	if cfg.SettingsPath != "" || len(cfg.SettingsUsed) != 0 {
		t.Fatalf("unexpected settings: %q %v", cfg.SettingsPath, cfg.SettingsUsed)
	}
	if cfg.Preset != tasks.AssetBundleCompatible || cfg.Compression != archive.LZ4 || !cfg.ThreadedArchiving {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	if !cfg.IsNoCache() || cfg.Parameters().UseCache || !cfg.Quiet {
		t.Fatalf("flags were not applied: %#v", cfg)
	}
	if cfg.Timeout < helpers.FetchDefaultTimeout {
		t.Fatalf("Timeout = %s", cfg.Timeout)
	}
}

func TestBuildConfigRejectsBadValues(t *testing.T) {
	t.Parallel()
	if _, err := runBuildConfig(t, "--project-dir", t.TempDir(), "--preset", "scenes"); err == nil {
		t.Fatalf("expected preset error")
	}
	_, err := runBuildConfig(t, "--project-dir", t.TempDir(), "--compression", "brotli")
	if !errors.Is(err, helpers.ErrUnknownCompression) {
		t.Fatalf("expected ErrUnknownCompression, got %v", err)
	}
}

func TestBuildConfigCacheServer(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		args    []string
		want    CacheServerConfig
		wantErr error
	}{
		{
			name: "disabled",
			want: CacheServerConfig{PathStyle: true},
		},
		{
			name: "s3",
			args: []string{"--cache-server-bucket", "sbp", "--cache-server-access-key", "a", "--cache-server-secret-key", "s", "--cache-server-host", "minio", "--cache-server-port", "9000"},
			want: CacheServerConfig{Enabled: true, Kind: CacheServerS3, Bucket: "sbp", AccessKey: "a", SecretKey: "s", Host: "minio", Port: 9000, PathStyle: true},
		},
		{
			name:    "s3 without credentials",
			args:    []string{"--cache-server-bucket", "sbp"},
			wantErr: helpers.ErrCacheServerEmptyCreds,
		},
		{
			name: "dir",
			args: []string{"--cache-server-dir", "/srv/sbp", "--cache-server-path-style-disabled"},
			want: CacheServerConfig{Enabled: true, Kind: CacheServerDir, Dir: "/srv/sbp"},
		},
		{
			name:    "unknown kind",
			args:    []string{"--cache-server", "ftp"},
			wantErr: helpers.ErrCacheServerKind,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := runBuildConfig(t, append([]string{"--project-dir", t.TempDir()}, tt.args...)...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildConfig error: %v", err)
			}
			if cfg.CacheServer != tt.want {
				t.Fatalf("CacheServer = %#v, want %#v", cfg.CacheServer, tt.want)
			}
		})
	}
}

func TestCacheServerEndpoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cfg  CacheServerConfig
		want string
	}{
		{cfg: CacheServerConfig{}, want: ""},
		{cfg: CacheServerConfig{Host: "minio"}, want: "minio"},
		{cfg: CacheServerConfig{Host: "minio", Port: 9000}, want: "minio:9000"},
		{cfg: CacheServerConfig{Host: "http://minio:9000", Port: 9000}, want: "http://minio:9000"},
	}
	for _, tt := range tests {
		if got := tt.cfg.Endpoint(); got != tt.want {
			t.Fatalf("Endpoint() = %q, want %q", got, tt.want)
		}
	}
}
