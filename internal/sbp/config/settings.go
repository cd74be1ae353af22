package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/greeddj/go-sbp/internal/sbp/archive"
	"github.com/greeddj/go-sbp/internal/sbp/tasks"
	"github.com/urfave/cli/v2"
)

/*
sbp.toml (in the project directory, or --settings / GO_SBP_SETTINGS)

[build]
target = "StandaloneLinux64"
engine_version = "6000.0.23f1"
preset = "assetbundle"
compression = "lz4"
append_hash = true

[build.bundle_compression]
"levels" = "zstd"

[cache]
dir = "Library/BuildCache"
max_size_gb = 20
server = "s3"
server_host = "minio.local"
server_port = 9000
bucket = "sbp-cache"
*/

// buildSettings maps the [build] table.
type buildSettings struct {
	Output            string            `toml:"output"`
	Manifest          string            `toml:"manifest"`
	Target            string            `toml:"target"`
	Group             string            `toml:"group"`
	EngineVersion     string            `toml:"engine_version"`
	Preset            string            `toml:"preset"`
	BuiltInBundle     string            `toml:"builtin_bundle"`
	Compression       string            `toml:"compression"`
	BundleCompression map[string]string `toml:"bundle_compression"`
	AppendHash        *bool             `toml:"append_hash"`
	LinkXML           *bool             `toml:"link_xml"`
	ContiguousBundles *bool             `toml:"contiguous_bundles"`
	ClusterContentIDs *bool             `toml:"cluster_content_ids"`
	SlimWriteResults  *bool             `toml:"slim_write_results"`
	ThreadedArchiving *bool             `toml:"threaded_archiving"`
}

// cacheSettings maps the [cache] table.
type cacheSettings struct {
	Dir               string `toml:"dir"`
	MaxSizeGB         *int   `toml:"max_size_gb"`
	Server            string `toml:"server"`
	ServerHost        string `toml:"server_host"`
	ServerPort        int    `toml:"server_port"`
	ServerDir         string `toml:"server_dir"`
	Bucket            string `toml:"bucket"`
	Prefix            string `toml:"prefix"`
	Region            string `toml:"region"`
	PathStyleDisabled bool   `toml:"path_style_disabled"`
}

// settingsFile represents the parsed sbp.toml structure.
type settingsFile struct {
	Build buildSettings `toml:"build"`
	Cache cacheSettings `toml:"cache"`
}

// loadSettings loads the settings file if it exists.
func loadSettings(path string) (settingsFile, string, error) {
	settings := settingsFile{}
	if _, err := os.Stat(path); err != nil {
		return settings, "", err
	}
	if _, err := toml.DecodeFile(path, &settings); err != nil {
		return settings, "", fmt.Errorf("failed parse %s: %w", path, err)
	}
	return settings, path, nil
}

// applySettings copies settings into cfg for every flag that was not set explicitly.
func applySettings(cfg *Config, c *cli.Context, settings settingsFile) error {
	b := settings.Build
	applyString(cfg, c, "output", "build.output", b.Output, &cfg.OutputFolder)
	applyString(cfg, c, "manifest", "build.manifest", b.Manifest, &cfg.ManifestFile)
	applyString(cfg, c, "target", "build.target", b.Target, &cfg.Target)
	applyString(cfg, c, "group", "build.group", b.Group, &cfg.Group)
	applyString(cfg, c, "engine-version", "build.engine_version", b.EngineVersion, &cfg.EngineVersion)
	applyString(cfg, c, "builtin-bundle", "build.builtin_bundle", b.BuiltInBundle, &cfg.BuiltInBundle)
	applyString(cfg, c, "cache-dir", "cache.dir", settings.Cache.Dir, &cfg.CacheDir)

	applyBool(cfg, c, "append-hash", "build.append_hash", b.AppendHash, &cfg.AppendHash)
	applyBool(cfg, c, "link-xml", "build.link_xml", b.LinkXML, &cfg.WriteLinkXML)
	applyBool(cfg, c, "contiguous-bundles", "build.contiguous_bundles", b.ContiguousBundles, &cfg.ContiguousBundles)
	applyBool(cfg, c, "cluster-content-ids", "build.cluster_content_ids", b.ClusterContentIDs, &cfg.ClusterContentIDs)
	applyBool(cfg, c, "slim-write-results", "build.slim_write_results", b.SlimWriteResults, &cfg.SlimWriteResults)
	if b.ThreadedArchiving != nil && !c.IsSet("no-threaded-archiving") {
		cfg.ThreadedArchiving = *b.ThreadedArchiving
		cfg.SettingsUsed = append(cfg.SettingsUsed, "build.threaded_archiving")
	}
	if settings.Cache.MaxSizeGB != nil && !c.IsSet("max-cache-size") {
		cfg.MaxCacheSizeGB = *settings.Cache.MaxSizeGB
		cfg.SettingsUsed = append(cfg.SettingsUsed, "cache.max_size_gb")
	}

	if b.Preset != "" && !c.IsSet("preset") {
		preset, err := tasks.ParsePreset(b.Preset)
		if err != nil {
			return fmt.Errorf("build.preset: %w", err)
		}
		cfg.Preset = preset
		cfg.SettingsUsed = append(cfg.SettingsUsed, "build.preset")
	}
	if b.Compression != "" && !c.IsSet("compression") {
		compression, err := archive.ParseCompression(b.Compression)
		if err != nil {
			return fmt.Errorf("build.compression: %w", err)
		}
		cfg.Compression = compression
		cfg.SettingsUsed = append(cfg.SettingsUsed, "build.compression")
	}
	if len(b.BundleCompression) > 0 {
		cfg.PerBundleCompression = make(map[string]archive.Compression, len(b.BundleCompression))
		for bundle, name := range b.BundleCompression {
			compression, err := archive.ParseCompression(name)
			if err != nil {
				return fmt.Errorf("build.bundle_compression.%s: %w", bundle, err)
			}
			cfg.PerBundleCompression[bundle] = compression
		}
		cfg.SettingsUsed = append(cfg.SettingsUsed, "build.bundle_compression")
	}
	return nil
}

func applyString(cfg *Config, c *cli.Context, flag, key, value string, dst *string) {
	if value == "" || c.IsSet(flag) {
		return
	}
	*dst = value
	cfg.SettingsUsed = append(cfg.SettingsUsed, key)
}

func applyBool(cfg *Config, c *cli.Context, flag, key string, value *bool, dst *bool) {
	if value == nil || c.IsSet(flag) {
		return
	}
	*dst = *value
	cfg.SettingsUsed = append(cfg.SettingsUsed, key)
}
