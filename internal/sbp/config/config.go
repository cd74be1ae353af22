// Package config holds the settings of one go-sbp invocation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/greeddj/go-sbp/internal/sbp/archive"
	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/tasks"
	"github.com/urfave/cli/v2"
)

// Config holds runtime settings for a build and the cache commands.
type Config struct {
	Verbose bool
	Quiet   bool

	ProjectDir   string
	ManifestFile string
	OutputFolder string

	Target        string
	Group         string
	EngineVersion string
	Preset        tasks.Preset
	BuiltInBundle string
	Compression   archive.Compression
	// PerBundleCompression overrides Compression by bundle name.
	PerBundleCompression map[string]archive.Compression

	CacheDir       string
	NoCache        bool
	Refresh        bool
	MaxCacheSizeGB int
	CacheServer    CacheServerConfig
	Timeout        time.Duration

	AppendHash        bool
	WriteLinkXML      bool
	ContiguousBundles bool
	ClusterContentIDs bool
	SlimWriteResults  bool
	ThreadedArchiving bool

	// SettingsPath is the settings file that was applied, if any.
	SettingsPath string
	// SettingsUsed lists the settings file keys that were applied.
	SettingsUsed []string
}

// IsNoCache reports whether cache reads and writes are disabled.
func (c *Config) IsNoCache() bool {
	if c == nil {
		return false
	}
	return c.NoCache
}

// IsRefresh reports whether cached results are ignored.
func (c *Config) IsRefresh() bool {
	if c == nil {
		return false
	}
	return c.Refresh
}

// BuildConfig builds Config from CLI flags and the project settings file.
// Settings file values apply to every flag that was not set explicitly.
func BuildConfig(c *cli.Context) (*Config, error) {
	cfg, err := newConfigFromCLI(c)
	if err != nil {
		return nil, err
	}

	settings, settingsPath, err := loadSettingsFromCLI(c, cfg.ProjectDir)
	if err != nil {
		return nil, err
	}
	if err := applySettings(cfg, c, settings); err != nil {
		return nil, err
	}
	cfg.SettingsPath = settingsPath

	serverCfg, err := loadCacheServerConfig(c, settings.Cache)
	if err != nil {
		return nil, err
	}
	cfg.CacheServer = serverCfg

	cfg.resolvePaths()
	return cfg, nil
}

// BuildCacheConfig builds the subset of Config used by the cache maintenance commands.
func BuildCacheConfig(c *cli.Context) (*Config, error) {
	cfg := &Config{
		ProjectDir:     c.String("project-dir"),
		CacheDir:       c.String("cache-dir"),
		MaxCacheSizeGB: c.Int("max-cache-size"),
		Timeout:        max(c.Duration("timeout"), helpers.FetchDefaultTimeout),
	}
	cfg.Verbose = c.Bool("verbose")
	cfg.Quiet = !cfg.Verbose && c.Bool("quiet")

	settings, settingsPath, err := loadSettingsFromCLI(c, cfg.ProjectDir)
	if err != nil {
		return nil, err
	}
	cfg.SettingsPath = settingsPath
	applyString(cfg, c, "cache-dir", "cache.dir", settings.Cache.Dir, &cfg.CacheDir)
	if settings.Cache.MaxSizeGB != nil && !c.IsSet("max-cache-size") {
		cfg.MaxCacheSizeGB = *settings.Cache.MaxSizeGB
		cfg.SettingsUsed = append(cfg.SettingsUsed, "cache.max_size_gb")
	}
	serverCfg, err := loadCacheServerConfig(c, settings.Cache)
	if err != nil {
		return nil, err
	}
	cfg.CacheServer = serverCfg
	cfg.resolvePaths()
	return cfg, nil
}

func newConfigFromCLI(c *cli.Context) (*Config, error) {
	cfg := &Config{
		ProjectDir:        c.String("project-dir"),
		ManifestFile:      c.String("manifest"),
		OutputFolder:      c.String("output"),
		Target:            c.String("target"),
		Group:             c.String("group"),
		EngineVersion:     c.String("engine-version"),
		BuiltInBundle:     c.String("builtin-bundle"),
		CacheDir:          c.String("cache-dir"),
		NoCache:           c.Bool("no-cache"),
		Refresh:           c.Bool("force-rebuild"),
		MaxCacheSizeGB:    c.Int("max-cache-size"),
		AppendHash:        c.Bool("append-hash"),
		WriteLinkXML:      c.Bool("link-xml"),
		ContiguousBundles: c.Bool("contiguous-bundles"),
		ClusterContentIDs: c.Bool("cluster-content-ids"),
		SlimWriteResults:  c.Bool("slim-write-results"),
		ThreadedArchiving: !c.Bool("no-threaded-archiving"),
		Timeout:           max(c.Duration("timeout"), helpers.FetchDefaultTimeout),
	}
	cfg.Verbose = c.Bool("verbose")
	cfg.Quiet = !cfg.Verbose && c.Bool("quiet")

	preset, err := tasks.ParsePreset(c.String("preset"))
	if err != nil {
		return nil, err
	}
	cfg.Preset = preset
	compression, err := archive.ParseCompression(c.String("compression"))
	if err != nil {
		return nil, err
	}
	cfg.Compression = compression
	return cfg, nil
}

func loadSettingsFromCLI(c *cli.Context, projectDir string) (settingsFile, string, error) {
	path := c.String("settings")
	if path == "" {
		return settingsFile{}, "", nil
	}
	if !filepath.IsAbs(path) && projectDir != "" {
		path = filepath.Join(projectDir, path)
	}
	settings, settingsPath, err := loadSettings(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return settings, "", fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, settingsPath, nil
}

// resolvePaths makes project relative paths absolute to ProjectDir.
func (c *Config) resolvePaths() {
	if c.ProjectDir == "" {
		return
	}
	for _, p := range []*string{&c.ManifestFile, &c.OutputFolder, &c.CacheDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.ProjectDir, *p)
		}
	}
	if c.CacheServer.Dir != "" && !filepath.IsAbs(c.CacheServer.Dir) {
		c.CacheServer.Dir = filepath.Join(c.ProjectDir, c.CacheServer.Dir)
	}
}

// Parameters returns the build parameters described by c.
func (c *Config) Parameters() *build.Parameters {
	params := build.NewParameters(c.Target, c.Group, c.OutputFolder)
	params.Settings.EngineVersion = c.EngineVersion
	params.TempOutputFolder = filepath.Join(c.ProjectDir, helpers.DefaultTempBuildPath)
	params.ScriptOutputFolder = filepath.Join(c.ProjectDir, helpers.DefaultScriptBuildPath)
	if c.CacheDir != "" {
		params.CacheFolder = c.CacheDir
	} else {
		params.CacheFolder = filepath.Join(c.ProjectDir, helpers.DefaultCachePath)
	}
	params.UseCache = !c.NoCache
	params.ForceRebuild = c.Refresh
	params.CacheServerHost = c.CacheServer.Host
	params.CacheServerPort = c.CacheServer.Port
	params.MaxCacheSizeGB = c.MaxCacheSizeGB
	params.BundleCompression = c.Compression
	params.PerBundleCompression = c.PerBundleCompression
	params.AppendHash = c.AppendHash
	params.WriteLinkXML = c.WriteLinkXML
	params.ContiguousBundles = c.ContiguousBundles
	params.ClusterContentIDs = c.ClusterContentIDs
	params.SlimWriteResults = c.SlimWriteResults
	params.ThreadedArchiving = c.ThreadedArchiving
	return params
}
