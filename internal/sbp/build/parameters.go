package build

import (
	"path/filepath"

	"github.com/greeddj/go-sbp/internal/sbp/archive"
	"github.com/greeddj/go-sbp/internal/sbp/content"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

// Parameters configure one build invocation.
type Parameters struct {
	Settings content.BuildSettings

	// OutputFolder receives the bundles, link.xml and the build log.
	OutputFolder string
	// TempOutputFolder holds intermediate files and is removed after the build.
	TempOutputFolder string
	// ScriptOutputFolder holds compiled script data.
	ScriptOutputFolder string

	// CacheFolder is the local build cache root.
	CacheFolder string
	UseCache    bool
	// ForceRebuild ignores cached results but still stores new ones.
	ForceRebuild    bool
	CacheServerHost string
	CacheServerPort int
	// MaxCacheSizeGB bounds the local cache after the build. Zero disables pruning.
	MaxCacheSizeGB int

	BundleCompression archive.Compression
	// PerBundleCompression overrides BundleCompression by bundle name.
	PerBundleCompression map[string]archive.Compression

	AppendHash        bool
	WriteLinkXML      bool
	ContiguousBundles bool
	ThreadedArchiving bool
	// SlimWriteResults keeps only the first object of every serialized file in memory.
	SlimWriteResults bool
	// ClusterContentIDs names clusters after their objects instead of their referencing assets.
	ClusterContentIDs bool
}

// NewParameters returns the default parameters for a build writing into outputFolder.
func NewParameters(target, group, outputFolder string) *Parameters {
	return &Parameters{
		Settings:           content.BuildSettings{Target: target, Group: group},
		OutputFolder:       outputFolder,
		TempOutputFolder:   helpers.DefaultTempBuildPath,
		ScriptOutputFolder: helpers.DefaultScriptBuildPath,
		CacheFolder:        helpers.DefaultCachePath,
		UseCache:           true,
		BundleCompression:  archive.LZ4,
		ThreadedArchiving:  true,
		MaxCacheSizeGB:     helpers.DefaultMaxCacheSizeGB,
	}
}

// GetContentBuildSettings returns the settings every serialized file depends on.
func (p *Parameters) GetContentBuildSettings() content.BuildSettings {
	return p.Settings
}

// GetCompressionForIdentifier returns the compression of the named bundle.
func (p *Parameters) GetCompressionForIdentifier(identifier string) archive.Compression {
	if c, ok := p.PerBundleCompression[identifier]; ok {
		return c
	}
	return p.BundleCompression
}

// GetOutputFilePathForIdentifier returns where the named output is written.
func (p *Parameters) GetOutputFilePathForIdentifier(identifier string) string {
	return filepath.Join(p.OutputFolder, filepath.FromSlash(identifier))
}

// IsNoCache implements cache.PolicyOptions.
func (p *Parameters) IsNoCache() bool {
	return !p.UseCache
}

// IsRefresh implements cache.PolicyOptions.
func (p *Parameters) IsRefresh() bool {
	return p.ForceRebuild
}

// MaxCacheSizeBytes returns the cache size limit in bytes.
func (p *Parameters) MaxCacheSizeBytes() int64 {
	return int64(p.MaxCacheSizeGB) * helpers.BytesPerGigabyte
}
