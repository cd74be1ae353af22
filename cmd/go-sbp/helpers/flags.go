package helpers

import (
	sbp "github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/urfave/cli/v2"
)

// CommonFlags defines shared CLI flags for all commands.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "Verbose output",
			EnvVars: []string{"GO_SBP_VERBOSE"},
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Quiet mode, not working with verbose",
			EnvVars: []string{"GO_SBP_QUIET"},
		},
		&cli.StringFlag{
			Name:    "project-dir",
			Aliases: []string{"C"},
			Usage:   "Project directory, relative paths are resolved against it",
			Value:   defaultProjectDir(),
			EnvVars: []string{"GO_SBP_PROJECT_DIR"},
		},
		&cli.StringFlag{
			Name:    "settings",
			Usage:   "Path to the project settings file",
			Value:   sbp.SettingsFile,
			EnvVars: []string{"GO_SBP_SETTINGS"},
		},
		&cli.StringFlag{
			Name:    "cache-dir",
			Usage:   "Local build cache directory",
			EnvVars: []string{"GO_SBP_CACHE_DIR"},
		},
		&cli.IntFlag{
			Name:    "max-cache-size",
			Usage:   "Build cache size limit in GB, 0 disables pruning",
			Value:   sbp.DefaultMaxCacheSizeGB,
			EnvVars: []string{"GO_SBP_MAX_CACHE_SIZE"},
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "Cache server timeout duration",
			Value:   defaultTimeout,
			EnvVars: []string{"GO_SBP_CACHE_SERVER_TIMEOUT"},
		},
	}
}

// BuildFlags defines CLI flags for the bundle build.
func BuildFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "manifest",
			Aliases: []string{"m"},
			Usage:   "Path to the project manifest",
			Value:   sbp.ManifestFile,
			EnvVars: []string{"GO_SBP_MANIFEST"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Folder the bundles are written to",
			Value:   defaultOutputPath,
			EnvVars: []string{"GO_SBP_OUTPUT"},
		},
		&cli.StringFlag{
			Name:    "target",
			Aliases: []string{"t"},
			Usage:   "Build target",
			Value:   defaultTarget,
			EnvVars: []string{"GO_SBP_TARGET"},
		},
		&cli.StringFlag{
			Name:    "group",
			Usage:   "Build target group",
			Value:   defaultGroup,
			EnvVars: []string{"GO_SBP_GROUP"},
		},
		&cli.StringFlag{
			Name:    "engine-version",
			Usage:   "Engine version objects are gated on",
			EnvVars: []string{"GO_SBP_ENGINE_VERSION"},
		},
		&cli.StringFlag{
			Name:    "preset",
			Usage:   "Task preset: assetbundle or contentfile",
			Value:   defaultPreset,
			EnvVars: []string{"GO_SBP_PRESET"},
		},
		&cli.StringFlag{
			Name:    "builtin-bundle",
			Usage:   "Pack builtin extra objects into a bundle of this name",
			EnvVars: []string{"GO_SBP_BUILTIN_BUNDLE"},
		},
		&cli.StringFlag{
			Name:    "compression",
			Usage:   "Bundle compression: none, lz4, lz4hc, gzip, zstd or lzma",
			Value:   defaultCompression,
			EnvVars: []string{"GO_SBP_COMPRESSION"},
		},
		&cli.BoolFlag{
			Name:    "no-cache",
			Usage:   "Disable the build cache",
			EnvVars: []string{"GO_SBP_NO_CACHE"},
		},
		&cli.BoolFlag{
			Name:    "force-rebuild",
			Aliases: []string{"f"},
			Usage:   "Ignore cached results, still write new ones",
			EnvVars: []string{"GO_SBP_FORCE_REBUILD"},
		},
		&cli.BoolFlag{
			Name:    "append-hash",
			Usage:   "Append the bundle hash to bundle file names",
			EnvVars: []string{"GO_SBP_APPEND_HASH"},
		},
		&cli.BoolFlag{
			Name:    "link-xml",
			Usage:   "Write link.xml for the types used by the bundles",
			EnvVars: []string{"GO_SBP_LINK_XML"},
		},
		&cli.BoolFlag{
			Name:    "contiguous-bundles",
			Usage:   "Keep the objects of one asset together in bundle files",
			EnvVars: []string{"GO_SBP_CONTIGUOUS_BUNDLES"},
		},
		&cli.BoolFlag{
			Name:    "cluster-content-ids",
			Usage:   "Derive content file names from their clusters",
			EnvVars: []string{"GO_SBP_CLUSTER_CONTENT_IDS"},
		},
		&cli.BoolFlag{
			Name:    "slim-write-results",
			Usage:   "Keep only the data later tasks need from the write results",
			EnvVars: []string{"GO_SBP_SLIM_WRITE_RESULTS"},
		},
		&cli.BoolFlag{
			Name:    "no-threaded-archiving",
			Usage:   "Archive bundles one at a time",
			EnvVars: []string{"GO_SBP_NO_THREADED_ARCHIVING"},
		},
	}
}

// CacheServerFlags defines CLI flags for the shared cache server.
func CacheServerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "cache-server",
			Usage:   "Cache server kind: s3 or dir, inferred from bucket or dir when empty",
			EnvVars: []string{"GO_SBP_CACHE_SERVER"},
		},
		&cli.StringFlag{
			Name:    "cache-server-host",
			Usage:   "Cache server host or endpoint URL",
			EnvVars: []string{"GO_SBP_CACHE_SERVER_HOST"},
		},
		&cli.IntFlag{
			Name:    "cache-server-port",
			Usage:   "Cache server port",
			EnvVars: []string{"GO_SBP_CACHE_SERVER_PORT"},
		},
		&cli.StringFlag{
			Name:    "cache-server-dir",
			Usage:   "Shared directory used as cache server",
			EnvVars: []string{"GO_SBP_CACHE_SERVER_DIR"},
		},
		&cli.StringFlag{
			Name:    "cache-server-bucket",
			Usage:   "S3 bucket name, if defined enables the S3 cache server",
			EnvVars: []string{"GO_SBP_CACHE_SERVER_BUCKET"},
		},
		&cli.StringFlag{
			Name:    "cache-server-region",
			Usage:   "S3 region",
			EnvVars: []string{"GO_SBP_CACHE_SERVER_REGION"},
		},
		&cli.StringFlag{
			Name:    "cache-server-prefix",
			Usage:   "S3 key prefix",
			EnvVars: []string{"GO_SBP_CACHE_SERVER_PREFIX"},
		},
		&cli.StringFlag{
			Name:    "cache-server-access-key",
			Usage:   "S3 access key",
			EnvVars: []string{"GO_SBP_CACHE_SERVER_ACCESS_KEY", "AWS_ACCESS_KEY_ID"},
		},
		&cli.StringFlag{
			Name:    "cache-server-secret-key",
			Usage:   "S3 secret key",
			EnvVars: []string{"GO_SBP_CACHE_SERVER_SECRET_KEY", "AWS_SECRET_ACCESS_KEY"},
		},
		&cli.StringFlag{
			Name:    "cache-server-session-token",
			Usage:   "S3 session token",
			EnvVars: []string{"GO_SBP_CACHE_SERVER_SESSION_TOKEN", "AWS_SESSION_TOKEN"},
		},
		&cli.BoolFlag{
			Name:    "cache-server-path-style-disabled",
			Usage:   "Use virtual-hosted style S3 addressing",
			EnvVars: []string{"GO_SBP_CACHE_SERVER_PATH_STYLE_DISABLED"},
		},
	}
}
