package helpers

import "time"

const (
	// DirMod is the default permission for created directories.
	DirMod = 0o755
	// FileMod is the default permission for created files.
	FileMod = 0o644

	// BytesPerGigabyte converts the configured cache size to bytes.
	BytesPerGigabyte = int64(1 << 30)
	// DefaultMaxCacheSizeGB is the default build cache size limit in gigabytes.
	DefaultMaxCacheSizeGB = 20

	// DefaultTempBuildPath is the default temporary folder for content data.
	DefaultTempBuildPath = "Temp/ContentBuildData"
	// DefaultScriptBuildPath is the default folder for compiled script data.
	DefaultScriptBuildPath = "Library/PlayerScriptAssemblies"
	// DefaultCachePath is the default build cache root relative to the project.
	DefaultCachePath = "Library/BuildCache"

	// BuildLogFile is the trace event profiler log written next to the bundles.
	BuildLogFile = "buildlogtep.json"
	// LinkXMLFile is the linker preservation file written next to the bundles.
	LinkXMLFile = "link.xml"
	// ResultsFile is the bundle results manifest written by the CLI.
	ResultsFile = "bundles.json"
	// ManifestFile is the default project manifest.
	ManifestFile = "assets.yml"
	// SettingsFile is the optional project settings file.
	SettingsFile = "sbp.toml"

	// BuiltInResourcesGUID identifies objects that live in the engine's builtin resources.
	BuiltInResourcesGUID = "0000000000000000e000000000000000"
	// BuiltInExtraGUID identifies objects that live in the engine's builtin extra resources.
	BuiltInExtraGUID = "0000000000000000f000000000000000"
	// DefaultResourcePath is the file path of the engine's default resources.
	DefaultResourcePath = "library/unity default resources"

	// ArchiveMaxEntrySize caps a single archive entry size during extraction.
	ArchiveMaxEntrySize = int64(512 << 20) // 512 MiB per file
	// ArchiveMaxTotalSize caps total extracted bytes per archive.
	ArchiveMaxTotalSize = int64(4 << 30) // 4 GiB per archive

	// FetchDefaultTimeout is the overall HTTP client timeout.
	FetchDefaultTimeout = 30 * time.Second
	// FetchDialContextTimeout is the dial timeout for outbound connections.
	FetchDialContextTimeout = 5 * time.Second
	// FetchDialContextKeepAlive is the TCP keep-alive for dials.
	FetchDialContextKeepAlive = 30 * time.Second
	// FetchForceAttemptHTTP2 enables HTTP/2 attempts when possible.
	FetchForceAttemptHTTP2 = true
	// FetchMaxIdleConns is the maximum number of idle connections.
	FetchMaxIdleConns = 64
	// FetchMaxIdleConnsPerHost limits idle connections per host.
	FetchMaxIdleConnsPerHost = 16
	// FetchIdleConnTimeout is the idle connection timeout.
	FetchIdleConnTimeout = 30 * time.Second
	// FetchTLSHandshakeTimeout is the TLS handshake timeout.
	FetchTLSHandshakeTimeout = 3 * time.Second
	// FetchExpectContinueTimeout is the expect-continue timeout.
	FetchExpectContinueTimeout = 1 * time.Second

	// StoreIndexSchemaVersion is the current access index schema version.
	StoreIndexSchemaVersion = 1
	// StoreDBLock is the cache lock file name.
	StoreDBLock = ".go-sbp.lock"
	// StoreDBIndex is the access index filename.
	StoreDBIndex = "access.db"
	// StoreBucketMeta is the bucket name for index metadata.
	StoreBucketMeta = "meta"
	// StoreBucketAccess is the bucket name for artifact directory access records.
	StoreBucketAccess = "access"
	// StoreMetaSchemaVersion is the metadata key for the index schema version.
	StoreMetaSchemaVersion = "schema_version"
	// StoreMetaLastPrune is the metadata key for the last prune time.
	StoreMetaLastPrune = "last_prune"

	// CacheInfoExtension is the file extension of serialized cache records.
	CacheInfoExtension = ".info"
	// CacheInfoFormat is the on-disk format version of cache records.
	CacheInfoFormat = 1
	// CachePendingQueue is the capacity of the deferred save queue.
	CachePendingQueue = 256
	// CachePruneInterval is the minimum time between two background prunes of one cache root.
	CachePruneInterval = time.Minute
)
