package helpers

import "errors"

var (
	// ErrArchivePathContainsSymlinkComponent indicates an archive path traverses a symlink.
	ErrArchivePathContainsSymlinkComponent = errors.New("archive path contains symlink component")
	// ErrArchiveExceedsMaxSize indicates an archive exceeds the maximum total size.
	ErrArchiveExceedsMaxSize = errors.New("archive exceeds maximum total size")
	// ErrArchiveEntryHasNegativeSize indicates an archive entry has a negative size.
	ErrArchiveEntryHasNegativeSize = errors.New("archive entry has negative size")
	// ErrArchiveEntryIsTooLarge indicates an archive entry is too large.
	ErrArchiveEntryIsTooLarge = errors.New("archive entry is too large")
	// ErrArchiveEntryEscapesDestination indicates an archive entry escapes the destination.
	ErrArchiveEntryEscapesDestination = errors.New("archive entry escapes destination")
	// ErrArchiveEntryIsAbsolutePath indicates an archive entry uses an absolute path.
	ErrArchiveEntryIsAbsolutePath = errors.New("archive entry is absolute path")
	// ErrArchiveEntryHasEmptyName indicates an archive entry has an empty name.
	ErrArchiveEntryHasEmptyName = errors.New("archive entry has empty name")
	// ErrFileIsEmpty indicates a file is empty.
	ErrFileIsEmpty = errors.New("file is empty")
	// ErrUnknownCompression indicates an unsupported bundle compression mode.
	ErrUnknownCompression = errors.New("unknown compression mode")
	// ErrBundleHasNoFiles indicates a bundle archive was requested without resource files.
	ErrBundleHasNoFiles = errors.New("bundle has no resource files")
	// ErrBundleArchiveCorrupt indicates a bundle archive could not be parsed.
	ErrBundleArchiveCorrupt = errors.New("bundle archive is corrupt")

	// ErrCacheDirEmpty indicates the cache directory is missing.
	ErrCacheDirEmpty = errors.New("cache directory is empty")
	// ErrAnotherInstanceIsRunning indicates another process holds the cache lock.
	ErrAnotherInstanceIsRunning = errors.New("another instance is running")
	// ErrCacheInfoFormat indicates a cache record was written by an incompatible format.
	ErrCacheInfoFormat = errors.New("cache record format mismatch")
	// ErrPayloadMismatch indicates a cached payload has an unexpected tag or version.
	ErrPayloadMismatch = errors.New("cached payload tag or version mismatch")
	// ErrCacheServerEmptyCreds indicates S3 cache server credentials are required but missing.
	ErrCacheServerEmptyCreds = errors.New("s3 cache server requires access/secret keys when GO_SBP_CACHE_SERVER_BUCKET is set")
	// ErrCacheServerKind indicates an unsupported cache server kind.
	ErrCacheServerKind = errors.New("unsupported cache server kind")

	// ErrContextObjectExists indicates a context object was registered twice for one type.
	ErrContextObjectExists = errors.New("context object already registered")
	// ErrContextObjectMissing indicates a required context object is not registered.
	ErrContextObjectMissing = errors.New("context object is not registered")
	// ErrContextObjectNil indicates a nil context object was registered.
	ErrContextObjectNil = errors.New("context object is nil")

	// ErrParametersNil indicates the build was started without parameters.
	ErrParametersNil = errors.New("build parameters are nil")
	// ErrContentNil indicates the build was started without content.
	ErrContentNil = errors.New("build content is nil")
	// ErrTaskListEmpty indicates the build was started without tasks.
	ErrTaskListEmpty = errors.New("task list cannot be empty")
	// ErrDuplicateAddress indicates two assets share one address.
	ErrDuplicateAddress = errors.New("duplicate address found in addresses, each address must be unique")
	// ErrTaskFailed indicates a task returned a failing return code.
	ErrTaskFailed = errors.New("build task failed")

	// ErrUnknownAsset indicates an asset GUID is not part of the project.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrUnknownObject indicates an object is not part of the project.
	ErrUnknownObject = errors.New("unknown object")
	// ErrUnknownFile indicates an internal file is not mapped to a bundle.
	ErrUnknownFile = errors.New("internal file is not mapped to a bundle")
	// ErrResourcePathInvalid indicates a cached resource file lies outside its artifacts directory.
	ErrResourcePathInvalid = errors.New("resource file is outside the artifacts directory")
	// ErrInvalidGUID indicates a malformed GUID string.
	ErrInvalidGUID = errors.New("invalid guid")
	// ErrInvalidHash indicates a malformed hash string.
	ErrInvalidHash = errors.New("invalid hash")
	// ErrManifestInvalid indicates the project manifest is malformed.
	ErrManifestInvalid = errors.New("project manifest is invalid")
	// ErrEngineVersionUnsupported indicates a feature is not available for the target engine version.
	ErrEngineVersionUnsupported = errors.New("engine version does not support this feature")
	// ErrFirstObjectMissing indicates a serialized resource file has no object written into it.
	ErrFirstObjectMissing = errors.New("serialized resource file has no serialized objects")

	// ErrBuildFailed indicates the build finished with a failing return code.
	ErrBuildFailed = errors.New("build failed")
)
