package cache

import (
	"context"
	"os"
)

// ArtifactFile describes a remote artifact staged on local disk.
type ArtifactFile struct {
	Path    string
	Cleanup func()
	Meta    map[string]string
}

// ArtifactStore provides access to packed artifacts directories on a cache server.
type ArtifactStore interface {
	Has(ctx context.Context, key string) (bool, error)
	Fetch(ctx context.Context, key string) (ArtifactFile, error)
	TempFile(ctx context.Context, prefix string) (*os.File, func(), error)
	Commit(ctx context.Context, key, tmpPath string, meta map[string]string) (ArtifactFile, error)
	Delete(ctx context.Context, key string) error
}

// Remote is a cache server shared between machines.
type Remote interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Lock(ctx context.Context) (func() error, error)
	ClearFiles(ctx context.Context) error
	Artifacts() ArtifactStore
}
