// Package local implements a cache server on a shared directory, such as a network mount.
package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/store"
)

// Backend provides a directory-backed cache server.
type Backend struct {
	dir       string
	artifacts *Artifacts
}

// New creates a Backend rooted at dir.
func New(dir string) *Backend {
	dir = strings.TrimSpace(dir)
	return &Backend{
		dir:       dir,
		artifacts: NewArtifacts(filepath.Join(dir, artifactsDir), filepath.Join(dir, stagingDir)),
	}
}

// Open creates the server directories.
func (b *Backend) Open(_ context.Context) error {
	if b.dir == "" {
		return errServerDirEmpty
	}
	for _, dir := range []string{b.artifacts.dir, b.artifacts.staging} {
		if err := os.MkdirAll(dir, helpers.DirMod); err != nil {
			return err
		}
	}
	return nil
}

// Close releases any open resources.
func (b *Backend) Close(_ context.Context) error {
	return nil
}

// Lock obtains an exclusive lock for the server directory.
func (b *Backend) Lock(_ context.Context) (func() error, error) {
	if b.dir == "" {
		return nil, errServerDirEmpty
	}
	return store.AcquireLock(b.dir)
}

// ClearFiles removes every packed artifact directory from the server.
func (b *Backend) ClearFiles(ctx context.Context) error {
	if b.dir == "" {
		return errServerDirEmpty
	}
	if err := os.RemoveAll(b.artifacts.dir); err != nil {
		return err
	}
	return b.Open(ctx)
}

// Artifacts returns the artifact store for the backend.
func (b *Backend) Artifacts() cache.ArtifactStore {
	return b.artifacts
}
