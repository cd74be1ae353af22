package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

// Artifacts implements cache.ArtifactStore for packs stored as files.
type Artifacts struct {
	dir     string
	staging string
}

// NewArtifacts returns an artifact store keeping packs in dir and uploads in staging.
func NewArtifacts(dir, staging string) *Artifacts {
	return &Artifacts{dir: dir, staging: staging}
}

// Has reports whether the pack exists on the server.
func (s *Artifacts) Has(_ context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Fetch returns the stored pack. The file belongs to the server and must not be removed.
func (s *Artifacts) Fetch(_ context.Context, key string) (cache.ArtifactFile, error) {
	path, err := s.path(key)
	if err != nil {
		return cache.ArtifactFile{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return cache.ArtifactFile{}, err
	}
	return cache.ArtifactFile{Path: path}, nil
}

// TempFile creates a staging file on the server filesystem, so Commit is a rename.
func (s *Artifacts) TempFile(_ context.Context, prefix string) (*os.File, func(), error) {
	if strings.TrimSpace(s.staging) == "" {
		return nil, nil, errServerDirEmpty
	}
	if err := os.MkdirAll(s.staging, helpers.DirMod); err != nil {
		return nil, nil, err
	}
	file, err := os.CreateTemp(s.staging, prefix)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = os.Remove(file.Name())
	}
	return file, cleanup, nil
}

// Commit moves a staged pack into its final location.
func (s *Artifacts) Commit(_ context.Context, key, tmpPath string, meta map[string]string) (cache.ArtifactFile, error) {
	path, err := s.path(key)
	if err != nil {
		return cache.ArtifactFile{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), helpers.DirMod); err != nil {
		return cache.ArtifactFile{}, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return cache.ArtifactFile{}, err
	}
	return cache.ArtifactFile{Path: path, Meta: meta}, nil
}

// Delete removes a pack from the server.
func (s *Artifacts) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// path builds the pack path for a key such as <guid>/<hash>.tar.gz.
func (s *Artifacts) path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errArtifactKeyEmpty
	}
	if strings.TrimSpace(s.dir) == "" {
		return "", errServerDirEmpty
	}
	rel := filepath.Clean(filepath.FromSlash(strings.TrimLeft(key, "/")))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", errArtifactKeyInvalid
	}
	return filepath.Join(s.dir, rel), nil
}
