package s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/cache"
)

const (
	metaSHA256      = "sha256"
	metaPrefix      = "x-amz-meta-"
	packContentType = "application/gzip"
)

// Artifacts implements cache.ArtifactStore with one S3 object per pack.
type Artifacts struct {
	client  *Client
	prefix  string
	tmpBase string
}

// Has reports whether the pack exists in the bucket.
func (s *Artifacts) Has(ctx context.Context, key string) (bool, error) {
	if s.client == nil {
		return false, errS3ClientNil
	}
	_, err := s.client.headObject(ctx, s.objectKey(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errS3NotFound):
		return false, nil
	default:
		return false, err
	}
}

// Fetch downloads a pack into a local temporary file and checks its sha256.
// A missing pack is reported as os.ErrNotExist.
func (s *Artifacts) Fetch(ctx context.Context, key string) (cache.ArtifactFile, error) {
	if s.client == nil {
		return cache.ArtifactFile{}, errS3ClientNil
	}
	resp, err := s.client.getObject(ctx, s.objectKey(key))
	if errors.Is(err, errS3NotFound) {
		return cache.ArtifactFile{}, fmt.Errorf("%w: %s", os.ErrNotExist, key)
	}
	if err != nil {
		return cache.ArtifactFile{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	file, cleanup, err := s.TempFile(ctx, "fetch-")
	if err != nil {
		return cache.ArtifactFile{}, err
	}
	hasher := sha256.New()
	_, err = io.Copy(io.MultiWriter(file, hasher), resp.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	meta := metaFromHeaders(resp.Header)
	if err == nil {
		err = verifySHA256(meta[metaSHA256], hasher.Sum(nil))
	}
	if err != nil {
		cleanup()
		return cache.ArtifactFile{}, err
	}
	return cache.ArtifactFile{Path: file.Name(), Cleanup: cleanup, Meta: meta}, nil
}

// TempFile creates a local staging file for a pack.
func (s *Artifacts) TempFile(_ context.Context, prefix string) (*os.File, func(), error) {
	base := strings.TrimSpace(s.tmpBase)
	if base == "" {
		base = os.TempDir()
	}
	file, err := os.CreateTemp(base, prefix)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = os.Remove(file.Name()) }, nil
}

// Commit uploads a staged pack. The sha256 is recorded in the object metadata.
func (s *Artifacts) Commit(ctx context.Context, key, tmpPath string, meta map[string]string) (cache.ArtifactFile, error) {
	if s.client == nil {
		return cache.ArtifactFile{}, errS3ClientNil
	}
	//nolint:gosec // tmpPath is created by TempFile.
	file, err := os.Open(tmpPath)
	if err != nil {
		return cache.ArtifactFile{}, err
	}
	defer func() {
		_ = file.Close()
	}()
	info, err := file.Stat()
	if err != nil {
		return cache.ArtifactFile{}, err
	}

	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	sum := strings.TrimSpace(out[metaSHA256])
	if sum == "" {
		if sum, err = hashSeeker(file); err != nil {
			return cache.ArtifactFile{}, err
		}
		out[metaSHA256] = sum
	}
	if err := s.client.putObject(ctx, s.objectKey(key), file, info.Size(), packContentType, "", out, false, sum); err != nil {
		return cache.ArtifactFile{}, err
	}
	return cache.ArtifactFile{
		Path:    tmpPath,
		Cleanup: func() { _ = os.Remove(tmpPath) },
		Meta:    out,
	}, nil
}

// Delete removes a pack from the bucket.
func (s *Artifacts) Delete(ctx context.Context, key string) error {
	if s.client == nil {
		return errS3ClientNil
	}
	return s.client.deleteObject(ctx, s.objectKey(key))
}

func (s *Artifacts) objectKey(key string) string {
	return path.Join(s.prefix, strings.TrimLeft(key, "/"))
}

func verifySHA256(expected string, sum []byte) error {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return nil
	}
	if actual := hex.EncodeToString(sum); !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: %s != %s", errArtifactSHA256Mismatch, actual, expected)
	}
	return nil
}

// metaFromHeaders collects x-amz-meta-* headers with lower-cased names.
func metaFromHeaders(headers map[string][]string) map[string]string {
	meta := make(map[string]string)
	for name, values := range headers {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, metaPrefix) || len(values) == 0 {
			continue
		}
		meta[strings.TrimPrefix(lower, metaPrefix)] = strings.TrimSpace(values[0])
	}
	return meta
}
