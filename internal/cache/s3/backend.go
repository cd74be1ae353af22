// Package s3 implements a cache server on an S3 compatible object store.
package s3

import (
	"context"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/cache"
	"github.com/greeddj/go-sbp/internal/sbp/config"
)

// Backend stores packed build cache artifacts in one bucket under an optional
// key prefix:
//
//	<prefix>/artifacts/<guid>/<hash>.tar.gz
//	<prefix>/locks/cache.lock
type Backend struct {
	cfg        config.CacheServerConfig
	httpClient *http.Client
	client     *Client
	root       string
	artifacts  *Artifacts
	tempDir    string
}

// New returns a Backend for cfg. Nothing is sent to the server before Open.
func New(cfg config.CacheServerConfig, httpClient *http.Client, tempDir string) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errS3BucketIsEmpty
	}
	if httpClient == nil {
		return nil, errS3HTTPClientNil
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Backend{
		cfg:        cfg,
		httpClient: httpClient,
		root:       strings.Trim(cfg.Prefix, "/"),
		tempDir:    tempDir,
	}, nil
}

// Open connects to the server and creates the bucket when it is missing.
// It is a no-op once it succeeded.
func (b *Backend) Open(ctx context.Context) error {
	if b.client != nil {
		return nil
	}
	client, err := newClient(b.cfg, b.httpClient)
	if err != nil {
		return err
	}
	if err := client.ensureBucket(ctx); err != nil {
		return err
	}
	b.client = client
	b.artifacts = &Artifacts{
		client:  client,
		prefix:  b.objectKey(artifactsPrefix),
		tmpBase: b.tempDir,
	}
	return nil
}

// Close implements cache.Remote.
func (b *Backend) Close(_ context.Context) error {
	return nil
}

// Lock takes the cache server lock shared by every build using the prefix.
func (b *Backend) Lock(ctx context.Context) (func() error, error) {
	if err := b.Open(ctx); err != nil {
		return nil, err
	}
	return b.lock(ctx, b.objectKey(locksPrefix, lockObject))
}

// ClearFiles deletes every packed artifact. The lock object is kept.
func (b *Backend) ClearFiles(ctx context.Context) error {
	if err := b.Open(ctx); err != nil {
		return err
	}
	keys, err := b.client.listObjects(ctx, b.objectKey(artifactsPrefix)+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.client.deleteObject(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Artifacts implements cache.Remote. Before Open succeeds its calls fail.
func (b *Backend) Artifacts() cache.ArtifactStore {
	if b.artifacts == nil {
		return &Artifacts{}
	}
	return b.artifacts
}

func (b *Backend) objectKey(parts ...string) string {
	if b.root != "" {
		parts = append([]string{b.root}, parts...)
	}
	return path.Join(parts...)
}
