// Package objectstore adapts the blob-store backends (GCS for production,
// local filesystem for dev/test) to the media stage's ObjectStore
// interface: Put/Exists/URI keyed by deterministic content paths.
// Grounded on internal/storage/gcs/blob_store.go and
// internal/storage/local/blob_store.go, generalized with the Exists/URI
// methods the media stage's idempotent re-drive needs and that the
// original local backend lacked.
package objectstore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"

	"github.com/ingestlane/pipeline/internal/storage/gcs"
	"github.com/ingestlane/pipeline/internal/storage/local"
)

// GCS wraps gcs.BlobStore behind the Put/Exists/URI shape the media and
// enrichment stages expect.
type GCS struct {
	blob *gcs.BlobStore
}

// NewGCS opens a GCS-backed object store for bucket.
func NewGCS(client *storage.Client, bucket string) (*GCS, error) {
	blob, err := gcs.New(client, gcs.Config{Bucket: bucket})
	if err != nil {
		return nil, err
	}
	return &GCS{blob: blob}, nil
}

// Put uploads r's content to key and returns its public gs:// URI.
func (g *GCS) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	return g.blob.PutObject(ctx, key, contentType, r)
}

// Exists reports whether key is already present in the bucket.
func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	return g.blob.Exists(ctx, key)
}

// URI returns key's gs:// URI without touching the network.
func (g *GCS) URI(key string) string {
	return g.blob.URI(key)
}

// Local wraps local.BlobStore for dev/test deployments, adding the
// filesystem-stat-backed Exists/URI the teacher's version never needed
// (a single-shot CLI tool never re-ran against its own output).
type Local struct {
	blob    *local.BlobStore
	baseDir string
}

// NewLocal opens a local-filesystem-backed object store rooted at baseDir.
func NewLocal(baseDir string) (*Local, error) {
	blob, err := local.New(local.Config{BaseDir: baseDir})
	if err != nil {
		return nil, err
	}
	return &Local{blob: blob, baseDir: baseDir}, nil
}

// Put writes r's content to key under the base directory and returns its
// file:// URI.
func (l *Local) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	return l.blob.PutObject(ctx, key, contentType, r)
}

// Exists reports whether key has already been written.
func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	return local.Exists(l.baseDir, key)
}

// URI returns key's file:// URI without touching the filesystem.
func (l *Local) URI(key string) string {
	return local.URI(l.baseDir, key)
}
