// Package blob implements interfaces.BlobStore on the local filesystem.
// No example in this codebase's lineage wires an object-storage SDK
// (minio/S3/GCS); the filesystem is the only storage backend the pack
// actually demonstrates for arbitrary byte blobs, so that is what this
// gateway is built on (see DESIGN.md).
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

// FilesystemStore roots every bucket under a single directory:
// {root}/{bucket}/{key}. Buckets are created lazily on first write.
type FilesystemStore struct {
	root   string
	logger arbor.ILogger
}

var _ interfaces.BlobStore = (*FilesystemStore)(nil)

func NewFilesystemStore(root string, logger arbor.ILogger) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %w", root, err)
	}
	return &FilesystemStore{root: root, logger: logger}, nil
}

// resolve maps a (bucket, key) pair to a filesystem path, rejecting any key
// that would escape the bucket directory via "..".
func (s *FilesystemStore) resolve(bucket, key string) (string, error) {
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key %q: must not contain \"..\"", key)
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(key)), nil
}

func (s *FilesystemStore) Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) error {
	path, err := s.resolve(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory for %s/%s: %w", bucket, key, err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create blob %s/%s: %w", bucket, key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write blob %s/%s: %w", bucket, key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize blob %s/%s: %w", bucket, key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit blob %s/%s: %w", bucket, key, err)
	}
	s.logger.Debug().Str("bucket", bucket).Str("key", key).Str("content_type", contentType).Msg("blob stored")
	return nil
}

func (s *FilesystemStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	path, err := s.resolve(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s/%s: %w", bucket, key, err)
	}
	return f, nil
}

func (s *FilesystemStore) Delete(ctx context.Context, bucket, key string) error {
	path, err := s.resolve(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *FilesystemStore) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	dir, err := s.resolve(bucket, prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete blob prefix %s/%s: %w", bucket, prefix, err)
	}
	return nil
}

func (s *FilesystemStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	path, err := s.resolve(bucket, key)
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

// PublicURL returns a local-only reference; this gateway has no HTTP
// front door, so the result is informational (used in admin output) rather
// than a fetchable URL.
func (s *FilesystemStore) PublicURL(bucket, key, requestHost string) string {
	return fmt.Sprintf("file://%s/%s/%s", s.root, bucket, key)
}
