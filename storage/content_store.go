package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// defaultOutputDir is the base directory for locally stored artifacts when
// no remote store is configured.
const defaultOutputDir = "_output"

// ContentStore is the boundary to durable object storage. Both the remote
// (Supabase Storage) and local filesystem implementations satisfy it.
type ContentStore interface {
	// Put stores data under bucket/folder/name and returns a stable
	// reference usable later by Get: a public URL for remote stores, an
	// absolute filesystem path for the local store.
	Put(ctx context.Context, bucket, folder, name string, data []byte, contentType string) (string, error)

	// Get resolves a reference produced by Put, or any externally supplied
	// template reference (local path or URL), and returns its bytes.
	// Remote fetches that return a non-success status fail with a
	// *FetchError rather than silently returning empty bytes.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete removes a previously stored object. Best effort; callers log
	// failures instead of propagating them.
	Delete(ctx context.Context, bucket, key string) error
}

// LocalFileStore implements ContentStore on the local filesystem. It is the
// fallback used when remote storage is unconfigured.
type LocalFileStore struct {
	basePath string
}

// NewLocalFileStore creates a LocalFileStore rooted at basePath.
// If basePath is empty, it defaults to defaultOutputDir.
func NewLocalFileStore(basePath string) *LocalFileStore {
	if basePath == "" {
		basePath = defaultOutputDir
	}
	return &LocalFileStore{basePath: basePath}
}

func (s *LocalFileStore) Put(ctx context.Context, bucket, folder, name string, data []byte, contentType string) (string, error) {
	if bucket == "" || name == "" {
		return "", fmt.Errorf("bucket and name cannot be empty for storing content")
	}

	dir := filepath.Join(s.basePath, bucket, folder)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}

	fullPath := filepath.Join(dir, name)
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write content to %s: %w", fullPath, err)
	}

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		absPath = fullPath
	}

	log.Printf("INFO (LocalFileStore): Stored %d bytes at %s (%s)", len(data), absPath, contentType)
	return absPath, nil
}

func (s *LocalFileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	r := ClassifyRef(ref)
	if r.IsRemote() {
		// Externally supplied references may still point at remote objects
		// (e.g. a template uploaded before the store was reconfigured).
		return fetchURL(ctx, r.String())
	}

	data, err := os.ReadFile(r.String())
	if err != nil {
		return nil, fmt.Errorf("failed to read local content %s: %w", r.String(), err)
	}
	return data, nil
}

func (s *LocalFileStore) Delete(ctx context.Context, bucket, key string) error {
	path := filepath.Join(s.basePath, bucket, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete local content %s: %w", path, err)
	}
	return nil
}

// Materialize ensures ref is readable as a local file path, downloading
// remote references into a temporary file under dir (or the system temp
// directory when dir is empty). The returned cleanup must be called on every
// exit path of the operation that created the materialization; it removes
// the temporary copy and logs, never propagates, deletion failures. Local
// references are returned as-is with a no-op cleanup.
func Materialize(ctx context.Context, store ContentStore, ref, dir, pattern string) (string, func(), error) {
	r := ClassifyRef(ref)
	if !r.IsRemote() {
		if _, err := os.Stat(r.String()); err != nil {
			return "", func() {}, fmt.Errorf("local reference %s is unreadable: %w", r.String(), err)
		}
		return r.String(), func() {}, nil
	}

	data, err := store.Get(ctx, ref)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to download %s: %w", ref, err)
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temporary file for %s: %w", ref, err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", func() {}, fmt.Errorf("failed to write temporary copy of %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", func() {}, fmt.Errorf("failed to close temporary copy of %s: %w", ref, err)
	}

	path := tmp.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("WARN (Storage): Failed to remove temporary file %s: %v", path, err)
		}
	}
	return path, cleanup, nil
}

// timestampedName builds object names the way uploads are keyed: a creation
// timestamp prefix keeps re-uploads from colliding while staying sortable.
func timestampedName(base string) string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), base)
}
