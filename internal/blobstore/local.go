package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"imgsvc/internal/models"
)

const (
	metaDirName = "meta"
	tmpDirName  = "tmp"
)

// LocalStore keeps objects as flat files under a root directory. The content
// type of each object is kept in a sidecar file of the same name under meta/.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates a local store rooted at root. Public URLs are built
// from publicBaseURL, which may be empty for server-relative paths.
func NewLocalStore(root, publicBaseURL string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local object root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{tmpDirName, metaDirName} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, err
		}
	}
	return &LocalStore{root: abs, baseURL: strings.TrimSpace(publicBaseURL)}, nil
}

// Root returns the absolute directory objects are stored under.
func (s *LocalStore) Root() string {
	return s.root
}

// Put streams r into key. An existing object under key is replaced.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (PutResult, error) {
	var zero PutResult
	if s == nil {
		return zero, fmt.Errorf("object store is not configured")
	}
	if r == nil {
		return zero, fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	dst, err := s.pathFromKey(key)
	if err != nil {
		return zero, err
	}
	meta := s.metaPath(key)

	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDirName), "put-*")
	if err != nil {
		return zero, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		cleanup()
		return zero, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return zero, err
	}

	if err := os.WriteFile(meta, []byte(contentType), 0o644); err != nil {
		cleanup()
		return zero, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		_ = os.Remove(meta)
		return zero, err
	}

	return PutResult{Key: key, SizeBytes: n}, nil
}

// Open returns a reader for key and its stored content type.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if s == nil {
		return nil, "", fmt.Errorf("object store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	path, err := s.pathFromKey(key)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrObjectNotFound
	}
	if err != nil {
		return nil, "", err
	}
	contentType := models.MediaTypeOctetStream
	if meta, err := os.ReadFile(s.metaPath(key)); err == nil && len(meta) > 0 {
		contentType = string(meta)
	}
	return f, contentType, nil
}

// Delete removes an object and its sidecar. Missing files are ignored.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("object store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathFromKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Remove(s.metaPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// PublicURL returns the URL key is served under.
func (s *LocalStore) PublicURL(key string) string {
	return joinURL(s.baseURL, key)
}

// List returns every stored object ordered by key.
func (s *LocalStore) List(ctx context.Context) ([]ObjectInfo, error) {
	if s == nil {
		return nil, fmt.Errorf("object store is not configured")
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	out := make([]ObjectInfo, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ObjectInfo{
			Key:          entry.Name(),
			SizeBytes:    info.Size(),
			LastModified: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *LocalStore) pathFromKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: key is required", ErrInvalidKey)
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if key == tmpDirName || key == metaDirName {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, key), nil
}

// metaPath expects a key already accepted by pathFromKey.
func (s *LocalStore) metaPath(key string) string {
	return filepath.Join(s.root, metaDirName, strings.TrimSpace(key))
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
