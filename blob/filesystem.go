package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/awantoch/flowhook/utils"
)

// FilesystemBlobStore implements BlobStore using the local filesystem.
type FilesystemBlobStore struct {
	dir string
}

var _ BlobStore = (*FilesystemBlobStore)(nil)

// NewFilesystemBlobStore creates the directory if it does not exist.
func NewFilesystemBlobStore(dir string) (*FilesystemBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &FilesystemBlobStore{dir: abs}, nil
}

// Put writes the blob atomically under key and returns a file:// URL. Keys may
// contain slashes; they may not escape the store directory.
func (f *FilesystemBlobStore) Put(ctx context.Context, data []byte, mime, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" {
		key = fmt.Sprintf("blob-%d", time.Now().UnixNano())
	}
	path, err := f.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", err
	}
	return "file://" + path, nil
}

// Get retrieves the blob from the file:// URL.
func (f *FilesystemBlobStore) Get(ctx context.Context, url string) ([]byte, error) {
	const prefix = "file://"
	if !strings.HasPrefix(url, prefix) {
		return nil, utils.Errorf("invalid file URL: %s", url)
	}
	path := filepath.Clean(url[len(prefix):])
	if !strings.HasPrefix(path, f.dir+string(filepath.Separator)) {
		return nil, utils.Errorf("file URL %s is outside the blob directory", url)
	}
	return os.ReadFile(path)
}

func (f *FilesystemBlobStore) path(key string) (string, error) {
	path := filepath.Join(f.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, f.dir+string(filepath.Separator)) {
		return "", utils.Errorf("invalid blob key %q", key)
	}
	return path, nil
}
