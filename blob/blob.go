package blob

import (
	"context"

	"github.com/awantoch/flowhook/config"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/utils"
)

// BlobStore is the interface for pluggable blob storage backends.
type BlobStore interface {
	Put(ctx context.Context, data []byte, mime, key string) (url string, err error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// NewBlobStore returns a BlobStore based on config, or a FilesystemBlobStore
// in the default archive directory if cfg is nil or empty.
func NewBlobStore(ctx context.Context, cfg *config.BlobConfig) (BlobStore, error) {
	if cfg == nil || cfg.Driver == "" || cfg.Driver == constants.BlobDriverFilesystem {
		dir := constants.DefaultBlobDir
		if cfg != nil && cfg.Directory != "" {
			dir = cfg.Directory
		}
		return NewFilesystemBlobStore(dir)
	}
	if cfg.Driver == constants.BlobDriverS3 {
		if cfg.Bucket == "" || cfg.Region == "" {
			return nil, utils.Errorf("s3 driver requires bucket and region")
		}
		return NewS3BlobStore(ctx, cfg.Bucket, cfg.Region)
	}
	return nil, utils.Errorf("unsupported blob driver: %s", cfg.Driver)
}
