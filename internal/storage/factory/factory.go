// Package factory selects the object storage adapter named by the
// configuration.
package factory

import (
	"fmt"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
	"github.com/techask2021/fsmvid-sub005/internal/storage"
	"github.com/techask2021/fsmvid-sub005/internal/storage/fs"
	"github.com/techask2021/fsmvid-sub005/internal/storage/s3"
)

// Create builds the configured storage adapter.
func Create(cfg *config.StorageConfig, logger observability.Logger, metrics observability.Metrics) (storage.ObjectStorage, error) {
	switch cfg.Adapter {
	case "s3":
		logger.Info("creating s3 storage adapter", "bucket", cfg.Bucket, "region", cfg.S3.Region)
		return s3.New(cfg, logger, metrics)

	case "filesystem":
		logger.Info("creating filesystem storage adapter", "path", cfg.BasePath)
		return fs.New(cfg.BasePath, cfg.PublicBaseURL, logger, metrics)

	default:
		return nil, fmt.Errorf("unsupported storage adapter: %s", cfg.Adapter)
	}
}
