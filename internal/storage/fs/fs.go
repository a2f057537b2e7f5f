// Package fs implements the storage port on the local filesystem. Intended
// for development and tests; presigned URLs are plain base-URL links and
// expiry is enforced by PurgeExpired.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/techask2021/fsmvid-sub005/internal/observability"
	"github.com/techask2021/fsmvid-sub005/internal/storage"
)

const metadataSuffix = ".metadata.json"

// Storage stores objects as files under a base path, with sidecar metadata.
type Storage struct {
	basePath      string
	publicBaseURL string
	logger        observability.Logger
	metrics       observability.Metrics
}

// New creates a filesystem-backed object storage rooted at basePath.
func New(basePath, publicBaseURL string, logger observability.Logger, metrics observability.Metrics) (*Storage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Info("filesystem storage initialized", "base_path", basePath)

	return &Storage{
		basePath:      basePath,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger.WithFields(map[string]interface{}{"component": "storage.fs"}),
		metrics:       metrics.WithTags(map[string]string{"storage": "filesystem"}),
	}, nil
}

func (s *Storage) Put(ctx context.Context, key string, reader io.Reader, metadata storage.ObjectMetadata) error {
	objectPath := s.objectPath(key)

	if err := os.MkdirAll(filepath.Dir(objectPath), 0755); err != nil {
		s.metrics.IncrementCounter("storage.put.errors", map[string]string{"error_type": "mkdir"})
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	file, err := os.Create(objectPath)
	if err != nil {
		s.metrics.IncrementCounter("storage.put.errors", map[string]string{"error_type": "create"})
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		s.metrics.IncrementCounter("storage.put.errors", map[string]string{"error_type": "write"})
		return fmt.Errorf("failed to write data: %w", err)
	}

	metadata.ContentLength = written
	if err := s.saveMetadata(key, metadata); err != nil {
		s.metrics.IncrementCounter("storage.put.errors", map[string]string{"error_type": "metadata"})
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	s.logger.Info("object stored", "key", key, "size_bytes", written)
	s.metrics.IncrementCounter("storage.put.success", nil)
	return nil
}

func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(s.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			s.metrics.IncrementCounter("storage.get.not_found", nil)
			return nil, storage.ErrObjectNotFound
		}
		s.metrics.IncrementCounter("storage.get.errors", nil)
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	s.metrics.IncrementCounter("storage.get.success", nil)
	return file, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.objectPath(key)); err != nil && !os.IsNotExist(err) {
		s.metrics.IncrementCounter("storage.delete.errors", nil)
		return fmt.Errorf("failed to delete object: %w", err)
	}
	os.Remove(s.metadataPath(key))

	s.metrics.IncrementCounter("storage.delete.success", nil)
	return nil
}

func (s *Storage) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo

	err := filepath.Walk(s.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || strings.HasSuffix(path, metadataSuffix) {
			return nil
		}

		relPath, _ := filepath.Rel(s.basePath, path)
		key := filepath.ToSlash(relPath)

		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}

		objects = append(objects, storage.ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		s.metrics.IncrementCounter("storage.list.errors", nil)
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	s.metrics.IncrementCounter("storage.list.success", nil)
	return objects, nil
}

// PresignedURL builds a plain public URL. The filesystem adapter cannot sign
// URLs; PurgeExpired enforces the expiry instead.
func (s *Storage) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := os.Stat(s.objectPath(key)); err != nil {
		if os.IsNotExist(err) {
			return "", storage.ErrObjectNotFound
		}
		return "", fmt.Errorf("failed to stat object: %w", err)
	}
	return s.publicBaseURL + "/" + strings.TrimPrefix(key, "/"), nil
}

// PurgeExpired removes objects whose metadata expiry has passed. Called
// from the worker on a ticker.
func (s *Storage) PurgeExpired(ctx context.Context) (int, error) {
	objects, err := s.List(ctx, "")
	if err != nil {
		return 0, err
	}

	now := time.Now()
	purged := 0
	for _, obj := range objects {
		meta, err := s.loadMetadata(obj.Key)
		if err != nil || meta.ExpiresAt == nil {
			continue
		}
		if meta.ExpiresAt.Before(now) {
			if err := s.Delete(ctx, obj.Key); err != nil {
				s.logger.Error("failed to purge expired object", "error", err, "key", obj.Key)
				continue
			}
			purged++
		}
	}

	if purged > 0 {
		s.logger.Info("purged expired objects", "count", purged)
		s.metrics.IncrementCounter("storage.purged", nil)
	}
	return purged, nil
}

func (s *Storage) objectPath(key string) string {
	// Sanitize key to prevent directory traversal
	key = strings.TrimPrefix(key, "/")
	key = filepath.FromSlash(filepath.Clean("/" + key))
	return filepath.Join(s.basePath, key)
}

func (s *Storage) metadataPath(key string) string {
	return s.objectPath(key) + metadataSuffix
}

func (s *Storage) saveMetadata(key string, metadata storage.ObjectMetadata) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(s.metadataPath(key), data, 0644)
}

func (s *Storage) loadMetadata(key string) (storage.ObjectMetadata, error) {
	data, err := os.ReadFile(s.metadataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return storage.ObjectMetadata{}, nil
		}
		return storage.ObjectMetadata{}, err
	}

	var metadata storage.ObjectMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return storage.ObjectMetadata{}, err
	}
	return metadata, nil
}
