// Package s3 implements the storage port on AWS S3 (or any S3-compatible
// endpoint such as MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
	"github.com/techask2021/fsmvid-sub005/internal/storage"
)

type client struct {
	s3Client  *s3.Client
	presigner *s3.PresignClient
	bucket    string
	logger    observability.Logger
	metrics   observability.Metrics
}

// New creates an S3 storage client and verifies the bucket is reachable.
func New(cfg *config.StorageConfig, logger observability.Logger, metrics observability.Metrics) (storage.ObjectStorage, error) {
	awsCfg, err := buildAWSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
	})

	c := &client{
		s3Client:  s3Client,
		presigner: s3.NewPresignClient(s3Client),
		bucket:    cfg.Bucket,
		logger:    logger.WithFields(map[string]interface{}{"component": "storage.s3"}),
		metrics:   metrics.WithTags(map[string]string{"storage": "s3"}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.ensureBucketExists(ctx); err != nil {
		logger.Error("failed to verify bucket existence", "error", err, "bucket", cfg.Bucket)
		return nil, fmt.Errorf("failed to verify bucket existence: %w", err)
	}

	logger.Info("s3 storage initialized", "bucket", cfg.Bucket, "region", cfg.S3.Region)
	return c, nil
}

func (c *client) Put(ctx context.Context, key string, reader io.Reader, metadata storage.ObjectMetadata) error {
	start := time.Now()

	buf := &bytes.Buffer{}
	bytesRead, err := io.Copy(buf, reader)
	if err != nil {
		c.metrics.IncrementCounter("storage.put.errors", map[string]string{"error_type": "read"})
		return fmt.Errorf("failed to read content: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	}
	if metadata.ContentType != "" {
		input.ContentType = aws.String(metadata.ContentType)
	}
	if metadata.ExpiresAt != nil {
		input.Expires = aws.Time(*metadata.ExpiresAt)
	}
	if len(metadata.UserMetadata) > 0 {
		input.Metadata = metadata.UserMetadata
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		c.logger.Error("failed to put object", "error", err, "key", key)
		c.metrics.IncrementCounter("storage.put.errors", map[string]string{"error_type": "s3"})
		return fmt.Errorf("failed to put object: %w", err)
	}

	c.logger.Info("object stored",
		"key", key,
		"size_bytes", bytesRead,
		"duration_ms", time.Since(start).Milliseconds())
	c.metrics.IncrementCounter("storage.put.success", nil)
	c.metrics.RecordHistogram("storage.put.size_bytes", float64(bytesRead), nil)

	return nil
}

func (c *client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			c.metrics.IncrementCounter("storage.get.not_found", nil)
			return nil, storage.ErrObjectNotFound
		}
		c.logger.Error("failed to get object", "error", err, "key", key)
		c.metrics.IncrementCounter("storage.get.errors", nil)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	c.metrics.IncrementCounter("storage.get.success", nil)
	return result.Body, nil
}

func (c *client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		c.logger.Error("failed to delete object", "error", err, "key", key)
		c.metrics.IncrementCounter("storage.delete.errors", nil)
		return fmt.Errorf("failed to delete object: %w", err)
	}

	c.metrics.IncrementCounter("storage.delete.success", nil)
	return nil
}

func (c *client) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []storage.ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			c.logger.Error("failed to list objects", "error", err, "prefix", prefix)
			c.metrics.IncrementCounter("storage.list.errors", nil)
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, storage.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	c.metrics.IncrementCounter("storage.list.success", nil)
	return objects, nil
}

// PresignedURL returns a time-limited GET URL for the object. Expiry is
// enforced by S3 itself: the signature stops validating after ttl.
func (c *client) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		c.logger.Error("failed to presign object", "error", err, "key", key)
		c.metrics.IncrementCounter("storage.presign.errors", nil)
		return "", fmt.Errorf("failed to presign object: %w", err)
	}

	c.metrics.IncrementCounter("storage.presign.success", nil)
	return req.URL, nil
}

func (c *client) ensureBucketExists(ctx context.Context) error {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		var nse *s3types.NotFound
		if errors.As(err, &nse) {
			c.logger.Info("bucket does not exist, creating", "bucket", c.bucket)
			_, err = c.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
				Bucket: aws.String(c.bucket),
			})
			if err != nil {
				var baoyb *s3types.BucketAlreadyOwnedByYou
				if errors.As(err, &baoyb) {
					return nil
				}
				return fmt.Errorf("failed to create bucket: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	return nil
}

func buildAWSConfig(cfg *config.StorageConfig) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error

	if cfg.S3.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.S3.Region))
	}

	// Use static credentials if provided
	if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.S3.AccessKeyID,
				cfg.S3.SecretAccessKey,
				"",
			),
		))
	}

	optFns = append(optFns, awsconfig.WithRetryMaxAttempts(cfg.MaxRetries))
	optFns = append(optFns, awsconfig.WithHTTPClient(&http.Client{
		Timeout: cfg.Timeout,
	}))

	return awsconfig.LoadDefaultConfig(context.Background(), optFns...)
}

func isNotFoundError(err error) bool {
	var nsk *s3types.NoSuchKey
	var nse *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nse)
}
