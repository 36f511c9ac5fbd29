// Package storage uploads rendered alert assets to a MinIO object store
// and hands back deterministic public URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageError wraps a failed storage operation.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s of %s failed: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Config contains MinIO configuration.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string

	// Retry settings (best-effort; the MinIO client also retries internally)
	MaxRetries   int
	RetryBackoff time.Duration

	ConnectTimeout time.Duration
}

// Uploader pushes local files into a single bucket.
type Uploader struct {
	client *minio.Client
	cfg    Config
	logger *zap.Logger
}

// NewUploader creates an uploader and ensures the bucket exists. Bucket
// creation is idempotent; concurrent creators tolerate the race.
func NewUploader(cfg Config) (*Uploader, error) {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	u := &Uploader{
		client: client,
		cfg:    cfg,
		logger: zap.L().Named("minio-uploader"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := u.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return u, nil
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.cfg.Bucket)
	if err != nil {
		return &StorageError{Op: "bucket_check", Key: u.cfg.Bucket, Err: err}
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			// Another run may have created it between the check and here.
			if ok, e2 := u.client.BucketExists(ctx, u.cfg.Bucket); e2 != nil || !ok {
				return &StorageError{Op: "bucket_create", Key: u.cfg.Bucket, Err: err}
			}
		} else {
			u.logger.Info("created MinIO bucket", zap.String("bucket", u.cfg.Bucket))
		}
	}
	return nil
}

// UploadFile pushes one local file under prefix and returns its public URL.
func (u *Uploader) UploadFile(ctx context.Context, localPath, prefix string) (string, error) {
	name := filepath.Base(localPath)
	key := prefix + "/" + name
	contentType := detectContentType(localPath)

	file, err := os.Open(localPath)
	if err != nil {
		return "", &StorageError{Op: "put", Key: key, Err: err}
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", &StorageError{Op: "put", Key: key, Err: err}
	}

	// Fresh backoff per operation, rewinding the file between attempts.
	ebo := backoff.NewExponentialBackOff()
	if u.cfg.RetryBackoff > 0 {
		ebo.InitialInterval = u.cfg.RetryBackoff
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(ebo, uint64(u.cfg.MaxRetries)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(fmt.Errorf("seek reset failed: %w", err))
			}
		}
		info, err := u.client.PutObject(ctx, u.cfg.Bucket, key, file, stat.Size(),
			minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			return err
		}
		u.logger.Debug("object uploaded",
			zap.String("key", key),
			zap.Int64("size", info.Size),
			zap.String("etag", info.ETag))
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return "", &StorageError{Op: "put", Key: key, Err: err}
	}

	url := u.URLFor(prefix, name)
	u.logger.Info("uploaded to MinIO", zap.String("key", key), zap.String("url", url))
	return url, nil
}

// UploadMany uploads files best-effort, returning URLs for those that
// succeeded. A failed still-frame upload is logged, not fatal.
func (u *Uploader) UploadMany(ctx context.Context, localPaths []string, prefix string) []string {
	var urls []string
	for _, p := range localPaths {
		url, err := u.UploadFile(ctx, p, prefix)
		if err != nil {
			u.logger.Warn("failed to upload file", zap.String("path", p), zap.Error(err))
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

// URLFor builds the deterministic public URL for an object.
func (u *Uploader) URLFor(prefix, name string) string {
	scheme := "http"
	if u.cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s/%s", scheme, u.cfg.Endpoint, u.cfg.Bucket, prefix, name)
}

func detectContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	case ".avi":
		return "video/avi"
	case ".mov":
		return "video/quicktime"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
