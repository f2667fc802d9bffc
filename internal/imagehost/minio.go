// Package imagehost stores submitted images in an S3-compatible bucket and
// hands back their public URLs.
package imagehost

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"confessional/api/internal/media"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the externally reachable base for objects. When empty,
	// URLs point at the endpoint directly.
	PublicURL string
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, size int64, contentType string) error
}

type minioPutter struct {
	client *minio.Client
}

func (m minioPutter) PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	return err
}

type Host struct {
	putter  objectPutter
	bucket  string
	baseURL string
	now     func() time.Time
}

// New connects to the bucket, creating it when missing.
func New(ctx context.Context, cfg Config) (*Host, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return newHost(minioPutter{client: client}, cfg), nil
}

func newHost(putter objectPutter, cfg Config) *Host {
	base := strings.TrimRight(cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint + "/" + cfg.Bucket
	}
	return &Host{putter: putter, bucket: cfg.Bucket, baseURL: base, now: time.Now}
}

// UploadMany stores every file concurrently and returns their URLs in input
// order. Any failure fails the whole batch.
func (h *Host) UploadMany(ctx context.Context, files []media.File) ([]string, error) {
	urls := make([]string, len(files))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for i, file := range files {
		group.Go(func() error {
			key := h.objectKey(file)
			contentType := file.MimeType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			if err := h.putter.PutObject(groupCtx, h.bucket, key, bytes.NewReader(file.Data), int64(len(file.Data)), contentType); err != nil {
				return fmt.Errorf("upload image %d: %w", i, err)
			}
			urls[i] = h.baseURL + "/" + (&url.URL{Path: key}).EscapedPath()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

func (h *Host) objectKey(file media.File) string {
	now := h.now().UTC()
	return fmt.Sprintf("uploads/%04d/%02d/%s%s", now.Year(), int(now.Month()), uuid.NewString(), file.Extension())
}
