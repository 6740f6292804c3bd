// Package files stores entity attachments (reference images, plates,
// review media) in S3-compatible object storage.
package files

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Attachment describes one stored object.
type Attachment struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt"`
	URL         string    `json:"url,omitempty"`
}

// Service wraps a MinIO client scoped to one bucket. Objects are keyed
// as <table>/<entityID>/<filename>.
type Service struct {
	client *minio.Client
	bucket string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewService(opts Options) (*Service, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Service{client: client, bucket: opts.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func objectKey(table, entityID, name string) string {
	return table + "/" + entityID + "/" + name
}

// Upload stores one attachment for an entity.
func (s *Service) Upload(ctx context.Context, table, entityID, name, contentType string, r io.Reader, size int64) (Attachment, error) {
	if strings.Contains(name, "/") || name == "" {
		return Attachment{}, fmt.Errorf("invalid attachment name %q", name)
	}

	key := objectKey(table, entityID, name)
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Attachment{}, fmt.Errorf("upload %s: %w", key, err)
	}

	return Attachment{
		Name:        name,
		Size:        info.Size,
		ContentType: contentType,
		UploadedAt:  time.Now(),
	}, nil
}

// List returns the attachments stored for an entity, newest first, each
// with a presigned download URL.
func (s *Service) List(ctx context.Context, table, entityID string) ([]Attachment, error) {
	prefix := table + "/" + entityID + "/"

	attachments := make([]Attachment, 0)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}

		name := strings.TrimPrefix(obj.Key, prefix)
		presigned, err := s.presign(ctx, obj.Key)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, Attachment{
			Name:       name,
			Size:       obj.Size,
			UploadedAt: obj.LastModified,
			URL:        presigned,
		})
	}

	sort.Slice(attachments, func(i, j int) bool {
		return attachments[i].UploadedAt.After(attachments[j].UploadedAt)
	})
	return attachments, nil
}

// Delete removes one attachment.
func (s *Service) Delete(ctx context.Context, table, entityID, name string) error {
	key := objectKey(table, entityID, name)
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Service) presign(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, 15*time.Minute, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
