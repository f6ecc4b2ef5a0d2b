// Package objectstore reads report images from a MinIO or S3-compatible bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"CitySense/internal/config"
	"CitySense/internal/domain"
	"CitySense/internal/ports"
)

const (
	service = "objectstore"
	// maxObjectSize bounds how much of an upload is read into memory.
	maxObjectSize = 20 << 20
)

// Store implements ports.ObjectStore with minio-go.
type Store struct {
	client *minio.Client
	bucket string
}

var _ ports.ObjectStore = (*Store)(nil)

// New connects a client to the configured endpoint. No request is made until GetObject.
func New(cfg config.ObjectStoreConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// GetObject downloads the object behind ref, which may be a key in the default bucket or an
// http(s)://host/bucket/key URL.
func (s *Store) GetObject(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := ParseRef(ref, s.bucket)
	if err != nil {
		return nil, domain.Permanent(service, err)
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(ref, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxObjectSize+1))
	if err != nil {
		return nil, classify(ref, err)
	}
	if len(data) > maxObjectSize {
		return nil, domain.Permanent(service, fmt.Errorf("object %s exceeds %d bytes", ref, maxObjectSize))
	}
	return data, nil
}

// ParseRef splits an image reference into bucket and key.
func ParseRef(ref, defaultBucket string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", errors.New("empty object reference")
	}

	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		key := strings.TrimLeft(ref, "/")
		if defaultBucket == "" {
			return "", "", fmt.Errorf("no bucket for key %q", key)
		}
		return defaultBucket, key, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("parse object url: %w", err)
	}
	path, err := url.PathUnescape(strings.TrimLeft(u.Path, "/"))
	if err != nil {
		return "", "", fmt.Errorf("unescape object path: %w", err)
	}
	bucket, key, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("object url %q has no bucket/key path", ref)
	}
	return bucket, key, nil
}

func classify(ref string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("object %s: %w", ref, domain.ErrNotFound)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return domain.Permanent(service, fmt.Errorf("get %s: %w", ref, err))
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient(service, fmt.Errorf("get %s: %w", ref, err))
	}
	if resp := minio.ToErrorResponse(err); resp.StatusCode >= 500 {
		return domain.Transient(service, fmt.Errorf("get %s: %w", ref, err))
	}
	return domain.Permanent(service, fmt.Errorf("get %s: %w", ref, err))
}
