// Package blobstore uploads image payloads to S3-compatible object storage
// before their documents are pushed to the remote store.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/logger"
	"github.com/listenupapp/gallery/internal/media"
)

// Uploader stores an image payload and returns the URL it is served from.
type Uploader interface {
	Upload(ctx context.Context, imageID string, data []byte) (string, error)
}

// Options configures NewMinIO.
type Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Logger    *slog.Logger
}

// MinIO uploads to one bucket of a MinIO or S3 endpoint.
type MinIO struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ Uploader = (*MinIO)(nil)

// NewMinIO connects to the endpoint and creates the bucket when missing.
func NewMinIO(ctx context.Context, opts Options) (*MinIO, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, domainerrors.Validation("blob endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeNetwork, "check bucket %s", opts.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, domainerrors.Wrapf(err, domainerrors.CodeNetwork, "create bucket %s", opts.Bucket)
		}
	}

	return &MinIO{
		client: client,
		bucket: opts.Bucket,
		logger: logger.OrDiscard(opts.Logger),
	}, nil
}

// Upload writes data under a key derived from imageID. Uploading the same
// payload again overwrites the same object.
func (m *MinIO) Upload(ctx context.Context, imageID string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", domainerrors.Validationf("image %s has no payload", imageID)
	}
	key := ObjectKey(imageID, data)
	contentType := mimetype.Detect(data).String()

	info, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", domainerrors.Wrapf(err, domainerrors.CodeNetwork, "upload %s", key)
	}

	m.logger.Debug("blob uploaded",
		"key", key,
		"size", humanize.Bytes(uint64(info.Size)),
		"content_type", contentType,
	)
	return ObjectURL(m.client.EndpointURL(), m.bucket, key), nil
}

// ObjectKey is the object name of an image payload: the image id with the
// extension sniffed from the bytes.
func ObjectKey(imageID string, data []byte) string {
	return "images/" + imageID + "." + media.Extension(data)
}

// ObjectURL joins endpoint, bucket and key into the public object URL.
func ObjectURL(endpoint *url.URL, bucket, key string) string {
	u := *endpoint
	u.Path = "/" + bucket + "/" + key
	return u.String()
}
