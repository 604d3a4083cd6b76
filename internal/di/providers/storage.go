package providers

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/listenupapp/gallery/internal/blobstore"
	"github.com/listenupapp/gallery/internal/config"
)

// BlobUploader carries the payload uploader. Uploader is nil when no blob
// endpoint is configured.
type BlobUploader struct {
	Uploader blobstore.Uploader
}

// ProvideBlobUploader provides the image payload uploader.
func ProvideBlobUploader(i do.Injector) (*BlobUploader, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	if cfg.Blob.Endpoint == "" {
		log.Info("Blob uploads disabled, payload URLs are pushed as they are")
		return &BlobUploader{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	uploader, err := blobstore.NewMinIO(ctx, blobstore.Options{
		Endpoint:  cfg.Blob.Endpoint,
		Bucket:    cfg.Blob.Bucket,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		UseSSL:    cfg.Blob.UseSSL,
		Logger:    log.Component("blobstore"),
	})
	if err != nil {
		return nil, fmt.Errorf("blob storage: %w", err)
	}

	log.Info("Blob storage initialized", "endpoint", cfg.Blob.Endpoint, "bucket", cfg.Blob.Bucket)

	return &BlobUploader{Uploader: uploader}, nil
}
