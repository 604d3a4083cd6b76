package gallery

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/gallery/internal/localstore"
	"github.com/listenupapp/gallery/internal/media"
)

// CacheSweep reports what CleanExpiredCache removed.
type CacheSweep = localstore.CacheSweep

// CacheImageBlob stores the binary payload of an image, replacing any previous
// one. The extension is sniffed from the bytes. When the payload decodes as an
// image its BlurHash is stored on the blob and on the image; a changed BlurHash
// marks the image pending sync.
func (s *Service) CacheImageBlob(ctx context.Context, imageID string, data []byte) (*domain.CachedBlob, error) {
	if len(data) == 0 {
		return nil, domainerrors.Validation("blob data is required")
	}

	hash, err := media.BlurHash(data)
	if err != nil {
		s.logger.Debug("no blurhash for cached blob", "image_id", imageID, "error", err)
	}

	blob := &domain.CachedBlob{
		Data:      data,
		Extension: media.Extension(data),
		CachedAt:  time.Now().UnixMilli(),
		BlurHash:  hash,
	}
	blob.ID = imageID
	blob.InitTimestamps()

	var out *domain.CachedBlob
	err = s.store.Update(ctx, func(tx *localstore.Tx) error {
		img, err := localstore.Get[domain.Image](tx, imageID)
		if err != nil {
			return err
		}

		existing, err := localstore.Get[domain.CachedBlob](tx, imageID)
		switch {
		case err == nil:
			blob.Version = existing.Version
			blob.CreatedAt = existing.CreatedAt
		case !domainerrors.Is(err, domainerrors.ErrNotFound):
			return err
		}
		if err := tx.Put(blob); err != nil {
			return err
		}

		if hash != "" && img.BlurHash != hash {
			img.BlurHash = hash
			img.IsPendingSync = true
			img.Touch()
			if err := tx.Put(img); err != nil {
				return err
			}
		}
		out = blob
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		s.logger.Debug("blob cached", "image_id", imageID, "size", humanize.Bytes(uint64(len(data))), "ext", out.Extension)
	}
	return out, nil
}

// GetCachedBlob returns the cached payload of an image, or nil on a cache miss.
func (s *Service) GetCachedBlob(ctx context.Context, imageID string) (*domain.CachedBlob, error) {
	var out *domain.CachedBlob
	err := s.store.View(ctx, func(tx *localstore.Tx) error {
		var err error
		out, err = localstore.Get[domain.CachedBlob](tx, imageID)
		return err
	})
	return notFoundAsNil(out, err)
}

// CleanExpiredCache deletes cached blobs older than maxAgeHours. Zero or a
// negative value uses the configured retention.
func (s *Service) CleanExpiredCache(ctx context.Context, maxAgeHours int) (CacheSweep, error) {
	maxAge := s.cacheRetention
	if maxAgeHours > 0 {
		maxAge = time.Duration(maxAgeHours) * time.Hour
	}
	return s.store.CleanExpiredCache(ctx, maxAge)
}
