package gallery

import (
	"context"
	"time"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/gallery/internal/localstore"
)

// PendingImages returns the images awaiting confirmation by the remote store,
// in sort order.
func (s *Service) PendingImages(ctx context.Context) ([]*domain.Image, error) {
	images, err := s.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	pending := images[:0]
	for _, img := range images {
		if img.IsPending() {
			pending = append(pending, img)
		}
	}
	return pending, nil
}

// ConfirmImage replaces the pending image localID with the version the remote
// store confirmed. The image takes the remote id; its prompt blocks and cached
// blob move with it and the pending flags are cleared, all in one transaction.
//
// expectedVersion is the version that was pushed. If the image changed since,
// ConfirmImage fails with a conflict and leaves it pending so the next cycle
// pushes the newer content.
func (s *Service) ConfirmImage(ctx context.Context, localID string, expectedVersion int64, confirmed *domain.ImageDocument) (*domain.Image, error) {
	if confirmed == nil || confirmed.ID == "" {
		return nil, domainerrors.Validation("confirmed document must carry an id")
	}

	var (
		out    *domain.Image
		blocks []*domain.PromptBlock
	)
	err := s.store.Update(ctx, func(tx *localstore.Tx) error {
		local, err := localstore.Get[domain.Image](tx, localID)
		if err != nil {
			return err
		}
		if local.Version != expectedVersion {
			return domainerrors.Conflictf("image %s changed during sync (pushed version %d, now %d)",
				localID, expectedVersion, local.Version)
		}

		img := *local
		img.ID = confirmed.ID
		if confirmed.URL != "" {
			img.URL = confirmed.URL
		}
		img.Title = confirmed.Title
		if len(confirmed.Tags) > 0 {
			img.Tags = cleanTagNames(confirmed.TagNames())
		}
		if confirmed.BlurHash != "" {
			img.BlurHash = confirmed.BlurHash
		}
		img.UpdatedAt = confirmed.UpdatedAt
		if img.UpdatedAt.IsZero() {
			img.UpdatedAt = time.Now()
		}
		img.IsLocal = false
		img.IsPendingSync = false

		if img.ID == localID {
			if err := tx.Put(&img); err != nil {
				return err
			}
			blocks, err = localstore.List[domain.PromptBlock](tx, localstore.IndexSort, img.ID)
			out = &img
			return err
		}

		blocks, err = localstore.List[domain.PromptBlock](tx, localstore.IndexSort, localID)
		if err != nil {
			return err
		}
		for _, b := range blocks {
			if err := tx.Delete(domain.KindPromptBlock, b.ID); err != nil {
				return err
			}
			b.ImageID = img.ID
			b.Version = 0
			if err := tx.Put(b); err != nil {
				return err
			}
		}

		blob, err := localstore.Get[domain.CachedBlob](tx, localID)
		switch {
		case err == nil:
			if err := tx.Delete(domain.KindCachedBlob, localID); err != nil {
				return err
			}
			blob.ID = img.ID
			blob.Version = 0
			if err := tx.Put(blob); err != nil {
				return err
			}
		case !domainerrors.Is(err, domainerrors.ErrNotFound):
			return err
		}

		if err := tx.Delete(domain.KindImage, localID); err != nil {
			return err
		}
		img.Version = 0
		if err := tx.Put(&img); err != nil {
			return err
		}
		out = &img
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out != nil {
		if out.ID != localID {
			s.unindexImage(localID)
		}
		s.indexImage(ctx, out, blocks)
		s.logger.Info("image confirmed", "local_id", localID, "remote_id", out.ID)
	}
	return out, nil
}
