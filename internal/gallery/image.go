package gallery

import (
	"context"
	"slices"
	"time"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/gallery/internal/localstore"
	"github.com/listenupapp/gallery/internal/id"
	"github.com/listenupapp/gallery/internal/normalize"
)

// AddImage stores a new image and its prompt blocks. With no blocks the image gets
// the default template blocks. The image is flagged pending until the sync
// engine confirms it. Ids, timestamps and sort positions are assigned here; the
// caller's values are ignored.
func (s *Service) AddImage(ctx context.Context, img *domain.Image, blocks ...*domain.PromptBlock) (*domain.Image, error) {
	if img == nil {
		return nil, domainerrors.Validation("image is required")
	}

	imageID, err := newID(id.PrefixImage)
	if err != nil {
		return nil, err
	}
	img.ID = imageID
	img.InitTimestamps()
	img.Version = 0
	img.SortOrder = domain.Unsorted
	img.Tags = cleanTagNames(img.Tags)
	img.IsLocal = true
	img.IsPendingSync = true

	if len(blocks) == 0 {
		for _, title := range domain.TemplateBlockTitles() {
			blocks = append(blocks, &domain.PromptBlock{Title: title})
		}
	}

	img.PromptBlockIDs = make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b == nil {
			return nil, domainerrors.Validation("prompt block is nil")
		}
		if b.ID, err = newID(id.PrefixPromptBlock); err != nil {
			return nil, err
		}
		b.ImageID = imageID
		b.InitTimestamps()
		b.Version = 0
		b.SortOrder = domain.Unsorted
		img.PromptBlockIDs = append(img.PromptBlockIDs, b.ID)
	}

	var out *domain.Image
	err = s.store.Update(ctx, func(tx *localstore.Tx) error {
		if err := tx.Put(img); err != nil {
			return err
		}
		for _, b := range blocks {
			if err := tx.Put(b); err != nil {
				return err
			}
		}
		out = img
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out != nil {
		s.indexImage(ctx, out, blocks)
		s.logger.Debug("image added", "image_id", out.ID, "blocks", len(blocks), "sort_order", out.SortOrder)
	}
	return out, nil
}

// GetImage returns the image with id or a not-found error.
func (s *Service) GetImage(ctx context.Context, imageID string) (*domain.Image, error) {
	var out *domain.Image
	err := s.store.View(ctx, func(tx *localstore.Tx) error {
		var err error
		out, err = localstore.Get[domain.Image](tx, imageID)
		return err
	})
	return out, err
}

// ListImages returns every image in sort order.
func (s *Service) ListImages(ctx context.Context) ([]*domain.Image, error) {
	var out []*domain.Image
	err := s.store.View(ctx, func(tx *localstore.Tx) error {
		var err error
		out, err = localstore.List[domain.Image](tx, "", "")
		return err
	})
	return out, err
}

// UpdateImage writes the caller's copy of an image. The copy must carry the
// version it was read at; a concurrent change yields a conflict error.
// The sort position is kept from the stored record; use UpdateImageSortOrder to
// move an image. An edited image is pending until the next sync pushes it.
func (s *Service) UpdateImage(ctx context.Context, img *domain.Image) (*domain.Image, error) {
	if img == nil {
		return nil, domainerrors.Validation("image is required")
	}

	var (
		out    *domain.Image
		blocks []*domain.PromptBlock
	)
	err := s.store.Update(ctx, func(tx *localstore.Tx) error {
		current, err := localstore.Get[domain.Image](tx, img.ID)
		if err != nil {
			return err
		}
		img.SortOrder = current.SortOrder
		img.CreatedAt = current.CreatedAt
		img.IsLocal = current.IsLocal
		img.IsPendingSync = true
		img.Tags = cleanTagNames(img.Tags)
		img.Touch()
		if err := tx.Put(img); err != nil {
			return err
		}
		blocks, err = localstore.List[domain.PromptBlock](tx, localstore.IndexSort, img.ID)
		if err != nil {
			return err
		}
		out = img
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		s.indexImage(ctx, out, blocks)
	}
	return out, nil
}

// DeleteImage removes an image with its prompt blocks and cached blob.
func (s *Service) DeleteImage(ctx context.Context, imageID string) error {
	removed, err := s.store.DeleteImageCascade(ctx, imageID)
	if err != nil {
		return err
	}
	s.unindexImage(imageID)
	s.logger.Debug("image deleted", "image_id", imageID, "blocks_removed", removed)
	return nil
}

// DuplicateImage copies an image, its prompt blocks and its cached blob under
// fresh ids and places the copy before every other image. It returns nil when
// the source does not exist.
func (s *Service) DuplicateImage(ctx context.Context, imageID string) (*domain.Image, error) {
	var (
		out    *domain.Image
		blocks []*domain.PromptBlock
	)
	err := s.store.Update(ctx, func(tx *localstore.Tx) error {
		src, err := localstore.Get[domain.Image](tx, imageID)
		if domainerrors.Is(err, domainerrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		srcBlocks, err := localstore.List[domain.PromptBlock](tx, localstore.IndexSort, imageID)
		if err != nil {
			return err
		}

		first, _, err := tx.MinSortOrder(domain.KindImage, "")
		if err != nil {
			return err
		}
		front := first - 1
		if front == domain.Unsorted {
			front--
		}

		dup := &domain.Image{
			URL:           src.URL,
			Title:         src.Title,
			Tags:          slices.Clone(src.Tags),
			SortOrder:     front,
			BlurHash:      src.BlurHash,
			IsLocal:       true,
			IsPendingSync: true,
		}
		if dup.ID, err = newID(id.PrefixImage); err != nil {
			return err
		}
		dup.InitTimestamps()

		renamed := make(map[string]string, len(srcBlocks))
		blocks = make([]*domain.PromptBlock, 0, len(srcBlocks))
		for _, sb := range srcBlocks {
			b := &domain.PromptBlock{
				ImageID:   dup.ID,
				Title:     sb.Title,
				Content:   sb.Content,
				SortOrder: sb.SortOrder,
			}
			if b.ID, err = newID(id.PrefixPromptBlock); err != nil {
				return err
			}
			b.InitTimestamps()
			renamed[sb.ID] = b.ID
			blocks = append(blocks, b)
		}
		dup.PromptBlockIDs = make([]string, 0, len(src.PromptBlockIDs))
		for _, old := range src.PromptBlockIDs {
			if n, ok := renamed[old]; ok {
				dup.PromptBlockIDs = append(dup.PromptBlockIDs, n)
			}
		}

		if err := tx.Put(dup); err != nil {
			return err
		}
		for _, b := range blocks {
			if err := tx.Put(b); err != nil {
				return err
			}
		}

		blob, err := localstore.Get[domain.CachedBlob](tx, imageID)
		switch {
		case err == nil:
			copied := &domain.CachedBlob{
				Data:      slices.Clone(blob.Data),
				Extension: blob.Extension,
				CachedAt:  time.Now().UnixMilli(),
				BlurHash:  blob.BlurHash,
			}
			copied.ID = dup.ID
			copied.InitTimestamps()
			if err := tx.Put(copied); err != nil {
				return err
			}
		case !domainerrors.Is(err, domainerrors.ErrNotFound):
			return err
		}

		out = dup
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		s.indexImage(ctx, out, blocks)
	}
	return out, nil
}

// UpdateImageSortOrder moves an image to order, swapping with the image that
// holds it. A non-zero expectedVersion must match the stored version.
// Moving to domain.Unsorted places the image last.
func (s *Service) UpdateImageSortOrder(ctx context.Context, imageID string, order int, expectedVersion int64) (*domain.Image, error) {
	return reorder[domain.Image](ctx, s, imageID, order, expectedVersion, nil)
}

// GetTagUsageCount counts the images referencing tagName. It scans every image;
// the count is never stored.
func (s *Service) GetTagUsageCount(ctx context.Context, tagName string) (int, error) {
	counts, err := s.tagUsage(ctx)
	if err != nil {
		return 0, err
	}
	return counts[normalize.TagName(tagName)], nil
}

// tagUsage maps each normalized tag name to the number of images carrying it.
func (s *Service) tagUsage(ctx context.Context) (map[string]int, error) {
	images, err := s.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, img := range images {
		seen := make(map[string]bool, len(img.Tags))
		for _, t := range img.Tags {
			n := normalize.TagName(t)
			if !seen[n] {
				seen[n] = true
				counts[n]++
			}
		}
	}
	return counts, nil
}

// cleanTagNames normalizes names and drops empties and duplicates, keeping order.
func cleanTagNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = normalize.TagName(n)
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
