package gallery

import (
	"context"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/gallery/internal/localstore"
	"github.com/listenupapp/gallery/internal/id"
)

// AddPromptBlock appends a block to its image and records it in the image's
// PromptBlockIDs.
func (s *Service) AddPromptBlock(ctx context.Context, block *domain.PromptBlock) (*domain.PromptBlock, error) {
	if block == nil {
		return nil, domainerrors.Validation("prompt block is required")
	}
	blockID, err := newID(id.PrefixPromptBlock)
	if err != nil {
		return nil, err
	}
	block.ID = blockID
	block.InitTimestamps()
	block.Version = 0
	block.SortOrder = domain.Unsorted

	var out *domain.PromptBlock
	err = s.store.Update(ctx, func(tx *localstore.Tx) error {
		if _, err := localstore.Get[domain.Image](tx, block.ImageID); err != nil {
			return err
		}
		if err := tx.Put(block); err != nil {
			return err
		}
		if err := syncBlockIDs(tx, block.ImageID); err != nil {
			return err
		}
		out = block
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		s.reindexImage(ctx, out.ImageID)
	}
	return out, nil
}

// ListPromptBlocks returns the blocks of an image in order.
func (s *Service) ListPromptBlocks(ctx context.Context, imageID string) ([]*domain.PromptBlock, error) {
	var out []*domain.PromptBlock
	err := s.store.View(ctx, func(tx *localstore.Tx) error {
		var err error
		out, err = localstore.List[domain.PromptBlock](tx, localstore.IndexSort, imageID)
		return err
	})
	return out, err
}

// UpdatePromptBlock writes the caller's copy of a block, which must carry the
// version it was read at. The block stays with its image and keeps its position.
func (s *Service) UpdatePromptBlock(ctx context.Context, block *domain.PromptBlock) (*domain.PromptBlock, error) {
	if block == nil {
		return nil, domainerrors.Validation("prompt block is required")
	}

	var out *domain.PromptBlock
	err := s.store.Update(ctx, func(tx *localstore.Tx) error {
		current, err := localstore.Get[domain.PromptBlock](tx, block.ID)
		if err != nil {
			return err
		}
		block.ImageID = current.ImageID
		block.SortOrder = current.SortOrder
		block.CreatedAt = current.CreatedAt
		block.Touch()
		if err := tx.Put(block); err != nil {
			return err
		}
		if err := markPending(tx, block.ImageID); err != nil {
			return err
		}
		out = block
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		s.reindexImage(ctx, out.ImageID)
	}
	return out, nil
}

// DeletePromptBlock removes a block and drops it from its image's PromptBlockIDs.
func (s *Service) DeletePromptBlock(ctx context.Context, blockID string) error {
	var imageID string
	err := s.store.Update(ctx, func(tx *localstore.Tx) error {
		block, err := localstore.Get[domain.PromptBlock](tx, blockID)
		if domainerrors.Is(err, domainerrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		imageID = block.ImageID
		if err := tx.Delete(domain.KindPromptBlock, blockID); err != nil {
			return err
		}
		return syncBlockIDs(tx, imageID)
	})
	if err != nil {
		return err
	}
	if imageID != "" {
		s.reindexImage(ctx, imageID)
	}
	return nil
}

// UpdatePromptBlockSortOrder moves a block inside its image, swapping with the
// block that holds order, and rewrites the image's PromptBlockIDs to match.
func (s *Service) UpdatePromptBlockSortOrder(ctx context.Context, blockID string, order int, expectedVersion int64) (*domain.PromptBlock, error) {
	return reorder[domain.PromptBlock](ctx, s, blockID, order, expectedVersion,
		func(tx *localstore.Tx, b *domain.PromptBlock) error {
			return syncBlockIDs(tx, b.ImageID)
		})
}

// syncBlockIDs rewrites an image's PromptBlockIDs from its blocks' sort order
// and flags the image for sync. A missing image is left alone.
func syncBlockIDs(tx *localstore.Tx, imageID string) error {
	img, err := localstore.Get[domain.Image](tx, imageID)
	if domainerrors.Is(err, domainerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	blocks, err := localstore.List[domain.PromptBlock](tx, localstore.IndexSort, imageID)
	if err != nil {
		return err
	}
	img.PromptBlockIDs = make([]string, 0, len(blocks))
	for _, b := range blocks {
		img.PromptBlockIDs = append(img.PromptBlockIDs, b.ID)
	}
	img.IsPendingSync = true
	img.Touch()
	return tx.Put(img)
}

// markPending flags an image for the next sync cycle.
func markPending(tx *localstore.Tx, imageID string) error {
	img, err := localstore.Get[domain.Image](tx, imageID)
	if domainerrors.Is(err, domainerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if img.IsPendingSync {
		return nil
	}
	img.IsPendingSync = true
	img.Touch()
	return tx.Put(img)
}
