package localstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/listenupapp/gallery/internal/domain"
)

// DeleteImageCascade removes an image, every prompt block it owns and its cached
// blob in one transaction. It returns the number of blocks removed.
func (s *Store) DeleteImageCascade(ctx context.Context, id string) (int, error) {
	var removed int
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		removed, err = tx.DeleteImageCascade(id)
		return err
	})
	return removed, err
}

// DeleteImageCascade is the transactional form of Store.DeleteImageCascade.
func (tx *Tx) DeleteImageCascade(id string) (int, error) {
	blocks, err := List[domain.PromptBlock](tx, IndexParent, id)
	if err != nil {
		return 0, fmt.Errorf("list blocks of image %s: %w", id, err)
	}
	for _, b := range blocks {
		if err := tx.Delete(domain.KindPromptBlock, b.ID); err != nil {
			return 0, err
		}
	}
	if err := tx.Delete(domain.KindCachedBlob, id); err != nil {
		return 0, err
	}
	if err := tx.Delete(domain.KindImage, id); err != nil {
		return 0, err
	}
	return len(blocks), nil
}

// DeleteTagGroupDetach removes a tag group and clears GroupID on every tag that
// referenced it, in one transaction. Detached tags keep their relative order and
// are appended after the existing ungrouped tags. It returns the detached count.
func (s *Store) DeleteTagGroupDetach(ctx context.Context, id string) (int, error) {
	var detached int
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		detached, err = tx.DeleteTagGroupDetach(id)
		return err
	})
	return detached, err
}

// DeleteTagGroupDetach is the transactional form of Store.DeleteTagGroupDetach.
func (tx *Tx) DeleteTagGroupDetach(id string) (int, error) {
	if id == "" {
		return 0, nil
	}
	tags, err := List[domain.Tag](tx, IndexSort, id)
	if err != nil {
		return 0, fmt.Errorf("list tags of group %s: %w", id, err)
	}
	for _, t := range tags {
		t.GroupID = ""
		t.SortOrder = domain.Unsorted
		t.Touch()
		if err := tx.Put(t); err != nil {
			return 0, err
		}
	}
	if err := tx.Delete(domain.KindTagGroup, id); err != nil {
		return 0, err
	}
	return len(tags), nil
}

// CacheSweep reports what CleanExpiredCache removed.
type CacheSweep struct {
	Removed    int
	FreedBytes int64
}

// CleanExpiredCache deletes every cached blob cached before now-maxAge.
func (s *Store) CleanExpiredCache(ctx context.Context, maxAge time.Duration) (CacheSweep, error) {
	var sweep CacheSweep
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	err := s.Update(ctx, func(tx *Tx) error {
		blobs, err := List[domain.CachedBlob](tx, "", "")
		if err != nil {
			return err
		}
		for _, b := range blobs {
			if b.CachedAt >= cutoff {
				continue
			}
			if err := tx.Delete(domain.KindCachedBlob, b.ID); err != nil {
				return err
			}
			sweep.Removed++
			sweep.FreedBytes += int64(len(b.Data))
		}
		return nil
	})
	if err != nil {
		return CacheSweep{}, err
	}

	if sweep.Removed > 0 {
		s.logger.Info("expired cache entries removed",
			"count", sweep.Removed,
			"freed", humanize.Bytes(uint64(sweep.FreedBytes)),
		)
	}
	return sweep, nil
}
