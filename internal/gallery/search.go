package gallery

import (
	"context"
	"strings"

	"github.com/listenupapp/gallery/internal/domain"
	"github.com/listenupapp/gallery/internal/gallery/internal/localstore"
	"github.com/listenupapp/gallery/internal/normalize"
	"github.com/listenupapp/gallery/internal/search"
)

// SearchImages returns images matching free text and carrying every listed tag,
// best match first. Without a search index it falls back to a substring scan
// in sort order.
func (s *Service) SearchImages(ctx context.Context, query string, tags []string, limit int) ([]*domain.Image, error) {
	tags = cleanTagNames(tags)
	if limit <= 0 {
		limit = 20
	}

	if s.index == nil {
		return s.scanImages(ctx, query, tags, limit)
	}

	hits, err := s.index.Search(ctx, search.Params{Query: query, Tags: tags, Limit: limit})
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Image, 0, len(hits))
	err = s.store.View(ctx, func(tx *localstore.Tx) error {
		for _, h := range hits {
			img, err := localstore.Get[domain.Image](tx, h.ID)
			if err != nil {
				// Stale hit; the index catches up on the next write.
				continue
			}
			out = append(out, img)
		}
		return nil
	})
	return out, err
}

func (s *Service) scanImages(ctx context.Context, query string, tags []string, limit int) ([]*domain.Image, error) {
	images, err := s.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))

	var out []*domain.Image
	for _, img := range images {
		if !hasAllTags(img, tags) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(img.Title), q) && !tagContains(img, q) {
			continue
		}
		out = append(out, img)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func hasAllTags(img *domain.Image, tags []string) bool {
	for _, t := range tags {
		if !img.HasTag(t) {
			return false
		}
	}
	return true
}

func tagContains(img *domain.Image, q string) bool {
	for _, t := range img.Tags {
		if strings.Contains(strings.ToLower(normalize.TagName(t)), q) {
			return true
		}
	}
	return false
}

// ReindexSearch rebuilds the search index from the local store.
func (s *Service) ReindexSearch(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	var docs []*search.Document
	err := s.store.View(ctx, func(tx *localstore.Tx) error {
		images, err := localstore.List[domain.Image](tx, "", "")
		if err != nil {
			return err
		}
		for _, img := range images {
			blocks, err := localstore.List[domain.PromptBlock](tx, localstore.IndexSort, img.ID)
			if err != nil {
				return err
			}
			docs = append(docs, search.ImageToDocument(img, blocks))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.index.Reindex(docs)
}

// indexImage updates the search index. Failures are logged and left for
// ReindexSearch.
func (s *Service) indexImage(_ context.Context, img *domain.Image, blocks []*domain.PromptBlock) {
	if s.index == nil {
		return
	}
	if err := s.index.Put(search.ImageToDocument(img, blocks)); err != nil {
		s.logger.Warn("search index update failed", "image_id", img.ID, "error", err)
	}
}

func (s *Service) reindexImage(ctx context.Context, imageID string) {
	if s.index == nil {
		return
	}
	img, err := s.GetImage(ctx, imageID)
	if err != nil || img == nil {
		return
	}
	blocks, err := s.ListPromptBlocks(ctx, imageID)
	if err != nil {
		s.logger.Warn("search index update failed", "image_id", imageID, "error", err)
		return
	}
	s.indexImage(ctx, img, blocks)
}

func (s *Service) unindexImage(imageID string) {
	if s.index == nil {
		return
	}
	if err := s.index.Delete(imageID); err != nil {
		s.logger.Warn("search index delete failed", "image_id", imageID, "error", err)
	}
}
