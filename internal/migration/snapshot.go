package migration

import (
	"context"

	"github.com/listenupapp/gallery/internal/domain"
	"github.com/listenupapp/gallery/internal/remote"
)

// snapshot is the remote state a plan is computed from. Every slice is
// ordered by id.
type snapshot struct {
	images     []*domain.ImageDocument
	categories []*domain.Category
	tags       []*domain.TagDocument
	links      []*domain.ImageTagLink
}

func (e *Engine) load(ctx context.Context) (*snapshot, error) {
	var (
		s   snapshot
		err error
	)
	if s.images, err = loadAll[domain.ImageDocument](ctx, e.store, domain.CollectionImages); err != nil {
		return nil, err
	}
	if s.categories, err = loadAll[domain.Category](ctx, e.store, domain.CollectionCategories); err != nil {
		return nil, err
	}
	if s.tags, err = loadAll[domain.TagDocument](ctx, e.store, domain.CollectionTags); err != nil {
		return nil, err
	}
	if s.links, err = loadAll[domain.ImageTagLink](ctx, e.store, domain.CollectionImageTags); err != nil {
		return nil, err
	}
	return &s, nil
}

func loadAll[T any](ctx context.Context, store remote.Store, collection string) ([]*T, error) {
	docs, err := store.Query(ctx, collection, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(docs))
	for _, d := range docs {
		v := new(T)
		if err := d.Decode(v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
