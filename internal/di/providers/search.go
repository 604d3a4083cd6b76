package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/gallery/internal/config"
	"github.com/listenupapp/gallery/internal/search"
)

// SearchIndexHandle wraps the search index with shutdown capability.
type SearchIndexHandle struct {
	*search.Index
}

// Shutdown implements do.Shutdownable.
func (h *SearchIndexHandle) Shutdown() error {
	return h.Close()
}

// ProvideSearchIndex provides the Bleve image index.
func ProvideSearchIndex(i do.Injector) (*SearchIndexHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	index, err := search.Open(search.Options{
		DataPath: cfg.SearchPath(),
		Logger:   log.Component("search"),
	})
	if err != nil {
		return nil, err
	}

	docCount, _ := index.Count()
	log.Info("Search index initialized", "documents", docCount)

	return &SearchIndexHandle{Index: index}, nil
}

// TriggerSearchReindexIfNeeded rebuilds an empty index from the local store
// in the background.
// Should be called after the data service is wired.
func TriggerSearchReindexIfNeeded(i do.Injector) {
	cfg := do.MustInvoke[*config.Config](i)
	if !cfg.Local.SearchEnabled {
		return
	}
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	galleryHandle := do.MustInvoke[*GalleryHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)

	if docCount, _ := indexHandle.Count(); docCount > 0 || !galleryHandle.Available() {
		return
	}

	go func() {
		if err := galleryHandle.ReindexSearch(context.Background()); err != nil {
			log.Error("Initial search reindex failed", "error", err)
			return
		}
		count, _ := indexHandle.Count()
		if count > 0 {
			log.Info("Initial search reindex completed", "documents", count)
		}
	}()
}
