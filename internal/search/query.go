package search

import (
	"context"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Params configures a search.
type Params struct {
	Query string   // Free text matched against title, prompt and tag names
	Tags  []string // Every listed tag must be present (exact name)
	Limit int      // Default 20
}

// Hit is one matching image.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Search returns matching image ids, best match first. An empty query with no
// tag filter matches every image, ordered by sort order.
func (s *Index) Search(ctx context.Context, p Params) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	req := bleve.NewSearchRequestOptions(buildQuery(p), limit, 0, false)
	if strings.TrimSpace(p.Query) == "" {
		req.SortBy([]string{"sort_order"})
	}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

func buildQuery(p Params) query.Query {
	var must []query.Query

	if text := strings.TrimSpace(p.Query); text != "" {
		title := bleve.NewMatchQuery(text)
		title.SetField("title")
		title.SetBoost(3)

		prompt := bleve.NewMatchQuery(text)
		prompt.SetField("prompt")

		tags := bleve.NewMatchQuery(text)
		tags.SetField("tag_text")
		tags.SetBoost(2)

		fuzzy := bleve.NewFuzzyQuery(strings.ToLower(text))
		fuzzy.SetField("title")
		fuzzy.SetFuzziness(1)

		must = append(must, bleve.NewDisjunctionQuery(title, prompt, tags, fuzzy))
	}

	for _, tag := range p.Tags {
		tq := bleve.NewTermQuery(tag)
		tq.SetField("tags")
		must = append(must, tq)
	}

	if len(must) == 0 {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewConjunctionQuery(must...)
}
