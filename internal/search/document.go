package search

import (
	"strings"

	"github.com/listenupapp/gallery/internal/domain"
)

// Document is the indexed form of an image.
type Document struct {
	ID        string
	Title     string
	Prompt    string // Concatenated prompt block content
	Tags      []string
	SortOrder int
}

// ImageToDocument builds the search document for img and its prompt blocks.
func ImageToDocument(img *domain.Image, blocks []*domain.PromptBlock) *Document {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Content != "" {
			parts = append(parts, b.Content)
		}
	}
	return &Document{
		ID:        img.ID,
		Title:     img.Title,
		Prompt:    strings.Join(parts, "\n"),
		Tags:      append([]string(nil), img.Tags...),
		SortOrder: img.SortOrder,
	}
}

// ToMap converts the document to the field names of the mapping.
func (d *Document) ToMap() map[string]any {
	return map[string]any{
		"id":         d.ID,
		"title":      d.Title,
		"prompt":     d.Prompt,
		"tags":       d.Tags,
		"tag_text":   strings.Join(d.Tags, " "),
		"sort_order": float64(d.SortOrder),
	}
}
