package migration

import (
	"context"

	"github.com/listenupapp/gallery/internal/color"
	"github.com/listenupapp/gallery/internal/domain"
	"github.com/listenupapp/gallery/internal/normalize"
	"github.com/listenupapp/gallery/internal/remote"
)

// planForward derives categories, tags and links from every image that still
// embeds tags. Records that already exist are merged, not duplicated: their
// counters are recomputed over old and new links together.
func (e *Engine) planForward(ctx context.Context) (*plan, error) {
	snap, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()

	categories := make(map[string]*domain.Category, len(snap.categories))
	nextCategory := 0
	for _, c := range snap.categories {
		categories[c.ID] = c
		nextCategory = max(nextCategory, c.SortOrder)
	}

	tags := make(map[string]*domain.TagDocument, len(snap.tags))
	tagsIn := make(map[string]map[string]bool)
	nextTag := make(map[string]int)
	for _, t := range snap.tags {
		tags[t.ID] = t
		addToSet(tagsIn, t.CategoryID, t.ID)
		nextTag[t.CategoryID] = max(nextTag[t.CategoryID], t.SortOrder)
	}

	usage := make(map[string]map[string]bool)
	for _, l := range snap.links {
		addToSet(usage, l.TagID, l.ImageID)
	}

	var (
		touchedCategories []string
		touchedTags       []string
		seenCategory      = make(map[string]bool)
		seenTag           = make(map[string]bool)
		links             []*domain.ImageTagLink
		clear             []remote.Op
		result            Result
	)

	for _, img := range snap.images {
		if len(img.Tags) == 0 {
			continue
		}
		result.Images++
		linked := make(map[string]bool, len(img.Tags))

		for _, et := range img.Tags {
			name := normalize.TagName(et.Name)
			if name == "" {
				continue
			}

			catID := CategoryID(et)
			cat, ok := categories[catID]
			if !ok {
				nextCategory++
				cat = &domain.Category{
					ID:        catID,
					Name:      categoryName(catID, et),
					Color:     et.GroupColor,
					NameOnly:  et.GroupID == "" && catID != domain.DefaultCategoryID,
					SortOrder: nextCategory,
				}
				if cat.Color == "" {
					cat.Color = color.ForName(cat.Name)
					cat.DerivedColor = true
				}
				categories[catID] = cat
			}
			if !seenCategory[catID] {
				seenCategory[catID] = true
				touchedCategories = append(touchedCategories, catID)
			}

			tagID := TagID(name, catID)
			tag, ok := tags[tagID]
			if !ok {
				nextTag[catID]++
				tag = &domain.TagDocument{
					ID:         tagID,
					Name:       name,
					Color:      et.Color,
					CategoryID: catID,
					SortOrder:  nextTag[catID],
				}
				if tag.Color == "" {
					tag.Color = color.ForName(name)
					tag.DerivedColor = true
				}
				tags[tagID] = tag
				addToSet(tagsIn, catID, tagID)
			}
			if !seenTag[tagID] {
				seenTag[tagID] = true
				touchedTags = append(touchedTags, tagID)
			}

			if linked[tagID] {
				continue
			}
			links = append(links, &domain.ImageTagLink{
				ID:        domain.LinkID(img.ID, tagID),
				ImageID:   img.ID,
				TagID:     tagID,
				Position:  len(linked),
				CreatedAt: now,
			})
			linked[tagID] = true
			addToSet(usage, tagID, img.ID)
		}

		clear = append(clear, remote.Patch(domain.CollectionImages, img.ID, remote.Document{"tags": []any{}}))
	}

	records := make([]remote.Op, 0, len(touchedCategories)+len(touchedTags)+len(links))
	for _, id := range touchedCategories {
		c := categories[id]
		c.TagCount = len(tagsIn[id])
		c.UpdatedAt = now
		op, err := setOp(domain.CollectionCategories, c.ID, c)
		if err != nil {
			return nil, err
		}
		records = append(records, op)
	}
	for _, id := range touchedTags {
		t := tags[id]
		t.UsageCount = len(usage[id])
		t.UpdatedAt = now
		op, err := setOp(domain.CollectionTags, t.ID, t)
		if err != nil {
			return nil, err
		}
		records = append(records, op)
	}
	for _, l := range links {
		op, err := setOp(domain.CollectionImageTags, l.ID, l)
		if err != nil {
			return nil, err
		}
		records = append(records, op)
	}

	result.Categories = len(touchedCategories)
	result.Tags = len(touchedTags)
	result.Links = len(links)
	return &plan{
		phases: []phase{
			{name: PhaseRecords, ops: records, skipDone: true},
			{name: PhaseImages, ops: clear},
		},
		result: result,
	}, nil
}

func categoryName(id string, t domain.EmbeddedTag) string {
	switch {
	case id == domain.DefaultCategoryID:
		return domain.DefaultCategoryName
	case t.GroupName != "":
		return normalize.TagName(t.GroupName)
	default:
		return id
	}
}

func setOp(collection, id string, v any) (remote.Op, error) {
	doc, err := remote.Encode(v)
	if err != nil {
		return remote.Op{}, err
	}
	return remote.Set(collection, id, doc), nil
}

func addToSet(m map[string]map[string]bool, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]bool)
		m[key] = set
	}
	set[member] = true
}
