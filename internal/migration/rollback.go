package migration

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/remote"
)

// planRollback joins links to tags to categories, writes the embedded tag
// lists back onto the images and then deletes the normalized records. Tags an
// image still embeds are kept; counters are not carried back.
func (e *Engine) planRollback(ctx context.Context) (*plan, error) {
	snap, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	images := make(map[string]*domain.ImageDocument, len(snap.images))
	for _, img := range snap.images {
		images[img.ID] = img
	}
	categories := make(map[string]*domain.Category, len(snap.categories))
	for _, c := range snap.categories {
		categories[c.ID] = c
	}
	tags := make(map[string]*domain.TagDocument, len(snap.tags))
	for _, t := range snap.tags {
		tags[t.ID] = t
	}

	byImage := make(map[string][]*domain.ImageTagLink)
	for _, l := range snap.links {
		byImage[l.ImageID] = append(byImage[l.ImageID], l)
	}
	imageIDs := make([]string, 0, len(byImage))
	for id := range byImage {
		imageIDs = append(imageIDs, id)
	}
	slices.Sort(imageIDs)

	var (
		restore []remote.Op
		result  Result
	)
	for _, imageID := range imageIDs {
		img, ok := images[imageID]
		if !ok {
			e.logger.Warn("link points at a missing image; dropping it", "image_id", imageID)
			continue
		}
		imgLinks := byImage[imageID]
		slices.SortFunc(imgLinks, func(a, b *domain.ImageTagLink) int {
			return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.TagID, b.TagID))
		})

		embedded := slices.Clone(img.Tags)
		have := make(map[string]bool, len(embedded))
		for _, et := range embedded {
			have[embeddedKey(et)] = true
		}
		for _, l := range imgLinks {
			tag, ok := tags[l.TagID]
			if !ok {
				continue
			}
			et := domain.EmbeddedTag{Name: tag.Name}
			if !tag.DerivedColor {
				et.Color = tag.Color
			}
			if tag.CategoryID != domain.DefaultCategoryID {
				et.GroupID = tag.CategoryID
				if c, ok := categories[tag.CategoryID]; ok {
					et.GroupName = c.Name
					if c.NameOnly {
						et.GroupID = ""
					}
					if !c.DerivedColor {
						et.GroupColor = c.Color
					}
				}
			}
			if have[embeddedKey(et)] {
				continue
			}
			have[embeddedKey(et)] = true
			embedded = append(embedded, et)
		}

		value, err := jsonValue(embedded)
		if err != nil {
			return nil, err
		}
		restore = append(restore, remote.Patch(domain.CollectionImages, imageID, remote.Document{"tags": value}))
		result.Images++
	}

	deletes := make([]remote.Op, 0, len(snap.links)+len(snap.tags)+len(snap.categories))
	for _, l := range snap.links {
		deletes = append(deletes, remote.Remove(domain.CollectionImageTags, l.ID))
	}
	for _, t := range snap.tags {
		deletes = append(deletes, remote.Remove(domain.CollectionTags, t.ID))
	}
	for _, c := range snap.categories {
		deletes = append(deletes, remote.Remove(domain.CollectionCategories, c.ID))
	}

	result.Links = len(snap.links)
	result.Tags = len(snap.tags)
	result.Categories = len(snap.categories)
	return &plan{
		phases: []phase{
			{name: PhaseImages, ops: restore, skipDone: true},
			{name: PhaseDelete, ops: deletes},
		},
		result: result,
	}, nil
}

func embeddedKey(t domain.EmbeddedTag) string {
	return t.Name + "\x00" + CategoryID(t)
}

// jsonValue converts v to the plain JSON form documents hold.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "encode embedded tags")
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "encode embedded tags")
	}
	return out, nil
}
