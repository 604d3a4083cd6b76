package gallery

import (
	"context"
	"slices"

	"github.com/listenupapp/gallery/internal/color"
	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/gallery/internal/localstore"
	"github.com/listenupapp/gallery/internal/id"
	"github.com/listenupapp/gallery/internal/normalize"
)

// AddTag stores a new tag at the end of its group. A tag without a color gets
// the default color for its name. A non-empty GroupID must name an existing group.
func (s *Service) AddTag(ctx context.Context, tag *domain.Tag) (*domain.Tag, error) {
	if tag == nil {
		return nil, domainerrors.Validation("tag is required")
	}
	tagID, err := newID(id.PrefixTag)
	if err != nil {
		return nil, err
	}
	tag.ID = tagID
	tag.Name = normalize.TagName(tag.Name)
	if tag.Color == "" {
		tag.Color = color.ForName(tag.Name)
	}
	tag.InitTimestamps()
	tag.Version = 0
	tag.SortOrder = domain.Unsorted
	tag.UsageCount = 0

	var out *domain.Tag
	err = s.store.Update(ctx, func(tx *localstore.Tx) error {
		if err := requireGroup(tx, tag.GroupID); err != nil {
			return err
		}
		if err := tx.Put(tag); err != nil {
			return err
		}
		out = tag
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTag returns the tag with id or a not-found error.
func (s *Service) GetTag(ctx context.Context, tagID string) (*domain.Tag, error) {
	var out *domain.Tag
	err := s.store.View(ctx, func(tx *localstore.Tx) error {
		var err error
		out, err = localstore.Get[domain.Tag](tx, tagID)
		return err
	})
	return out, err
}

// FindTagsByName returns every tag with the given name, across groups.
func (s *Service) FindTagsByName(ctx context.Context, name string) ([]*domain.Tag, error) {
	var out []*domain.Tag
	err := s.store.View(ctx, func(tx *localstore.Tx) error {
		var err error
		out, err = localstore.List[domain.Tag](tx, localstore.IndexName, normalize.TagName(name))
		return err
	})
	return out, err
}

// ListTags returns every tag ordered by group then position, with UsageCount
// derived from the images.
func (s *Service) ListTags(ctx context.Context) ([]*domain.Tag, error) {
	var out []*domain.Tag
	err := s.store.View(ctx, func(tx *localstore.Tx) error {
		var err error
		out, err = localstore.List[domain.Tag](tx, "", "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.withUsage(ctx, out)
}

// ListTagsInGroup returns the tags of one group in order. An empty groupID
// lists the ungrouped tags.
func (s *Service) ListTagsInGroup(ctx context.Context, groupID string) ([]*domain.Tag, error) {
	var out []*domain.Tag
	err := s.store.View(ctx, func(tx *localstore.Tx) error {
		var err error
		out, err = localstore.List[domain.Tag](tx, localstore.IndexSort, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.withUsage(ctx, out)
}

func (s *Service) withUsage(ctx context.Context, tags []*domain.Tag) ([]*domain.Tag, error) {
	if len(tags) == 0 {
		return tags, nil
	}
	counts, err := s.tagUsage(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		t.UsageCount = counts[normalize.TagName(t.Name)]
	}
	return tags, nil
}

// UpdateTag writes the caller's copy of a tag, which must carry the version it
// was read at. Renaming a tag renames it on every image; moving it to another
// group appends it to that group.
func (s *Service) UpdateTag(ctx context.Context, tag *domain.Tag) (*domain.Tag, error) {
	if tag == nil {
		return nil, domainerrors.Validation("tag is required")
	}
	tag.Name = normalize.TagName(tag.Name)

	var (
		out     *domain.Tag
		touched []string
	)
	err := s.store.Update(ctx, func(tx *localstore.Tx) error {
		current, err := localstore.Get[domain.Tag](tx, tag.ID)
		if err != nil {
			return err
		}
		if err := requireGroup(tx, tag.GroupID); err != nil {
			return err
		}

		tag.CreatedAt = current.CreatedAt
		tag.UsageCount = 0
		if tag.GroupID != current.GroupID {
			tag.SortOrder = domain.Unsorted
		} else {
			tag.SortOrder = current.SortOrder
		}
		if tag.Color == "" {
			tag.Color = color.ForName(tag.Name)
		}
		tag.Touch()
		if err := tx.Put(tag); err != nil {
			return err
		}

		if tag.Name != current.Name {
			touched, err = renameOnImages(tx, current.Name, tag.Name)
			if err != nil {
				return err
			}
		}
		out = tag
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, imageID := range touched {
		s.reindexImage(ctx, imageID)
	}
	return out, nil
}

// DeleteTag removes a tag. Its name is dropped from every image unless another
// tag with the same name remains.
func (s *Service) DeleteTag(ctx context.Context, tagID string) error {
	var touched []string
	err := s.store.Update(ctx, func(tx *localstore.Tx) error {
		tag, err := localstore.Get[domain.Tag](tx, tagID)
		if domainerrors.Is(err, domainerrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(domain.KindTag, tagID); err != nil {
			return err
		}

		same, err := localstore.List[domain.Tag](tx, localstore.IndexName, normalize.TagName(tag.Name))
		if err != nil {
			return err
		}
		if len(same) == 0 {
			touched, err = renameOnImages(tx, tag.Name, "")
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, imageID := range touched {
		s.reindexImage(ctx, imageID)
	}
	return nil
}

// UpdateTagSortOrder moves a tag inside its group, swapping with the tag that
// holds order.
func (s *Service) UpdateTagSortOrder(ctx context.Context, tagID string, order int, expectedVersion int64) (*domain.Tag, error) {
	return reorder[domain.Tag](ctx, s, tagID, order, expectedVersion, nil)
}

// AddTagGroup stores a new tag group at the end of the group list.
func (s *Service) AddTagGroup(ctx context.Context, group *domain.TagGroup) (*domain.TagGroup, error) {
	if group == nil {
		return nil, domainerrors.Validation("tag group is required")
	}
	groupID, err := newID(id.PrefixTagGroup)
	if err != nil {
		return nil, err
	}
	group.ID = groupID
	group.Name = normalize.TagName(group.Name)
	if group.Color == "" {
		group.Color = color.ForName(group.Name)
	}
	group.InitTimestamps()
	group.Version = 0
	group.SortOrder = domain.Unsorted
	group.TagCount = 0

	var out *domain.TagGroup
	err = s.store.Update(ctx, func(tx *localstore.Tx) error {
		if err := tx.Put(group); err != nil {
			return err
		}
		out = group
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTagGroup returns the group with id, with TagCount derived.
func (s *Service) GetTagGroup(ctx context.Context, groupID string) (*domain.TagGroup, error) {
	var out *domain.TagGroup
	err := s.store.View(ctx, func(tx *localstore.Tx) error {
		g, err := localstore.Get[domain.TagGroup](tx, groupID)
		if err != nil {
			return err
		}
		if err := countTags(tx, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	return out, err
}

// ListTagGroups returns every group in order, with TagCount derived.
func (s *Service) ListTagGroups(ctx context.Context) ([]*domain.TagGroup, error) {
	var out []*domain.TagGroup
	err := s.store.View(ctx, func(tx *localstore.Tx) error {
		groups, err := localstore.List[domain.TagGroup](tx, "", "")
		if err != nil {
			return err
		}
		for _, g := range groups {
			if err := countTags(tx, g); err != nil {
				return err
			}
		}
		out = groups
		return nil
	})
	return out, err
}

// UpdateTagGroup writes the caller's copy of a group, which must carry the
// version it was read at.
func (s *Service) UpdateTagGroup(ctx context.Context, group *domain.TagGroup) (*domain.TagGroup, error) {
	if group == nil {
		return nil, domainerrors.Validation("tag group is required")
	}
	group.Name = normalize.TagName(group.Name)

	var out *domain.TagGroup
	err := s.store.Update(ctx, func(tx *localstore.Tx) error {
		current, err := localstore.Get[domain.TagGroup](tx, group.ID)
		if err != nil {
			return err
		}
		group.CreatedAt = current.CreatedAt
		group.SortOrder = current.SortOrder
		group.TagCount = 0
		if group.Color == "" {
			group.Color = color.ForName(group.Name)
		}
		group.Touch()
		if err := tx.Put(group); err != nil {
			return err
		}
		out = group
		return countTags(tx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTagGroup removes a group. Its tags survive without a group.
func (s *Service) DeleteTagGroup(ctx context.Context, groupID string) error {
	detached, err := s.store.DeleteTagGroupDetach(ctx, groupID)
	if err != nil {
		return err
	}
	s.logger.Debug("tag group deleted", "group_id", groupID, "tags_detached", detached)
	return nil
}

// UpdateTagGroupSortOrder moves a group, swapping with the group that holds order.
func (s *Service) UpdateTagGroupSortOrder(ctx context.Context, groupID string, order int, expectedVersion int64) (*domain.TagGroup, error) {
	return reorder[domain.TagGroup](ctx, s, groupID, order, expectedVersion, nil)
}

func requireGroup(tx *localstore.Tx, groupID string) error {
	if groupID == "" {
		return nil
	}
	_, err := localstore.Get[domain.TagGroup](tx, groupID)
	return err
}

func countTags(tx *localstore.Tx, g *domain.TagGroup) error {
	tags, err := localstore.List[domain.Tag](tx, localstore.IndexGroup, g.ID)
	if err != nil {
		return err
	}
	g.TagCount = len(tags)
	return nil
}

// renameOnImages replaces tag name from with to on every image carrying it; an
// empty to removes the name. It returns the ids of the images changed.
func renameOnImages(tx *localstore.Tx, from, to string) ([]string, error) {
	images, err := localstore.List[domain.Image](tx, "", "")
	if err != nil {
		return nil, err
	}
	from = normalize.TagName(from)

	var changed []string
	for _, img := range images {
		i := slices.IndexFunc(img.Tags, func(t string) bool { return normalize.TagName(t) == from })
		if i < 0 {
			continue
		}
		if to == "" || slices.Contains(img.Tags, to) {
			img.Tags = slices.Delete(img.Tags, i, i+1)
		} else {
			img.Tags[i] = to
		}
		img.IsPendingSync = true
		img.Touch()
		if err := tx.Put(img); err != nil {
			return nil, err
		}
		changed = append(changed, img.ID)
	}
	return changed, nil
}
