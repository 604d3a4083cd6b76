package migration

import (
	"github.com/google/uuid"

	"github.com/listenupapp/gallery/internal/domain"
	"github.com/listenupapp/gallery/internal/normalize"
)

// Namespaces seeding the name-based UUIDs of migrated records.
var (
	tagNamespace      = uuid.MustParse("6f1c2b0e-5d0a-4c1e-9a57-3b8f4e2d7c10")
	categoryNamespace = uuid.MustParse("b3e0a7d4-2c61-4f8e-8d15-7a9c0e4f1b62")
)

// CategoryID returns the category of an embedded tag: its group id, a
// category derived from its group name when it has no id, or the default
// category when it names no group at all.
func CategoryID(t domain.EmbeddedTag) string {
	if t.GroupID != "" {
		return t.GroupID
	}
	if name := normalize.TagName(t.GroupName); name != "" {
		return NamedCategoryID(name)
	}
	return domain.DefaultCategoryID
}

// NamedCategoryID returns the id of the category for a group known only by
// name. Names that normalize alike share one category.
func NamedCategoryID(groupName string) string {
	return "cat-" + uuid.NewSHA1(categoryNamespace, []byte(normalize.TagName(groupName))).String()
}

// TagID returns the id of the tag with name in categoryID. The id depends
// only on the normalized name and the category, so every run and every
// image maps the same pair to the same tag.
func TagID(name, categoryID string) string {
	key := normalize.TagName(name) + "\x00" + categoryID
	return "tag-" + uuid.NewSHA1(tagNamespace, []byte(key)).String()
}
