package domain

import (
	"encoding/json"
	"time"
)

// Remote collections.
const (
	CollectionImages     = "images"
	CollectionCategories = "categories"
	CollectionTags       = "tags"
	CollectionImageTags  = "imageTags"
	CollectionMigrations = "migrations"
)

// DefaultCategoryID is the category of tags that carry no group.
const DefaultCategoryID = "default"

// DefaultCategoryName is the display name of the default category.
const DefaultCategoryName = "Uncategorized"

// EmbeddedTag is the legacy denormalized tag stored inline on an image document.
// Older documents store a bare tag name; UnmarshalJSON accepts both forms.
type EmbeddedTag struct {
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	GroupName  string `json:"groupName,omitempty"`
	GroupColor string `json:"groupColor,omitempty"`
}

// UnmarshalJSON decodes either an object or a bare string.
func (t *EmbeddedTag) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*t = EmbeddedTag{Name: name}
		return nil
	}
	type plain EmbeddedTag
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = EmbeddedTag(p)
	return nil
}

// EmbeddedBlock is a prompt block carried inline on a remote image document.
type EmbeddedBlock struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	SortOrder int    `json:"sortOrder"`
}

// ImageDocument is the remote representation of an Image.
// ClientID is the local id the document was pushed from; a repeated push uses
// it to find the document created by an earlier attempt.
type ImageDocument struct {
	ID           string          `json:"id,omitempty"`
	ClientID     string          `json:"clientId,omitempty"`
	URL          string          `json:"url"`
	Title        string          `json:"title"`
	Tags         []EmbeddedTag   `json:"tags"`
	PromptBlocks []EmbeddedBlock `json:"promptBlocks,omitempty"`
	SortOrder    int             `json:"sortOrder"`
	BlurHash     string          `json:"blurHash,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// TagNames returns the names of the embedded tags in order.
func (d *ImageDocument) TagNames() []string {
	names := make([]string, 0, len(d.Tags))
	for _, t := range d.Tags {
		names = append(names, t.Name)
	}
	return names
}

// Category is the normalized replacement for TagGroup.
//
// NameOnly marks a category created from embedded tags that named a group
// without giving its id. DerivedColor marks a color computed from the name
// because the embedded tags carried none.
type Category struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Color        string    `json:"color,omitempty"`
	DerivedColor bool      `json:"derivedColor,omitempty"`
	NameOnly     bool      `json:"nameOnly,omitempty"`
	SortOrder    int       `json:"sortOrder"`
	TagCount     int       `json:"tagCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TagDocument is the normalized remote tag.
// DerivedColor has the meaning it has on Category.
type TagDocument struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Color        string    `json:"color,omitempty"`
	DerivedColor bool      `json:"derivedColor,omitempty"`
	CategoryID   string    `json:"categoryId"`
	SortOrder    int       `json:"sortOrder"`
	UsageCount   int       `json:"usageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ImageTagLink joins an image to a normalized tag. Position is the index of
// the tag in the image's embedded list it was migrated from.
type ImageTagLink struct {
	ID        string    `json:"id"`
	ImageID   string    `json:"imageId"`
	TagID     string    `json:"tagId"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

// LinkID returns the deterministic id of the link between an image and a tag.
func LinkID(imageID, tagID string) string {
	return imageID + "_" + tagID
}
