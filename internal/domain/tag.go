package domain

// Tag is a named, colored label. GroupID is a weak reference: deleting the
// group clears it instead of deleting the tag.
type Tag struct {
	Syncable
	Name      string `json:"name" validate:"required"`
	Color     string `json:"color" validate:"omitempty,hexcolor"`
	GroupID   string `json:"groupId,omitempty"`
	SortOrder int    `json:"sortOrder"`
	// UsageCount is derived and never authoritative.
	UsageCount int `json:"usageCount"`
}

func (*Tag) record()                     {}
func (*Tag) Kind() Kind                  { return KindTag }
func (t *Tag) SortScope() string         { return t.GroupID }
func (t *Tag) SortPosition() int         { return t.SortOrder }
func (t *Tag) SetSortPosition(order int) { t.SortOrder = order }

// TagGroup groups tags for display. It becomes a Category after migration.
type TagGroup struct {
	Syncable
	Name      string `json:"name" validate:"required"`
	Color     string `json:"color" validate:"omitempty,hexcolor"`
	SortOrder int    `json:"sortOrder"`
	TagCount  int    `json:"tagCount"` // Derived
}

func (*TagGroup) record()                     {}
func (*TagGroup) Kind() Kind                  { return KindTagGroup }
func (*TagGroup) SortScope() string           { return "" }
func (g *TagGroup) SortPosition() int         { return g.SortOrder }
func (g *TagGroup) SetSortPosition(order int) { g.SortOrder = order }
