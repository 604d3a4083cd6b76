package domain

// Image is a gallery entry.
type Image struct {
	Syncable
	URL   string `json:"url" validate:"required"`
	Title string `json:"title"`
	// PromptBlockIDs is a denormalized copy of the owned block ids in display order.
	PromptBlockIDs []string `json:"promptBlockIds"`
	Tags           []string `json:"tags"` // Tag names
	SortOrder      int      `json:"sortOrder"`
	BlurHash       string   `json:"blurHash,omitempty"`
	IsLocal        bool     `json:"isLocal"`
	IsPendingSync  bool     `json:"isPendingSync"`
}

func (*Image) record()                     {}
func (*Image) Kind() Kind                  { return KindImage }
func (*Image) SortScope() string           { return "" }
func (i *Image) SortPosition() int         { return i.SortOrder }
func (i *Image) SetSortPosition(order int) { i.SortOrder = order }

// IsPending reports whether the image still awaits confirmation by the remote store.
func (i *Image) IsPending() bool {
	return i.IsLocal || i.IsPendingSync
}

// HasTag reports whether the image references the tag name.
func (i *Image) HasTag(name string) bool {
	for _, t := range i.Tags {
		if t == name {
			return true
		}
	}
	return false
}

// Titles of the blocks every new image starts with when none are supplied.
const (
	BlockTitlePrompt         = "Prompt"
	BlockTitleNegativePrompt = "Negative Prompt"
	BlockTitleParameters     = "Parameters"
)

// TemplateBlockTitles returns the default block titles in display order.
func TemplateBlockTitles() []string {
	return []string{BlockTitlePrompt, BlockTitleNegativePrompt, BlockTitleParameters}
}

// PromptBlock is a titled text block owned by an Image.
type PromptBlock struct {
	Syncable
	ImageID   string `json:"imageId" validate:"required"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	SortOrder int    `json:"sortOrder"`
}

func (*PromptBlock) record()                     {}
func (*PromptBlock) Kind() Kind                  { return KindPromptBlock }
func (b *PromptBlock) SortScope() string         { return b.ImageID }
func (b *PromptBlock) SortPosition() int         { return b.SortOrder }
func (b *PromptBlock) SetSortPosition(order int) { b.SortOrder = order }

// CachedBlob holds the binary payload of an image, keyed by the image id.
// It is a cache and never authoritative.
type CachedBlob struct {
	Syncable
	Data      []byte `json:"data" validate:"required"`
	Extension string `json:"extension" validate:"required"`
	CachedAt  int64  `json:"cachedAt"` // Unix milliseconds
	BlurHash  string `json:"blurHash,omitempty"`
}

func (*CachedBlob) record()    {}
func (*CachedBlob) Kind() Kind { return KindCachedBlob }
