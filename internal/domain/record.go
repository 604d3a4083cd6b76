package domain

// Kind identifies one of the record kinds held by the local store.
type Kind string

// Record kinds.
const (
	KindImage       Kind = "image"
	KindPromptBlock Kind = "prompt_block"
	KindTag         Kind = "tag"
	KindTagGroup    Kind = "tag_group"
	KindCachedBlob  Kind = "cached_blob"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindPromptBlock, KindTag, KindTagGroup, KindCachedBlob:
		return true
	}
	return false
}

// Unsorted is the sort order of a record that has no explicit position yet.
// The store replaces it with max(scope)+1 on write.
const Unsorted = 0

// Record is implemented by the five local record types and nothing else.
type Record interface {
	RecordID() string
	Kind() Kind
	RecordVersion() int64
	SetVersion(v int64)
	Touch()
	record()
}

// Sortable is a Record with a position inside a sort scope.
// An empty scope is the global scope.
type Sortable interface {
	Record
	SortScope() string
	SortPosition() int
	SetSortPosition(order int)
}
