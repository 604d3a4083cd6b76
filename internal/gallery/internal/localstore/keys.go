package localstore

import (
	"fmt"

	"github.com/listenupapp/gallery/internal/domain"
)

// Key prefixes, one per record kind.
const (
	imagePrefix       = "image:"
	promptBlockPrefix = "block:"
	tagPrefix         = "tag:"
	tagGroupPrefix    = "group:"
	cachedBlobPrefix  = "blob:"
)

// Index names usable with ByIndex.
const (
	IndexParent = "parent" // PromptBlock by ImageID
	IndexGroup  = "group"  // Tag by GroupID ("" for ungrouped)
	IndexName   = "name"   // Tag and TagGroup by normalized name
	IndexSort   = "sort"   // Every sortable kind by scope, ordered by position
)

// sep terminates index values so a value can never be a prefix of another.
const sep = "\x00"

func prefixFor(k domain.Kind) string {
	switch k {
	case domain.KindImage:
		return imagePrefix
	case domain.KindPromptBlock:
		return promptBlockPrefix
	case domain.KindTag:
		return tagPrefix
	case domain.KindTagGroup:
		return tagGroupPrefix
	case domain.KindCachedBlob:
		return cachedBlobPrefix
	}
	return ""
}

// indexPrefix is the key prefix shared by every entry of index name with the given value.
//
//	image:idx:sort:<scope>\x00
func indexPrefix(prefix, name, value string) []byte {
	return []byte(prefix + "idx:" + name + ":" + value + sep)
}

// indexKey is the full key of one index entry. The id suffix lets many records share a value.
func indexKey(prefix, name, value, id string) []byte {
	return append(indexPrefix(prefix, name, value), id...)
}

// sortValue is the sort index value for a position inside scope. The position is
// encoded so byte order matches numeric order, negatives included.
func sortValue(scope string, order int) string {
	return scope + sep + encodeOrder(order)
}

func encodeOrder(order int) string {
	return fmt.Sprintf("%016x", uint64(int64(order))^(1<<63))
}

func decodeOrder(s string) (int, error) {
	var u uint64
	if _, err := fmt.Sscanf(s, "%016x", &u); err != nil {
		return 0, fmt.Errorf("decode sort position %q: %w", s, err)
	}
	return int(int64(u ^ (1 << 63))), nil
}
