// Package normalize provides canonical forms for user-entered labels.
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// TagName returns the canonical form of a tag or group name: Unicode NFC,
// trimmed, with internal whitespace runs collapsed to one space.
// Case is preserved; "Red" and "red" are different tags.
//
// "  blue\tsky " -> "blue sky".
func TagName(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// SameTag reports whether two names are the same tag after normalization.
func SameTag(a, b string) bool {
	return TagName(a) == TagName(b)
}
