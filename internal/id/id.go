// Package id generates record identifiers.
package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for locally generated record ids.
const (
	PrefixImage       = "img"
	PrefixPromptBlock = "blk"
	PrefixTag         = "tag"
	PrefixTagGroup    = "grp"
)

// Generate creates a prefixed unique ID using NanoID
// Format: prefix-nanoid (e.g., "img-V1StGXR8_Z5jdHi6B-myT").
//
// Returns an error if the system has insufficient entropy for secure random generation.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// Document returns an id for a document created in the remote store.
// Remote ids are UUIDs so they never collide with local nanoid ids.
func Document() string {
	return uuid.NewString()
}

// Run returns an identifier for one migration run.
func Run() string {
	return "run-" + uuid.NewString()
}
