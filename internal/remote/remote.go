// Package remote defines the contract of the authoritative document database
// the sync and migration engines write to.
//
// A Store holds JSON-shaped documents grouped in named collections and keyed
// by string ids. Implementations live in the sqldoc (SQLite, Postgres) and
// mongostore (MongoDB) subpackages. Every driver failure surfaces as an error
// with code NETWORK so callers can tell "try again later" from a bad request.
package remote

import (
	"context"
	"fmt"

	domainerrors "github.com/listenupapp/gallery/internal/errors"
)

// DefaultMaxBatchSize caps BatchWrite when a backend has no configured limit.
const DefaultMaxBatchSize = 500

// Store is the remote document database.
type Store interface {
	// Create inserts doc and returns its id. A doc without an "id" field gets a
	// generated one. Creating an id that already exists is a conflict.
	Create(ctx context.Context, collection string, doc Document) (string, error)

	// Get returns the document or nil when it does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Update merges the top-level fields of patch into an existing document.
	Update(ctx context.Context, collection, id string, patch Document) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Query returns the documents whose fields equal every value in where,
	// ordered by id. A nil filter returns the whole collection.
	Query(ctx context.Context, collection string, where Filter) ([]Document, error)

	// BatchWrite applies ops atomically: all of them or none.
	// len(ops) must not exceed MaxBatchSize.
	BatchWrite(ctx context.Context, ops []Op) error

	// MaxBatchSize is the largest batch BatchWrite accepts.
	MaxBatchSize() int

	Close() error
}

// Filter matches documents by top-level field equality.
type Filter map[string]any

// OpKind is the kind of a batched write.
type OpKind int

const (
	// OpSet writes the whole document, creating it if needed.
	OpSet OpKind = iota
	// OpUpdate merges fields into an existing document.
	OpUpdate
	// OpDelete removes a document.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Op is one write in a batch.
type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Doc        Document
}

// Set returns an OpSet.
func Set(collection, id string, doc Document) Op {
	return Op{Kind: OpSet, Collection: collection, ID: id, Doc: doc}
}

// Patch returns an OpUpdate.
func Patch(collection, id string, fields Document) Op {
	return Op{Kind: OpUpdate, Collection: collection, ID: id, Doc: fields}
}

// Remove returns an OpDelete.
func Remove(collection, id string) Op {
	return Op{Kind: OpDelete, Collection: collection, ID: id}
}

// Validate checks that op names a collection and a document.
func (op Op) Validate() error {
	if op.Collection == "" || op.ID == "" {
		return domainerrors.Validationf("%s op needs a collection and an id", op.Kind)
	}
	if op.Kind != OpDelete && op.Doc == nil {
		return domainerrors.Validationf("%s op on %s/%s has no document", op.Kind, op.Collection, op.ID)
	}
	return nil
}

// CheckBatch validates every op and the batch size against limit.
func CheckBatch(ops []Op, limit int) error {
	if len(ops) > limit {
		return domainerrors.Validationf("batch of %d ops exceeds the limit of %d", len(ops), limit)
	}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CheckKey validates a collection and document id pair.
func CheckKey(collection, id string) error {
	if collection == "" {
		return domainerrors.Validation("collection is required")
	}
	if id == "" {
		return domainerrors.Validationf("document id is required in %s", collection)
	}
	return nil
}

// Unreachable wraps a driver failure as a NETWORK error.
func Unreachable(err error, op string) error {
	if err == nil {
		return nil
	}
	return domainerrors.Wrap(err, domainerrors.CodeNetwork, "remote "+op)
}
