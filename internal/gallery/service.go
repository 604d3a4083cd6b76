// Package gallery is the data service of the gallery core: the only component
// allowed to read and write the local store. It assigns ids, timestamps and sort
// positions and applies the cascade and detach rules.
package gallery

import (
	"context"
	"log/slog"
	"time"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/gallery/internal/localstore"
	"github.com/listenupapp/gallery/internal/id"
	"github.com/listenupapp/gallery/internal/logger"
	"github.com/listenupapp/gallery/internal/search"
)

// DefaultCacheRetention is how long cached blobs are kept when no retention is configured.
const DefaultCacheRetention = 7 * 24 * time.Hour

// Options configures Open.
type Options struct {
	// StorePath is the Badger directory. Empty runs the service degraded:
	// writes are dropped and reads return nothing.
	StorePath      string
	CacheRetention time.Duration
	// Index keeps image search in step with writes. Nil disables the index;
	// SearchImages then falls back to a scan.
	Index  *search.Index
	Logger *slog.Logger
}

// Service is the data service. Construct one with Open and share it.
type Service struct {
	store          *localstore.Store
	index          *search.Index
	cacheRetention time.Duration
	logger         *slog.Logger
}

// Open opens the local store and returns the service.
func Open(opts Options) *Service {
	log := logger.OrDiscard(opts.Logger)
	retention := opts.CacheRetention
	if retention <= 0 {
		retention = DefaultCacheRetention
	}
	return &Service{
		store:          localstore.Open(opts.StorePath, log.With("component", "localstore")),
		index:          opts.Index,
		cacheRetention: retention,
		logger:         log,
	}
}

// Close closes the local store. The search index is owned by the caller.
func (s *Service) Close() error {
	return s.store.Close()
}

// Available reports whether the local store is running.
func (s *Service) Available() bool {
	return s.store.Available()
}

func newID(prefix string) (string, error) {
	v, err := id.Generate(prefix)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeInternal, "generate id")
	}
	return v, nil
}

// notFoundAsNil turns a not-found error into a nil result.
func notFoundAsNil[T any](v *T, err error) (*T, error) {
	if domainerrors.Is(err, domainerrors.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// reorder moves the record of type T with id to order inside its scope. When
// another record already holds order the two swap positions. expectedVersion,
// when non-zero, must match the stored version. after, when set, runs in the
// same transaction once the record is written.
func reorder[T any, P interface {
	*T
	domain.Sortable
}](ctx context.Context, s *Service, recID string, order int, expectedVersion int64, after func(*localstore.Tx, P) error) (P, error) {
	var out P
	err := s.store.Update(ctx, func(tx *localstore.Tx) error {
		rec, err := localstore.Get[T, P](tx, recID)
		if err != nil {
			return err
		}
		if expectedVersion != 0 && rec.RecordVersion() != expectedVersion {
			return domainerrors.Conflictf("%s %s changed since it was read (version %d, now %d)",
				rec.Kind(), recID, expectedVersion, rec.RecordVersion())
		}

		from := rec.SortPosition()
		if order == from {
			out = rec
			return nil
		}

		if order != domain.Unsorted {
			occupants, err := tx.AtPosition(rec.Kind(), rec.SortScope(), order)
			if err != nil {
				return err
			}
			for _, o := range occupants {
				if o.RecordID() == recID {
					continue
				}
				other, ok := o.(domain.Sortable)
				if !ok {
					continue
				}
				other.SetSortPosition(from)
				other.Touch()
				if err := tx.Put(other); err != nil {
					return err
				}
			}
		}

		rec.SetSortPosition(order)
		rec.Touch()
		if err := tx.Put(rec); err != nil {
			return err
		}
		if after != nil {
			if err := after(tx, rec); err != nil {
				return err
			}
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
