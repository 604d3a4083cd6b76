// Package localstore is the embedded, indexed object store behind the gallery
// data service. It lives under gallery/internal so no other package can write to it.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/logger"
	"github.com/listenupapp/gallery/internal/normalize"
	"github.com/listenupapp/gallery/internal/validation"
)

// entityOps is the kind-independent view of an Entity.
type entityOps interface {
	get(txn *badger.Txn, id string) (domain.Record, error)
	put(txn *badger.Txn, rec domain.Record, undo *undoLog) error
	delete(txn *badger.Txn, id string) (domain.Record, error)
	all(txn *badger.Txn) ([]domain.Record, error)
	byIndex(txn *badger.Txn, name, value string) ([]domain.Record, error)
	edge(txn *badger.Txn, scope string, last bool) (int, bool, error)
}

// Store wraps a Badger database holding every local record kind.
//
// A Store whose engine could not be opened is degraded: every operation is a
// no-op returning empty results and a nil error. The first such call logs a warning.
type Store struct {
	db        *badger.DB
	logger    *slog.Logger
	validator *validation.Validator
	entities  map[domain.Kind]entityOps

	reason   string
	warnOnce sync.Once
}

// Open opens the store at path. It never fails: when path is empty or Badger
// cannot open the directory the returned store is degraded.
func Open(path string, log *slog.Logger) *Store {
	s := &Store{
		logger:    logger.OrDiscard(log),
		validator: validation.New(),
	}
	s.initEntities()

	if path == "" {
		s.reason = "no storage path configured"
		return s
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		s.reason = fmt.Sprintf("open %s: %v", path, err)
		s.degraded()
		return s
	}

	s.db = db
	s.logger.Info("local store opened", "path", path)
	return s
}

// Close gracefully closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info("closing local store")
	return s.db.Close()
}

// Available reports whether the storage engine is running.
func (s *Store) Available() bool {
	return s.db != nil
}

func (s *Store) degraded() bool {
	if s.db != nil {
		return false
	}
	s.warnOnce.Do(func() {
		s.logger.Warn("local store unavailable, operations are no-ops", "reason", s.reason)
	})
	return true
}

func (s *Store) initEntities() {
	s.entities = map[domain.Kind]entityOps{
		domain.KindImage: NewEntity[domain.Image]().
			WithSortIndex(),
		domain.KindPromptBlock: NewEntity[domain.PromptBlock]().
			WithIndex(IndexParent, func(b *domain.PromptBlock) []string {
				return []string{b.ImageID}
			}).
			WithSortIndex(),
		domain.KindTag: NewEntity[domain.Tag]().
			WithIndex(IndexGroup, func(t *domain.Tag) []string {
				return []string{t.GroupID}
			}).
			WithIndex(IndexName, func(t *domain.Tag) []string {
				return []string{normalize.TagName(t.Name)}
			}).
			WithSortIndex(),
		domain.KindTagGroup: NewEntity[domain.TagGroup]().
			WithIndex(IndexName, func(g *domain.TagGroup) []string {
				return []string{normalize.TagName(g.Name)}
			}).
			WithSortIndex(),
		domain.KindCachedBlob: NewEntity[domain.CachedBlob](),
	}
}

func (s *Store) entity(k domain.Kind) (entityOps, error) {
	e, ok := s.entities[k]
	if !k.Valid() || !ok {
		return nil, domainerrors.Validationf("unknown record kind %q", k)
	}
	return e, nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.degraded() {
		return nil
	}
	var fnErr error
	err := s.db.View(func(txn *badger.Txn) error {
		fnErr = fn(&Tx{ctx: ctx, store: s, txn: txn})
		return fnErr
	})
	if fnErr != nil {
		return err
	}
	return engineError(err)
}

// Update runs fn in a read-write transaction. Every write made through the Tx
// commits together or not at all.
//
// A transaction that loses a commit race with another writer is run again
// from the start, up to maxUpdateAttempts times; fn must therefore read what
// it depends on through the Tx. Versions and positions assigned to records
// passed to Tx.Put are reset before each new attempt and whenever the
// transaction fails, so a caller-supplied version still has to match what is
// stored and a stale one fails with a conflict error.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.degraded() {
		return nil
	}

	var err error
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		tx := &Tx{ctx: ctx, store: s, writable: true}
		var fnErr error
		err = s.db.Update(func(txn *badger.Txn) error {
			tx.txn = txn
			fnErr = fn(tx)
			return fnErr
		})
		if err == nil {
			return nil
		}
		tx.undo.rollback()
		switch {
		case fnErr != nil:
			return err
		case !errors.Is(err, badger.ErrConflict):
			return engineError(err)
		}
		if err := sleepCtx(ctx, conflictBackoff(attempt)); err != nil {
			return err
		}
	}
	s.logger.Warn("transaction kept conflicting, giving up", "attempts", maxUpdateAttempts)
	return domainerrors.Wrap(err, domainerrors.CodeConflict, "concurrent write to the same records")
}

// engineError gives a failure of the storage engine the cache code. Domain
// errors and context errors pass through unchanged.
func engineError(err error) error {
	var domainErr *domainerrors.Error
	if err == nil || errors.As(err, &domainErr) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domainerrors.Wrap(err, domainerrors.CodeCache, "local store")
}

// maxUpdateAttempts bounds how often Update re-runs a conflicting transaction.
const maxUpdateAttempts = 50

// conflictBackoff spreads competing writers apart: up to attempt milliseconds, capped at 20.
func conflictBackoff(attempt int) time.Duration {
	return time.Duration(rand.IntN(min(attempt, 20))+1) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Put validates and writes rec, assigning a sort position when it has none.
// The returned record carries the stored version.
func (s *Store) Put(ctx context.Context, rec domain.Record) (domain.Record, error) {
	var out domain.Record
	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the record of kind with id, or a not-found error.
func (s *Store) Get(ctx context.Context, kind domain.Kind, id string) (domain.Record, error) {
	var out domain.Record
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Get(kind, id)
		return err
	})
	return out, err
}

// All returns every record of kind, in sort order for sortable kinds.
func (s *Store) All(ctx context.Context, kind domain.Kind) ([]domain.Record, error) {
	var out []domain.Record
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.All(kind)
		return err
	})
	return out, err
}

// ByIndex returns every record of kind whose index entry equals value.
func (s *Store) ByIndex(ctx context.Context, kind domain.Kind, index, value string) ([]domain.Record, error) {
	var out []domain.Record
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.ByIndex(kind, index, value)
		return err
	})
	return out, err
}

// Delete removes the record of kind with id. Missing records are ignored.
func (s *Store) Delete(ctx context.Context, kind domain.Kind, id string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Delete(kind, id)
	})
}

// Tx is a transaction handle passed to View and Update callbacks.
type Tx struct {
	ctx      context.Context
	store    *Store
	txn      *badger.Txn
	writable bool
	undo     undoLog
}

// undoLog collects the changes a transaction made to caller-owned records.
type undoLog []func()

func (u *undoLog) add(fn func()) {
	*u = append(*u, fn)
}

// rollback reverts the recorded changes, newest first, and empties the log.
func (u *undoLog) rollback() {
	for i := len(*u) - 1; i >= 0; i-- {
		(*u)[i]()
	}
	*u = nil
}

// Put validates and writes rec inside the transaction.
func (tx *Tx) Put(rec domain.Record) error {
	if err := tx.check(true); err != nil {
		return err
	}
	if rec == nil {
		return domainerrors.Validation("record is required")
	}
	if err := tx.store.validator.Validate(rec); err != nil {
		return err
	}
	e, err := tx.store.entity(rec.Kind())
	if err != nil {
		return err
	}
	return e.put(tx.txn, rec, &tx.undo)
}

// Get reads one record.
func (tx *Tx) Get(kind domain.Kind, id string) (domain.Record, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	e, err := tx.store.entity(kind)
	if err != nil {
		return nil, err
	}
	return e.get(tx.txn, id)
}

// All reads every record of kind.
func (tx *Tx) All(kind domain.Kind) ([]domain.Record, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	e, err := tx.store.entity(kind)
	if err != nil {
		return nil, err
	}
	return e.all(tx.txn)
}

// ByIndex reads the records of kind whose index entry equals value.
func (tx *Tx) ByIndex(kind domain.Kind, index, value string) ([]domain.Record, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	e, err := tx.store.entity(kind)
	if err != nil {
		return nil, err
	}
	return e.byIndex(tx.txn, index, value)
}

// Delete removes one record. Missing records are ignored.
func (tx *Tx) Delete(kind domain.Kind, id string) error {
	if err := tx.check(true); err != nil {
		return err
	}
	e, err := tx.store.entity(kind)
	if err != nil {
		return err
	}
	_, err = e.delete(tx.txn, id)
	return err
}

// MinSortOrder returns the lowest position in scope; ok is false for an empty scope.
func (tx *Tx) MinSortOrder(kind domain.Kind, scope string) (int, bool, error) {
	return tx.sortEdge(kind, scope, false)
}

// MaxSortOrder returns the highest position in scope; ok is false for an empty scope.
func (tx *Tx) MaxSortOrder(kind domain.Kind, scope string) (int, bool, error) {
	return tx.sortEdge(kind, scope, true)
}

// AtPosition returns the records of kind holding exactly order inside scope.
func (tx *Tx) AtPosition(kind domain.Kind, scope string, order int) ([]domain.Record, error) {
	return tx.ByIndex(kind, IndexSort, sortValue(scope, order))
}

func (tx *Tx) sortEdge(kind domain.Kind, scope string, last bool) (int, bool, error) {
	if err := tx.check(false); err != nil {
		return 0, false, err
	}
	e, err := tx.store.entity(kind)
	if err != nil {
		return 0, false, err
	}
	return e.edge(tx.txn, scope, last)
}

func (tx *Tx) check(write bool) error {
	if write && !tx.writable {
		return domainerrors.Internal("write in read-only transaction")
	}
	return tx.ctx.Err()
}

// Get reads one record of concrete type T.
func Get[T any, P recordPtr[T]](tx *Tx, id string) (P, error) {
	var zero T
	rec, err := tx.Get(P(&zero).Kind(), id)
	if err != nil {
		return nil, err
	}
	return cast[T, P](rec)
}

// List reads the records of concrete type T whose index entry equals value.
// An empty index name lists every record.
func List[T any, P recordPtr[T]](tx *Tx, index, value string) ([]P, error) {
	var zero T
	kind := P(&zero).Kind()

	var (
		recs []domain.Record
		err  error
	)
	if index == "" {
		recs, err = tx.All(kind)
	} else {
		recs, err = tx.ByIndex(kind, index, value)
	}
	if err != nil {
		return nil, err
	}

	out := make([]P, 0, len(recs))
	for _, r := range recs {
		v, err := cast[T, P](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func cast[T any, P recordPtr[T]](rec domain.Record) (P, error) {
	v, ok := rec.(P)
	if !ok {
		return nil, fmt.Errorf("record %s has kind %s", rec.RecordID(), rec.Kind())
	}
	return v, nil
}
