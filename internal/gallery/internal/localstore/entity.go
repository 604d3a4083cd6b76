package localstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
)

// recordPtr is satisfied by *T when *T is one of the domain record types.
type recordPtr[T any] interface {
	*T
	domain.Record
}

// Entity provides keyed storage with secondary indexes for one record kind.
type Entity[T any, P recordPtr[T]] struct {
	kind    domain.Kind
	prefix  string
	indexes []Index[T]
}

// Index defines a secondary index on an entity.
type Index[T any] struct {
	name   string
	keyGen func(*T) []string
}

// NewEntity creates a new Entity for record type T.
func NewEntity[T any, P recordPtr[T]]() *Entity[T, P] {
	var zero T
	kind := P(&zero).Kind()
	return &Entity[T, P]{
		kind:   kind,
		prefix: prefixFor(kind),
	}
}

// WithIndex adds a secondary index to the entity.
func (e *Entity[T, P]) WithIndex(name string, keyGen func(*T) []string) *Entity[T, P] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen})
	return e
}

// WithSortIndex indexes the entity by sort scope and position.
func (e *Entity[T, P]) WithSortIndex() *Entity[T, P] {
	return e.WithIndex(IndexSort, func(v *T) []string {
		s, ok := any(P(v)).(domain.Sortable)
		if !ok {
			return nil
		}
		return []string{sortValue(s.SortScope(), s.SortPosition())}
	})
}

func (e *Entity[T, P]) sortable() bool {
	for _, idx := range e.indexes {
		if idx.name == IndexSort {
			return true
		}
	}
	return false
}

func (e *Entity[T, P]) key(id string) []byte {
	return []byte(e.prefix + id)
}

func (e *Entity[T, P]) load(txn *badger.Txn, id string) (P, error) {
	item, err := txn.Get(e.key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domainerrors.NotFoundf("%s %s not found", e.kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", e.kind, err)
	}

	var v T
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s %s: %w", e.kind, id, err)
	}
	return P(&v), nil
}

// get implements entityOps.
func (e *Entity[T, P]) get(txn *badger.Txn, id string) (domain.Record, error) {
	v, err := e.load(txn, id)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// put writes rec and its index entries, replacing any previous version.
// rec.RecordVersion must match the stored version (0 for a new record).
// The version and position put assigns to rec are registered with undo so a
// transaction that does not commit can hand rec back unchanged.
func (e *Entity[T, P]) put(txn *badger.Txn, rec domain.Record, undo *undoLog) error {
	v, ok := rec.(P)
	if !ok {
		return domainerrors.Validationf("record of kind %s stored as %s", rec.Kind(), e.kind)
	}
	id := rec.RecordID()

	old, err := e.load(txn, id)
	switch {
	case domainerrors.Is(err, domainerrors.ErrNotFound):
		if rec.RecordVersion() != 0 {
			return domainerrors.Conflictf("%s %s was deleted concurrently", e.kind, id)
		}
		old = nil
	case err != nil:
		return err
	case old.RecordVersion() != rec.RecordVersion():
		return domainerrors.Conflictf("%s %s was modified concurrently (have version %d, stored %d)",
			e.kind, id, rec.RecordVersion(), old.RecordVersion())
	}

	version := rec.RecordVersion()
	undo.add(func() { rec.SetVersion(version) })

	if s, ok := rec.(domain.Sortable); ok && e.sortable() {
		var prev domain.Sortable
		if old != nil {
			prev, _ = any(old).(domain.Sortable)
		}
		// Only a record entering a scope or changing position competes for
		// positions; an edit in place leaves the guard alone.
		if prev == nil || prev.SortScope() != s.SortScope() || prev.SortPosition() != s.SortPosition() {
			if err := e.claimScope(txn, s.SortScope()); err != nil {
				return err
			}
		}
		if prev != nil && prev.SortScope() != s.SortScope() {
			if err := e.claimScope(txn, prev.SortScope()); err != nil {
				return err
			}
		}
		if s.SortPosition() == domain.Unsorted {
			next, err := e.nextPosition(txn, s.SortScope())
			if err != nil {
				return err
			}
			s.SetSortPosition(next)
			undo.add(func() { s.SetSortPosition(domain.Unsorted) })
		}
	}

	rec.SetVersion(rec.RecordVersion() + 1)
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.kind, err)
	}
	if err := txn.Set(e.key(id), data); err != nil {
		return fmt.Errorf("set %s: %w", e.kind, err)
	}

	// Index entries that did not change are left untouched so concurrent
	// readers of the index do not conflict with an unrelated edit.
	for _, idx := range e.indexes {
		next := idx.keyGen((*T)(v))
		if old != nil {
			prev := idx.keyGen((*T)(old))
			for _, value := range prev {
				if slices.Contains(next, value) {
					continue
				}
				if err := txn.Delete(indexKey(e.prefix, idx.name, value, id)); err != nil {
					return fmt.Errorf("delete %s index: %w", idx.name, err)
				}
			}
			next = slices.DeleteFunc(next, func(value string) bool { return slices.Contains(prev, value) })
		}
		for _, value := range next {
			if err := txn.Set(indexKey(e.prefix, idx.name, value, id), []byte(id)); err != nil {
				return fmt.Errorf("set %s index: %w", idx.name, err)
			}
		}
	}
	return nil
}

// delete removes the record and its index entries. Deleting a missing record is a no-op
// and returns a nil record.
func (e *Entity[T, P]) delete(txn *badger.Txn, id string) (domain.Record, error) {
	v, err := e.load(txn, id)
	if domainerrors.Is(err, domainerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := e.deleteIndexes(txn, (*T)(v), id); err != nil {
		return nil, err
	}
	if err := txn.Delete(e.key(id)); err != nil {
		return nil, fmt.Errorf("delete %s: %w", e.kind, err)
	}
	return v, nil
}

func (e *Entity[T, P]) deleteIndexes(txn *badger.Txn, v *T, id string) error {
	for _, idx := range e.indexes {
		for _, value := range idx.keyGen(v) {
			if err := txn.Delete(indexKey(e.prefix, idx.name, value, id)); err != nil {
				return fmt.Errorf("delete %s index: %w", idx.name, err)
			}
		}
	}
	return nil
}

// all returns every record, ordered by sort index when the entity has one.
func (e *Entity[T, P]) all(txn *badger.Txn) ([]domain.Record, error) {
	if e.sortable() {
		return e.scan(txn, []byte(e.prefix+"idx:"+IndexSort+":"))
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(e.prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	idxPrefix := []byte(e.prefix + "idx:")
	scopePrefix := []byte(e.prefix + "scope:")
	var out []domain.Record
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		if bytes.HasPrefix(item.Key(), idxPrefix) || bytes.HasPrefix(item.Key(), scopePrefix) {
			continue
		}
		var v T
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", e.kind, err)
		}
		out = append(out, P(&v))
	}
	return out, nil
}

// byIndex returns the records whose index entry equals value. The sort index is
// looked up by scope and yields records in position order.
func (e *Entity[T, P]) byIndex(txn *badger.Txn, name, value string) ([]domain.Record, error) {
	if name == IndexSort {
		return e.scan(txn, indexPrefix(e.prefix, IndexSort, value))
	}
	for _, idx := range e.indexes {
		if idx.name == name {
			return e.scan(txn, indexPrefix(e.prefix, name, value))
		}
	}
	return nil, domainerrors.Validationf("%s has no index %q", e.kind, name)
}

// scan loads the records referenced by every index entry under prefix, in key order.
func (e *Entity[T, P]) scan(txn *badger.Txn, prefix []byte) ([]domain.Record, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			ids = append(ids, string(val))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		v, err := e.load(txn, id)
		if err != nil {
			return nil, fmt.Errorf("dangling %s index entry: %w", e.kind, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// edge returns the highest (last=true) or lowest position in scope.
// ok is false when the scope is empty.
func (e *Entity[T, P]) edge(txn *badger.Txn, scope string, last bool) (pos int, ok bool, err error) {
	prefix := indexPrefix(e.prefix, IndexSort, scope)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	opts.Reverse = last
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if last {
		seek = append(bytes.Clone(prefix), 0xFF)
	}
	it.Seek(seek)
	if !it.Valid() {
		return 0, false, nil
	}

	rest := it.Item().KeyCopy(nil)[len(prefix):]
	if len(rest) < 16 {
		return 0, false, fmt.Errorf("malformed sort index key for %s", e.kind)
	}
	pos, err = decodeOrder(string(rest[:16]))
	if err != nil {
		return 0, false, err
	}
	return pos, true, nil
}

// claimScope reads and rewrites the guard key of a sort scope. Two transactions
// that write into the same scope then always conflict at commit, so positions
// derived from max(scope) are never handed out twice.
func (e *Entity[T, P]) claimScope(txn *badger.Txn, scope string) error {
	key := []byte(e.prefix + "scope:" + scope)
	if _, err := txn.Get(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("read scope guard: %w", err)
	}
	if err := txn.Set(key, []byte{1}); err != nil {
		return fmt.Errorf("write scope guard: %w", err)
	}
	return nil
}

// nextPosition returns max(scope)+1, skipping the Unsorted value.
func (e *Entity[T, P]) nextPosition(txn *badger.Txn, scope string) (int, error) {
	top, ok, err := e.edge(txn, scope, true)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	next := top + 1
	if next == domain.Unsorted {
		next = 1
	}
	return next, nil
}
