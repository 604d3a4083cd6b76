// Package sqldoc implements the remote document store on a single SQL table,
// for SQLite and Postgres.
package sqldoc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/logger"
	"github.com/listenupapp/gallery/internal/remote"
)

// Options configures Open.
type Options struct {
	Dialect      Dialect
	DSN          string
	MaxBatchSize int
	Logger       *slog.Logger
}

// Store is a remote.Store backed by database/sql.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	maxBatch int
	logger   *slog.Logger
}

var _ remote.Store = (*Store)(nil)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the database and creates the document table.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dialect == nil {
		opts.Dialect = SQLite{}
	}
	db, err := sql.Open(opts.Dialect.Name(), opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Dialect.Name(), err)
	}

	if _, ok := opts.Dialect.(SQLite); ok {
		// Single connection: SQLite has one writer and the pragmas are per connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxLifetime(time.Hour)
	}

	for _, pragma := range opts.Dialect.Pragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, opts.Dialect.Schema()); err != nil {
		db.Close()
		return nil, remote.Unreachable(err, "create schema")
	}

	maxBatch := opts.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = remote.DefaultMaxBatchSize
	}
	return &Store{
		db:       db,
		dialect:  opts.Dialect,
		maxBatch: maxBatch,
		logger:   logger.OrDiscard(opts.Logger),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MaxBatchSize implements remote.Store.
func (s *Store) MaxBatchSize() int { return s.maxBatch }

// Create implements remote.Store.
func (s *Store) Create(ctx context.Context, collection string, doc remote.Document) (string, error) {
	doc = doc.WithID(doc.ID())
	id := doc.ID()
	if err := remote.CheckKey(collection, id); err != nil {
		return "", err
	}
	body, err := doc.Marshal()
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeValidation, "encode document")
	}

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO documents (collection, id, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO NOTHING`),
		collection, id, string(body), formatTime(time.Now()))
	if err != nil {
		return "", remote.Unreachable(err, "create")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", domainerrors.Conflictf("%s/%s already exists", collection, id)
	}
	return id, nil
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	if err := remote.CheckKey(collection, id); err != nil {
		return nil, err
	}
	return s.get(ctx, s.db, collection, id)
}

func (s *Store) get(ctx context.Context, q querier, collection, id string) (remote.Document, error) {
	var body []byte
	err := q.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT body FROM documents WHERE collection = ? AND id = ?`),
		collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, remote.Unreachable(err, "get")
	}
	doc, err := remote.Unmarshal(body)
	if err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeInternal, "decode %s/%s", collection, id)
	}
	return doc, nil
}

// Update implements remote.Store.
func (s *Store) Update(ctx context.Context, collection, id string, patch remote.Document) error {
	if err := remote.CheckKey(collection, id); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.update(ctx, tx, collection, id, patch)
	})
}

func (s *Store) update(ctx context.Context, q querier, collection, id string, patch remote.Document) error {
	current, err := s.get(ctx, q, collection, id)
	if err != nil {
		return err
	}
	if current == nil {
		return domainerrors.NotFoundf("%s/%s not found", collection, id)
	}
	return s.set(ctx, q, collection, id, remote.Merge(current, patch))
}

func (s *Store) set(ctx context.Context, q querier, collection, id string, doc remote.Document) error {
	body, err := doc.WithID(id).Marshal()
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "encode document")
	}
	_, err = q.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO documents (collection, id, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at`),
		collection, id, string(body), formatTime(time.Now()))
	if err != nil {
		return remote.Unreachable(err, "write")
	}
	return nil
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := remote.CheckKey(collection, id); err != nil {
		return err
	}
	return s.delete(ctx, s.db, collection, id)
}

func (s *Store) delete(ctx context.Context, q querier, collection, id string) error {
	_, err := q.ExecContext(ctx, s.dialect.Rebind(
		`DELETE FROM documents WHERE collection = ? AND id = ?`), collection, id)
	if err != nil {
		return remote.Unreachable(err, "delete")
	}
	return nil
}

// Query implements remote.Store.
func (s *Store) Query(ctx context.Context, collection string, where remote.Filter) ([]remote.Document, error) {
	if collection == "" {
		return nil, domainerrors.Validation("collection is required")
	}

	query := `SELECT body FROM documents WHERE collection = ?`
	args := []any{collection}
	if len(where) > 0 {
		cond, condArgs, err := s.dialect.Where(where)
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "query filter")
		}
		query += " AND " + cond
		args = append(args, condArgs...)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, remote.Unreachable(err, "query")
	}
	defer rows.Close()

	var docs []remote.Document
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, remote.Unreachable(err, "query")
		}
		doc, err := remote.Unmarshal(body)
		if err != nil {
			return nil, domainerrors.Wrapf(err, domainerrors.CodeInternal, "decode %s document", collection)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, remote.Unreachable(err, "query")
	}
	return docs, nil
}

// BatchWrite implements remote.Store. The ops run in one transaction.
func (s *Store) BatchWrite(ctx context.Context, ops []remote.Op) error {
	if err := remote.CheckBatch(ops, s.maxBatch); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	start := time.Now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			var err error
			switch op.Kind {
			case remote.OpSet:
				err = s.set(ctx, tx, op.Collection, op.ID, op.Doc)
			case remote.OpUpdate:
				err = s.update(ctx, tx, op.Collection, op.ID, op.Doc)
			case remote.OpDelete:
				err = s.delete(ctx, tx, op.Collection, op.ID)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("batch committed", "ops", len(ops), "duration", time.Since(start))
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return remote.Unreachable(err, "begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return remote.Unreachable(err, "commit")
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func sortedFields(f remote.Filter) []string {
	return slices.Sorted(maps.Keys(f))
}
