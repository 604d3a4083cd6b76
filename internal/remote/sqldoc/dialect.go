package sqldoc

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/listenupapp/gallery/internal/remote"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Dialect adapts the document table to one SQL engine.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string
	Schema() string
	Pragmas() []string
	// Rebind rewrites ? placeholders into the engine's form.
	Rebind(query string) string
	// Where returns the condition and arguments matching where against the
	// body column.
	Where(where remote.Filter) (string, []any, error)
}

// SQLite stores bodies as TEXT and filters with json_extract.
type SQLite struct{}

func (SQLite) Name() string   { return "sqlite" }
func (SQLite) Schema() string { return sqliteSchema }

func (SQLite) Pragmas() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
}

func (SQLite) Rebind(query string) string { return query }

func (SQLite) Where(where remote.Filter) (string, []any, error) {
	conds := make([]string, 0, len(where))
	args := make([]any, 0, 2*len(where))
	for _, field := range sortedFields(where) {
		v := where[field]
		path := `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
		if v == nil {
			conds = append(conds, "json_type(body, ?) = 'null'")
			args = append(args, path)
			continue
		}
		arg, err := sqliteValue(v)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, "json_extract(body, ?) = ?")
		args = append(args, path, arg)
	}
	return strings.Join(conds, " AND "), args, nil
}

// sqliteValue converts a filter value to what json_extract yields for it.
func sqliteValue(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string, int, int32, int64, float32, float64:
		return x, nil
	default:
		return nil, fmt.Errorf("unsupported filter value %T", v)
	}
}

// Postgres stores bodies as JSONB and filters by containment.
type Postgres struct{}

func (Postgres) Name() string      { return "pgx" }
func (Postgres) Schema() string    { return postgresSchema }
func (Postgres) Pragmas() []string { return nil }

func (Postgres) Rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (Postgres) Where(where remote.Filter) (string, []any, error) {
	data, err := json.Marshal(where)
	if err != nil {
		return "", nil, err
	}
	return "body @> ?::jsonb", []any{string(data)}, nil
}
