// Package sqlstore is a kvstore backend on database/sql. It ships dialects
// for SQLite (github.com/mattn/go-sqlite3) and PostgreSQL (github.com/lib/pq).
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/kvstore"
	"github.com/drblury/adapterflow/stream"
)

// DefaultTable is used when Options names no table.
const DefaultTable = "adapterflow_kv"

// PageSize is how many keys one listing query fetches. Listings page by key
// so no cursor holds a connection between reads.
var PageSize = 256

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Dialect captures the SQL differences between drivers.
type Dialect struct {
	Driver string
	// BlobType is the column type for keys and values.
	BlobType string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// MaxOpenConns limits the pool; SQLite needs 1.
	MaxOpenConns int
	// ConnMaxLifetime recycles pooled connections. Zero keeps them, which
	// an in-memory SQLite database relies on.
	ConnMaxLifetime time.Duration
}

var (
	SQLite = Dialect{
		Driver:       "sqlite3",
		BlobType:     "BLOB",
		Placeholder:  func(int) string { return "?" },
		MaxOpenConns: 1,
	}
	Postgres = Dialect{
		Driver:          "postgres",
		BlobType:        "BYTEA",
		Placeholder:     func(n int) string { return fmt.Sprintf("$%d", n) },
		MaxOpenConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
	}
)

// Options configures Open.
type Options struct {
	Dialect Dialect
	// DSN is the driver data source: a file path or ":memory:" for SQLite, a
	// connection URL for PostgreSQL.
	DSN   string
	Table string
}

// Store is a kvstore.Store backed by a SQL table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
	ownsDB  bool

	upsertSQL string
	readSQL   string
	deleteSQL string
}

var _ kvstore.Store = (*Store)(nil)

// Open connects, creates the table when missing and returns the store.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.DSN == "" {
		return nil, errspkg.Validation("dsn", opts.Dialect.Driver+" requires a data source")
	}
	db, err := sql.Open(opts.Dialect.Driver, opts.DSN)
	if err != nil {
		return nil, errspkg.Store("open", nil, err)
	}
	if opts.Dialect.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.Dialect.MaxOpenConns)
		db.SetMaxIdleConns(opts.Dialect.MaxOpenConns)
	}
	db.SetConnMaxLifetime(opts.Dialect.ConnMaxLifetime)

	s, err := New(ctx, db, opts.Dialect, opts.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New uses an existing pool. Close leaves db open.
func New(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, errspkg.Validation("table", fmt.Sprintf("%q is not a valid table name", table))
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errspkg.Store("connect", nil, err)
	}
	p := dialect.Placeholder
	s := &Store{
		db:      db,
		dialect: dialect,
		table:   table,
		upsertSQL: fmt.Sprintf(
			`INSERT INTO %s (k, v, updated_at) VALUES (%s, %s, %s)
			ON CONFLICT (k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
			table, p(1), p(2), p(3)),
		readSQL:   fmt.Sprintf(`SELECT v FROM %s WHERE k = %s`, table, p(1)),
		deleteSQL: fmt.Sprintf(`DELETE FROM %s WHERE k = %s`, table, p(1)),
	}
	if err := s.initSchema(ctx); err != nil {
		return nil, errspkg.Store("init schema", nil, err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		k %s PRIMARY KEY,
		v %s NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`, s.table, s.dialect.BlobType, s.dialect.BlobType))
	return err
}

func (s *Store) Write(ctx context.Context, key, value []byte) error {
	if err := kvstore.CheckKey("write", key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, s.upsertSQL, key, value, time.Now().UTC())
	return s.fail(ctx, "write", key, err)
}

func (s *Store) Read(ctx context.Context, key []byte) ([]byte, error) {
	if err := kvstore.CheckKey("read", key); err != nil {
		return nil, err
	}
	var v []byte
	err := s.db.QueryRowContext(ctx, s.readSQL, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errspkg.ErrNotFound
	}
	if err != nil {
		return nil, s.fail(ctx, "read", key, err)
	}
	return v, nil
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	if err := kvstore.CheckKey("delete", key); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.deleteSQL, key)
	if err != nil {
		return s.fail(ctx, "delete", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail(ctx, "delete", key, err)
	}
	if n == 0 {
		return errspkg.ErrNotFound
	}
	return nil
}

func (s *Store) ListKeys(ctx context.Context, prefix []byte) *stream.Sequence[[]byte] {
	return kvstore.StreamKeys(ctx, &pager{s: s, prefix: bytes.Clone(prefix), end: kvstore.PrefixEnd(prefix)})
}

// Close closes the pool when Open created it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return errspkg.Store("close", nil, s.db.Close())
}

func (s *Store) fail(ctx context.Context, op string, key []byte, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := errspkg.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}
	return errspkg.Store(op, key, err)
}

// pageQuery selects the next page of keys after the last one seen.
func (s *Store) pageQuery(after, end []byte, first bool) (string, []any) {
	p := s.dialect.Placeholder
	var where []string
	var args []any
	add := func(cond string, v []byte) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, p(len(args))))
	}
	if first {
		if len(after) > 0 {
			add("k >= %s", after)
		}
	} else {
		add("k > %s", after)
	}
	if end != nil {
		add("k < %s", end)
	}
	q := "SELECT k FROM " + s.table
	for i, w := range where {
		if i == 0 {
			q += " WHERE " + w
		} else {
			q += " AND " + w
		}
	}
	q += fmt.Sprintf(" ORDER BY k LIMIT %d", PageSize)
	return q, args
}

type pager struct {
	s      *Store
	prefix []byte
	end    []byte

	page    [][]byte
	last    []byte
	started bool
	done    bool
}

func (p *pager) Next(ctx context.Context) ([]byte, bool, error) {
	if len(p.page) == 0 && !p.done {
		if err := p.fetch(ctx); err != nil {
			return nil, false, err
		}
	}
	if len(p.page) == 0 {
		return nil, false, nil
	}
	k := p.page[0]
	p.page = p.page[1:]
	return k, true, nil
}

func (p *pager) fetch(ctx context.Context) error {
	after := p.last
	if !p.started {
		after = p.prefix
	}
	q, args := p.s.pageQuery(after, p.end, !p.started)
	p.started = true

	rows, err := p.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return p.s.fail(ctx, "list", p.prefix, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k []byte
		if err := rows.Scan(&k); err != nil {
			return p.s.fail(ctx, "list", p.prefix, err)
		}
		p.page = append(p.page, k)
	}
	if err := rows.Err(); err != nil {
		return p.s.fail(ctx, "list", p.prefix, err)
	}
	if len(p.page) < PageSize {
		p.done = true
	}
	if n := len(p.page); n > 0 {
		p.last = p.page[n-1]
	}
	return nil
}
