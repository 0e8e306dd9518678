package dataset

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Querier is the subset of pgxpool.Pool the Postgres source uses. pgxmock
// pools satisfy it in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresSource reads every row of one table from PostgreSQL.
type PostgresSource struct {
	pool  Querier
	table string
}

// OpenPostgres connects a pool to databaseURL.
func OpenPostgres(ctx context.Context, databaseURL, table string) (*PostgresSource, error) {
	if databaseURL == "" {
		return nil, eris.New("postgres: database_url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	src, err := NewPostgresSource(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return src, nil
}

// NewPostgresSource wraps an existing pool. table may be schema-qualified.
func NewPostgresSource(pool Querier, table string) (*PostgresSource, error) {
	for _, part := range strings.Split(table, ".") {
		if !identRe.MatchString(part) {
			return nil, eris.Errorf("postgres: invalid table name %q", table)
		}
	}
	return &PostgresSource{pool: pool, table: table}, nil
}

// Read implements Source. The table has no natural order, so rows are
// sorted by ctid to keep the record sequence stable for a given snapshot.
func (s *PostgresSource) Read(ctx context.Context) (*Table, error) {
	ident := pgx.Identifier(strings.Split(s.table, ".")).Sanitize()
	rows, err := s.pool.Query(ctx, "SELECT * FROM "+ident+" ORDER BY ctid")
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s", s.table)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	t := &Table{Header: make([]string, len(fields))}
	for i, fd := range fields {
		t.Header[i] = fd.Name
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: row values")
		}
		t.Rows = append(t.Rows, cellStrings(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate rows")
	}
	return t, nil
}

// Close implements Source.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
