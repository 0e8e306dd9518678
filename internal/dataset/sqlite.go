package dataset

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteSource reads every row of one table from a SQLite database.
type SQLiteSource struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens the database at dsn in read-only query mode.
func OpenSQLite(dsn, table string) (*SQLiteSource, error) {
	if !identRe.MatchString(table) {
		return nil, eris.Errorf("sqlite: invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: exec PRAGMA busy_timeout")
	}
	return &SQLiteSource{db: db, table: table}, nil
}

// Read implements Source. Rows come back in rowid order so the record
// sequence is stable between runs.
func (s *SQLiteSource) Read(ctx context.Context) (*Table, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s" ORDER BY rowid`, s.table))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query %s", s.table)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: columns")
	}

	t := &Table{Header: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		t.Rows = append(t.Rows, cellStrings(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate rows")
	}
	return t, nil
}

// Close implements Source.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// cellStrings renders driver values the way they would appear in a CSV
// export, so every source feeds the loader the same text.
func cellStrings(vals []any) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case nil:
			out[i] = ""
		case []byte:
			out[i] = string(x)
		case string:
			out[i] = x
		case int64:
			out[i] = strconv.FormatInt(x, 10)
		case int32:
			out[i] = strconv.FormatInt(int64(x), 10)
		case float64:
			out[i] = strconv.FormatFloat(x, 'g', -1, 64)
		case float32:
			out[i] = strconv.FormatFloat(float64(x), 'g', -1, 32)
		case bool:
			out[i] = strconv.FormatBool(x)
		case driver.Valuer: // pgtype.Numeric and friends
			dv, err := x.Value()
			if err != nil || dv == nil {
				out[i] = ""
				continue
			}
			out[i] = cellStrings([]any{dv})[0]
		default:
			out[i] = fmt.Sprint(x)
		}
	}
	return out
}
