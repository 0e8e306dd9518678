// Package dataset reads housing rows from tabular sources, coerces them into
// typed records and partitions them for training.
package dataset

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/housing-model/internal/config"
)

// Table is the raw tabular form every source produces: a header row and the
// data rows as strings, in source order.
type Table struct {
	Header []string
	Rows   [][]string
}

// Source reads a complete table.
type Source interface {
	Read(ctx context.Context) (*Table, error)
	Close() error
}

// NewSource builds the source selected by cfg.Driver.
func NewSource(ctx context.Context, cfg config.DatasetConfig) (Source, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "csv":
		return &CSVSource{Path: cfg.Path}, nil
	case "xlsx":
		return &XLSXSource{Path: cfg.Path, Sheet: cfg.Sheet}, nil
	case "sqlite":
		return OpenSQLite(cfg.Path, cfg.Table)
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL, cfg.Table)
	default:
		return nil, eris.Errorf("dataset: unknown driver %q", cfg.Driver)
	}
}
