// Package storage exports final aggregation tables to external databases.
//
// It exposes a narrow Repository interface so the pipeline depends only on
// this package while concrete databases stay isolated in subpackages
// (postgres, sqlite). The factory in New maps the configured export kind to
// a backend.
package storage

import (
	"context"
	"fmt"

	"aggpipe/internal/aggregate"
	"aggpipe/internal/config"
)

// Repository is the minimal interface for export backends.
type Repository interface {
	// CopyFrom bulk-inserts rows into the configured table and returns the
	// number of rows written.
	CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error)
	// Exec executes an arbitrary SQL statement (typically DDL).
	Exec(ctx context.Context, sql string) error
}

// Opener constructs a Repository for one export kind. Subpackages register
// through the openers table in New.
type Opener func(ctx context.Context, cfg config.DBConfig) (Repository, func(), error)

var openers = map[string]Opener{}

// RegisterOpener installs a backend constructor for kind. The postgres and
// sqlite subpackages self-register in their init functions once imported.
func RegisterOpener(kind string, o Opener) {
	openers[kind] = o
}

// New constructs the Repository for cfg. The returned func closes the
// underlying connection and must be called when the export is done.
func New(ctx context.Context, cfg config.Export) (Repository, func(), error) {
	o, ok := openers[cfg.Kind]
	if !ok {
		return nil, nil, fmt.Errorf("storage: unknown export kind %q", cfg.Kind)
	}
	return o(ctx, cfg.DB)
}

// Export writes the final table to the configured backend. When
// AutoCreateTable is set the destination table is created from the table's
// layout first. Returns the number of rows written.
func Export(ctx context.Context, repo Repository, cfg config.Export, t aggregate.Table) (int64, error) {
	if cfg.DB.AutoCreateTable {
		ddl, err := BuildCreateTableSQL(cfg.Kind, cfg.DB.Table, InferColumns(t))
		if err != nil {
			return 0, err
		}
		if err := repo.Exec(ctx, ddl); err != nil {
			return 0, fmt.Errorf("storage: create table: %w", err)
		}
	}
	return repo.CopyFrom(ctx, t.Columns, t.Rows)
}
