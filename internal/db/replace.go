package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceConfig describes a delete-then-copy replacement of a row subset.
type ReplaceConfig struct {
	Schema    string
	Table     string
	Columns   []string // columns being copied
	MatchCols []string // rows whose MatchCols equal MatchVals are deleted first
	MatchVals []any
}

// ReplaceRows deletes the rows selected by MatchCols/MatchVals and copies the
// new rows in, all in one transaction.
func ReplaceRows(ctx context.Context, pool Pool, cfg ReplaceConfig, rows [][]any) (int64, error) {
	if cfg.Schema == "" || cfg.Table == "" {
		return 0, eris.New("db: replace: schema and table are required")
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	if len(cfg.MatchCols) == 0 || len(cfg.MatchCols) != len(cfg.MatchVals) {
		return 0, eris.New("db: replace: match columns and values must pair up")
	}

	table := qualified(cfg.Schema, cfg.Table)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	conds := make([]string, len(cfg.MatchCols))
	for i, c := range cfg.MatchCols {
		conds[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
	}
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(conds, " AND "))
	if _, err := tx.Exec(ctx, deleteSQL, cfg.MatchVals...); err != nil {
		return 0, eris.Wrapf(err, "db: replace: delete from %s", table)
	}

	n, err := CopyFromSchema(ctx, tx, cfg.Schema, cfg.Table, cfg.Columns, rows)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	committed = true
	return n, nil
}

// EnsureTable creates the schema and runs the table DDL.
func EnsureTable(ctx context.Context, pool Pool, schema, ddl string) error {
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return eris.Wrapf(err, "db: create schema %s", schema)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return eris.Wrap(err, "db: create table")
	}
	return nil
}

func qualified(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
