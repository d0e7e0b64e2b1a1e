package export

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/sells-group/merra2-cli/internal/aggregate"
	"github.com/sells-group/merra2-cli/internal/db"
	"github.com/sells-group/merra2-cli/internal/model"
)

const recordsTable = "records"

var recordColumns = []string{"group_name", "variable", "data", "lat", "lon", "vel"}

// PostgresSink replaces the rows of a (group, variable) in <schema>.records.
type PostgresSink struct {
	pool   db.Pool
	schema string

	mu      sync.Mutex
	ensured bool
}

// NewPostgresSink creates a sink; schema defaults to merra2.
func NewPostgresSink(pool db.Pool, schema string) *PostgresSink {
	if schema == "" {
		schema = "merra2"
	}
	return &PostgresSink{pool: pool, schema: schema}
}

func (s *PostgresSink) Name() string { return FormatPostgres }

func (s *PostgresSink) ddl() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	group_name TEXT NOT NULL,
	variable   TEXT NOT NULL,
	data       TIMESTAMPTZ NOT NULL,
	lat        DOUBLE PRECISION NOT NULL,
	lon        DOUBLE PRECISION NOT NULL,
	vel        DOUBLE PRECISION
)`, pgx.Identifier{s.schema, recordsTable}.Sanitize())
}

func (s *PostgresSink) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	if err := db.EnsureTable(ctx, s.pool, s.schema, s.ddl()); err != nil {
		return err
	}
	s.ensured = true
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, t *model.AggregatedTable) (string, error) {
	if err := s.ensure(ctx); err != nil {
		return "", err
	}
	recs, err := aggregate.Unpivot(t)
	if err != nil {
		return "", err
	}

	rows := make([][]any, len(recs))
	for i, r := range recs {
		var vel any
		if !math.IsNaN(r.Value) {
			vel = r.Value
		}
		rows[i] = []any{t.Group, t.Variable, r.Timestamp, r.Latitude, r.Longitude, vel}
	}

	_, err = db.ReplaceRows(ctx, s.pool, db.ReplaceConfig{
		Schema:    s.schema,
		Table:     recordsTable,
		Columns:   recordColumns,
		MatchCols: []string{"group_name", "variable"},
		MatchVals: []any{t.Group, t.Variable},
	}, rows)
	if err != nil {
		return "", err
	}
	return s.schema + "." + recordsTable, nil
}
