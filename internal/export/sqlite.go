package export

import (
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/merra2-cli/internal/aggregate"
	"github.com/sells-group/merra2-cli/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	variable TEXT NOT NULL,
	data     TEXT NOT NULL,
	lat      REAL NOT NULL,
	lon      REAL NOT NULL,
	vel      REAL
);

CREATE INDEX IF NOT EXISTS idx_records_variable_data ON records(variable, data);
`

// SQLiteSink keeps one database per group, <root>/<group>/<group>.sqlite,
// with every variable in the records table.
type SQLiteSink struct {
	Root string
}

func (s *SQLiteSink) Name() string { return FormatSQLite }

// Path returns the database file of a group.
func (s *SQLiteSink) Path(group string) string {
	return filepath.Join(GroupDir(s.Root, group), group+".sqlite")
}

func (s *SQLiteSink) Write(ctx context.Context, t *model.AggregatedTable) (string, error) {
	recs, err := aggregate.Unpivot(t)
	if err != nil {
		return "", err
	}

	path := s.Path(t.Group)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create dir for %s", path)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return "", eris.Wrap(err, "export: sqlite open")
	}
	defer sqlDB.Close() //nolint:errcheck

	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			return "", eris.Wrapf(err, "export: sqlite exec %s", pragma)
		}
	}
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		return "", eris.Wrap(err, "export: sqlite migrate")
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "export: sqlite begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE variable = ?`, t.Variable); err != nil {
		return "", eris.Wrapf(err, "export: sqlite clear %s", t.Variable)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (variable, data, lat, lon, vel) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", eris.Wrap(err, "export: sqlite prepare")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range recs {
		var vel any
		if !math.IsNaN(r.Value) {
			vel = r.Value
		}
		if _, err := stmt.ExecContext(ctx, t.Variable, t.Period.Format(r.Timestamp), r.Latitude, r.Longitude, vel); err != nil {
			return "", eris.Wrapf(err, "export: sqlite insert %s", t.Variable)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "export: sqlite commit")
	}
	return path, nil
}
