package history

import (
	"database/sql"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SchemaVersion is bumped on every breaking change to the tables. Older
// databases are dropped and recreated.
const SchemaVersion = 1

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	kind TEXT NOT NULL,
	percentage REAL NOT NULL,
	rate REAL NOT NULL,
	time_charge INTEGER NOT NULL,
	time_discharge INTEGER NOT NULL,
	charging INTEGER NOT NULL,
	discharging INTEGER NOT NULL,
	on_ac INTEGER NOT NULL,
	warning_level TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_kind_timestamp ON samples(kind, timestamp);
`

func schemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_versions'`).Scan(&exists)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to look up schema table")
	}
	if exists == 0 {
		return 0, nil
	}

	var version sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_versions`).Scan(&version); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to read schema version")
	}
	return int(version.Int64), nil
}

// migrate brings db to SchemaVersion, recreating the tables on a mismatch.
func migrate(db *sql.DB, now int64) error {
	version, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if version == SchemaVersion {
		logrus.WithField("version", version).Trace("history schema is current")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"from": version,
		"to":   SchemaVersion,
	}).Info("initializing history schema")

	tx, err := db.Begin()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to begin schema transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if version != 0 {
		for _, table := range []string{"samples", "schema_versions"} {
			if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return pkgerrors.Wrapf(err, "failed to drop table %s", table)
			}
		}
	}
	if _, err := tx.Exec(createTablesSQL); err != nil {
		return pkgerrors.Wrap(err, "failed to create tables")
	}
	if _, err := tx.Exec(`INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)`, SchemaVersion, now); err != nil {
		return pkgerrors.Wrap(err, "failed to record schema version")
	}
	return pkgerrors.Wrap(tx.Commit(), "failed to commit schema")
}
