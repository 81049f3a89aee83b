package history

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"
)

// latestSchemaVersion is the schema version a freshly created database is
// initialized at, and the version every migration chain converges on.
const latestSchemaVersion = 5

const freshSchemaDDL = `
CREATE TABLE IF NOT EXISTS raw (
	epoch_seconds INTEGER NOT NULL,
	iface_name    TEXT    NOT NULL,
	upload_bps    REAL    NOT NULL,
	download_bps  REAL    NOT NULL,
	PRIMARY KEY (epoch_seconds, iface_name)
);
CREATE INDEX IF NOT EXISTS idx_raw_epoch_desc ON raw(epoch_seconds DESC);

CREATE TABLE IF NOT EXISTS minute (
	epoch_seconds INTEGER NOT NULL,
	iface_name    TEXT    NOT NULL,
	upload_avg    REAL    NOT NULL,
	download_avg  REAL    NOT NULL,
	upload_max    REAL    NOT NULL,
	download_max  REAL    NOT NULL,
	sample_count  INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (epoch_seconds, iface_name)
);
CREATE INDEX IF NOT EXISTS idx_minute_covering ON minute(epoch_seconds DESC, iface_name, upload_avg, download_avg);

CREATE TABLE IF NOT EXISTS hour (
	epoch_seconds INTEGER NOT NULL,
	iface_name    TEXT    NOT NULL,
	upload_avg    REAL    NOT NULL,
	download_avg  REAL    NOT NULL,
	upload_max    REAL    NOT NULL,
	download_max  REAL    NOT NULL,
	sample_count  INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (epoch_seconds, iface_name)
);
CREATE INDEX IF NOT EXISTS idx_hour_covering ON hour(epoch_seconds DESC, iface_name, upload_avg, download_avg);

CREATE TABLE IF NOT EXISTS bandwidth_totals (
	iface_name            TEXT PRIMARY KEY,
	total_upload_bytes    INTEGER NOT NULL DEFAULT 0,
	total_download_bytes  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS hw_stats (
	epoch_seconds INTEGER NOT NULL,
	metric_name   TEXT    NOT NULL,
	value         REAL    NOT NULL,
	PRIMARY KEY (epoch_seconds, metric_name)
);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// readSchemaVersion returns 0 if the metadata table doesn't exist yet
// (a brand new database file).
func readSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='metadata'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("checking for metadata table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var raw string
	err = db.QueryRow(`SELECT value FROM metadata WHERE key='db_version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading db_version: %w", err)
	}
	var version int
	if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
		return 0, fmt.Errorf("parsing db_version %q: %w", raw, err)
	}
	return version, nil
}

func createFreshSchema(db *sql.DB) error {
	if _, err := db.Exec(freshSchemaDDL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(
		`INSERT INTO metadata(key, value) VALUES
			('db_version', ?), ('created_at', ?), ('last_maintenance_at', ?),
			('current_retention_days', '30')`,
		fmt.Sprintf("%d", latestSchemaVersion), now, now,
	)
	if err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}
	return nil
}

// backupBeforeMigration copies the database file to a sibling path tagged
// with the source schema version and a timestamp, per spec §4.3: every
// migration step is preceded by a backup so a failed migration can be
// recovered from manually.
func backupBeforeMigration(path string, sourceVersion int) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening db for backup: %w", err)
	}
	defer src.Close()

	backupPath := fmt.Sprintf("%s.v%d.%d.bak", path, sourceVersion, time.Now().Unix())
	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("creating backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copying db to backup: %w", err)
	}
	return nil
}
