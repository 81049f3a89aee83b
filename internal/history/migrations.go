package history

import (
	"database/sql"
	"fmt"
)

// migrationStep upgrades the schema by exactly one version inside a single
// transaction, mirroring the sequential from/to registry shape the teacher
// uses for config migrations (grimm-is-flywall/internal/config/migration.go),
// re-expressed against raw SQL DDL/DML instead of an HCL-described config
// tree.
type migrationStep struct {
	from, to int
	desc     string
	apply    func(tx *sql.Tx) error
}

var migrationSteps = []migrationStep{
	{1, 2, "create tiered minute/hour tables and metadata", migrateV1toV2},
	{2, 3, "replace simple indexes with covering indexes; ensure bandwidth totals table", migrateV2toV3},
	{3, 4, "add sample_count to minute and hour tables", migrateV3toV4},
	{4, 5, "add hardware-stats tables", migrateV4toV5},
}

func findMigration(from, to int) (migrationStep, bool) {
	for _, m := range migrationSteps {
		if m.from == from && m.to == to {
			return m, true
		}
	}
	return migrationStep{}, false
}

// migrateTo walks the migration chain from the database's current version
// up to latestSchemaVersion, one step at a time, backing up the file
// before each step. If any step fails, migration stops and the error is
// returned with the database left on the last successfully reached
// version. Open then closes the database and returns that error; no
// in-memory fallback store is created.
func migrateTo(db *sql.DB, path string, from int) error {
	version := from
	for version < latestSchemaVersion {
		step, ok := findMigration(version, version+1)
		if !ok {
			return fmt.Errorf("no migration registered for v%d -> v%d", version, version+1)
		}

		if err := backupBeforeMigration(path, version); err != nil {
			return fmt.Errorf("backing up before migration v%d -> v%d: %w", step.from, step.to, err)
		}

		if err := runMigrationStep(db, step); err != nil {
			return fmt.Errorf("migration v%d -> v%d (%s): %w", step.from, step.to, step.desc, err)
		}
		version = step.to
	}
	return nil
}

func runMigrationStep(db *sql.DB, step migrationStep) error {
	if _, err := db.Exec(`PRAGMA foreign_keys=OFF`); err != nil {
		return fmt.Errorf("disabling foreign keys: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := step.apply(tx); err != nil {
		tx.Rollback()
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO metadata(key, value) VALUES('db_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		fmt.Sprintf("%d", step.to),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("updating db_version: %w", err)
	}

	return tx.Commit()
}

// migrateV1toV2 assumes v1 is a minimal single-table layout (a "raw"-only
// database predating tiered history) and lays down the tiered schema plus
// metadata alongside it.
func migrateV1toV2(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raw (
			epoch_seconds INTEGER NOT NULL,
			iface_name    TEXT    NOT NULL,
			upload_bps    REAL    NOT NULL,
			download_bps  REAL    NOT NULL,
			PRIMARY KEY (epoch_seconds, iface_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_epoch ON raw(epoch_seconds)`,
		`CREATE TABLE IF NOT EXISTS minute (
			epoch_seconds INTEGER NOT NULL,
			iface_name    TEXT    NOT NULL,
			upload_avg    REAL    NOT NULL,
			download_avg  REAL    NOT NULL,
			upload_max    REAL    NOT NULL,
			download_max  REAL    NOT NULL,
			PRIMARY KEY (epoch_seconds, iface_name)
		)`,
		`CREATE TABLE IF NOT EXISTS hour (
			epoch_seconds INTEGER NOT NULL,
			iface_name    TEXT    NOT NULL,
			upload_avg    REAL    NOT NULL,
			download_avg  REAL    NOT NULL,
			upload_max    REAL    NOT NULL,
			download_max  REAL    NOT NULL,
			PRIMARY KEY (epoch_seconds, iface_name)
		)`,
		`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateV2toV3 drops the simple single-column indexes in favor of
// covering indexes that satisfy the speed_history query without a table
// lookup, ensures created_at is present, and adds the bandwidth totals
// table.
func migrateV2toV3(tx *sql.Tx) error {
	stmts := []string{
		`DROP INDEX IF EXISTS idx_raw_epoch`,
		`CREATE INDEX IF NOT EXISTS idx_raw_epoch_desc ON raw(epoch_seconds DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_minute_covering ON minute(epoch_seconds DESC, iface_name, upload_avg, download_avg)`,
		`CREATE INDEX IF NOT EXISTS idx_hour_covering ON hour(epoch_seconds DESC, iface_name, upload_avg, download_avg)`,
		`CREATE TABLE IF NOT EXISTS bandwidth_totals (
			iface_name           TEXT PRIMARY KEY,
			total_upload_bytes   INTEGER NOT NULL DEFAULT 0,
			total_download_bytes INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := tx.Exec(
		`INSERT INTO metadata(key, value) VALUES('created_at', datetime('now'))
		 ON CONFLICT(key) DO NOTHING`,
	)
	return err
}

// migrateV3toV4 adds the sample_count column SQLite has no native
// ADD COLUMN ... DEFAULT backfill concern for, since existing rows get the
// literal default applied.
func migrateV3toV4(tx *sql.Tx) error {
	stmts := []string{
		`ALTER TABLE minute ADD COLUMN sample_count INTEGER NOT NULL DEFAULT 1`,
		`ALTER TABLE hour ADD COLUMN sample_count INTEGER NOT NULL DEFAULT 1`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateV4toV5 adds the hardware-stats tables. This widget doesn't ingest
// hardware metrics (out of core scope per spec §4.3's own note), but the
// table is created so the schema version matches what a full install would
// have, and so a downgrade-then-upgrade round trip is well defined.
func migrateV4toV5(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS hw_stats (
		epoch_seconds INTEGER NOT NULL,
		metric_name   TEXT    NOT NULL,
		value         REAL    NOT NULL,
		PRIMARY KEY (epoch_seconds, metric_name)
	)`)
	return err
}
