package history

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	rawRetention    = 24 * time.Hour
	minuteRetention = 30 * 24 * time.Hour

	// retentionGraceWindow is how long a *reduction* in retention_days is
	// delayed before it actually deletes anything (spec §4.3's retention
	// grace protocol): protects users from an accidental destructive
	// settings change.
	retentionGraceWindow = 48 * time.Hour
)

// RunMaintenance performs the periodic raw->minute and minute->hour
// rollups, applies the retention grace protocol for the hour tier, and
// VACUUMs if any rows were pruned. now is passed in
// explicitly so tests can drive the rollup boundaries deterministically.
func (s *Store) RunMaintenance(now time.Time, retentionDays int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning maintenance transaction: %w", err)
	}

	prunedRaw, err := rollupRawToMinute(tx, now)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("raw->minute rollup: %w", err)
	}

	prunedMinute, err := rollupMinuteToHour(tx, now)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("minute->hour rollup: %w", err)
	}

	prunedHour, err := applyRetentionGrace(tx, now, retentionDays)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("retention grace protocol: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO metadata(key, value) VALUES('last_maintenance_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		now.UTC().Format(time.RFC3339),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("updating last_maintenance_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing maintenance: %w", err)
	}

	if prunedRaw+prunedMinute+prunedHour > 0 {
		if _, err := s.db.Exec(`VACUUM`); err != nil {
			if s.logger != nil {
				s.logger.Warn("vacuum after maintenance failed", map[string]any{"error": err.Error()})
			}
		}
	}
	return nil
}

// rollupRawToMinute aggregates raw rows older than rawRetention into the
// minute tier (AVG/MAX/COUNT per 60s bin) and deletes the source rows,
// never losing the peak (spec §4.3 invariant (iv)).
func rollupRawToMinute(tx *sql.Tx, now time.Time) (int64, error) {
	cutoff := now.Add(-rawRetention).Unix()

	_, err := tx.Exec(`
		INSERT OR IGNORE INTO minute(epoch_seconds, iface_name, upload_avg, download_avg, upload_max, download_max, sample_count)
		SELECT (epoch_seconds / 60) * 60 AS bin, iface_name,
		       AVG(upload_bps), AVG(download_bps), MAX(upload_bps), MAX(download_bps), COUNT(*)
		FROM raw
		WHERE epoch_seconds < ?
		GROUP BY bin, iface_name
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := tx.Exec(`DELETE FROM raw WHERE epoch_seconds < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// rollupMinuteToHour aggregates minute rows older than minuteRetention
// into the hour tier, weighting the average by sample_count and carrying
// the peak forward unchanged.
func rollupMinuteToHour(tx *sql.Tx, now time.Time) (int64, error) {
	cutoff := now.Add(-minuteRetention).Unix()

	_, err := tx.Exec(`
		INSERT OR IGNORE INTO hour(epoch_seconds, iface_name, upload_avg, download_avg, upload_max, download_max, sample_count)
		SELECT (epoch_seconds / 3600) * 3600 AS bin, iface_name,
		       SUM(upload_avg * sample_count) / NULLIF(SUM(sample_count), 0),
		       SUM(download_avg * sample_count) / NULLIF(SUM(sample_count), 0),
		       MAX(upload_max), MAX(download_max), SUM(sample_count)
		FROM minute
		WHERE epoch_seconds < ?
		GROUP BY bin, iface_name
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := tx.Exec(`DELETE FROM minute WHERE epoch_seconds < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// applyRetentionGrace implements spec §4.3's retention grace protocol for
// the hour tier: raising retention prunes immediately at the new value;
// lowering it schedules a 48h-delayed prune instead of deleting data on
// the spot.
func applyRetentionGrace(tx *sql.Tx, now time.Time, newRetentionDays int) (int64, error) {
	meta, err := readMetadataMap(tx)
	if err != nil {
		return 0, err
	}

	current := 30
	if v, ok := meta["current_retention_days"]; ok {
		fmt.Sscanf(v, "%d", &current)
	}

	switch {
	case newRetentionDays == current:
		return pruneHourOlderThan(tx, now, newRetentionDays)

	case newRetentionDays > current:
		if err := setMetadata(tx, "current_retention_days", fmt.Sprintf("%d", newRetentionDays)); err != nil {
			return 0, err
		}
		if err := clearMetadata(tx, "prune_scheduled_at", "pending_retention_days"); err != nil {
			return 0, err
		}
		return pruneHourOlderThan(tx, now, newRetentionDays)

	default: // newRetentionDays < current
		_, pending := meta["pending_retention_days"]
		if !pending {
			scheduledAt := now.Add(retentionGraceWindow)
			if err := setMetadata(tx, "prune_scheduled_at", scheduledAt.UTC().Format(time.RFC3339)); err != nil {
				return 0, err
			}
			if err := setMetadata(tx, "pending_retention_days", fmt.Sprintf("%d", newRetentionDays)); err != nil {
				return 0, err
			}
			return 0, nil
		}

		scheduledAtStr := meta["prune_scheduled_at"]
		scheduledAt, err := time.Parse(time.RFC3339, scheduledAtStr)
		if err != nil || now.Before(scheduledAt) {
			// Grace window still open: no-op.
			return 0, nil
		}

		pendingDays := 30
		fmt.Sscanf(meta["pending_retention_days"], "%d", &pendingDays)

		pruned, err := pruneHourOlderThan(tx, now, pendingDays)
		if err != nil {
			return 0, err
		}
		if err := setMetadata(tx, "current_retention_days", fmt.Sprintf("%d", pendingDays)); err != nil {
			return 0, err
		}
		if err := clearMetadata(tx, "prune_scheduled_at", "pending_retention_days"); err != nil {
			return 0, err
		}
		return pruned, nil
	}
}

func pruneHourOlderThan(tx *sql.Tx, now time.Time, days int) (int64, error) {
	cutoff := now.AddDate(0, 0, -days).Unix()
	result, err := tx.Exec(`DELETE FROM hour WHERE epoch_seconds < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func readMetadataMap(tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.Query(`SELECT key, value FROM metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func setMetadata(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(
		`INSERT INTO metadata(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func clearMetadata(tx *sql.Tx, keys ...string) error {
	for _, k := range keys {
		if _, err := tx.Exec(`DELETE FROM metadata WHERE key=?`, k); err != nil {
			return err
		}
	}
	return nil
}
