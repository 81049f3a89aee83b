package history

import (
	"fmt"
	"sort"
	"time"
)

// Resolution names the caller's requested query granularity (spec §4.3).
type Resolution string

const (
	ResolutionRaw    Resolution = "raw"
	ResolutionMinute Resolution = "minute"
	ResolutionHour   Resolution = "hour"
	ResolutionDay    Resolution = "day"
)

func resolutionBinSeconds(r Resolution) int64 {
	switch r {
	case ResolutionMinute:
		return 60
	case ResolutionHour:
		return 3600
	case ResolutionDay:
		return 86400
	default:
		return 1 // raw: no additional binning beyond the native sample grid
	}
}

// HistoryPoint is one bin of the speed_history result: upload_bps and
// download_bps are the PEAK values observed in that bin, never an
// average, per spec §4.3.
type HistoryPoint struct {
	EpochSeconds int64
	UploadBps    float64
	DownloadBps  float64
}

type tierSpec struct {
	table   string
	upCol   string
	downCol string
}

var tiers = []tierSpec{
	{"raw", "upload_bps", "download_bps"},
	{"minute", "upload_max", "download_max"},
	{"hour", "upload_max", "download_max"},
}

// SpeedHistory returns peak upload/download bps per bin across the
// requested window, unioning whichever tiers overlap it, zero-padded to
// the resolution grid with no null timestamps (spec §4.3). iface == ""
// or "All" aggregates across every interface by summing the interfaces at
// each native timestamp, then taking the peak of those sums within each
// bin; a specific name filters to an exact match.
func (s *Store) SpeedHistory(start, end time.Time, iface string, resolution Resolution) ([]HistoryPoint, error) {
	bin := resolutionBinSeconds(resolution)
	startEpoch, endEpoch := start.Unix(), end.Unix()

	acc := map[int64]*HistoryPoint{}

	for _, t := range tiers {
		rows, err := s.queryTierBinned(t, startEpoch, endEpoch, iface, bin)
		if err != nil {
			return nil, fmt.Errorf("querying tier %s: %w", t.table, err)
		}
		for _, r := range rows {
			existing, ok := acc[r.EpochSeconds]
			if !ok {
				cp := r
				acc[r.EpochSeconds] = &cp
				continue
			}
			// Duplicate-bin collision between tiers: take the max of
			// both sources, never sum, so overlap doesn't double-count
			// (spec §4.3).
			if r.UploadBps > existing.UploadBps {
				existing.UploadBps = r.UploadBps
			}
			if r.DownloadBps > existing.DownloadBps {
				existing.DownloadBps = r.DownloadBps
			}
		}
	}

	gridStep := bin
	if gridStep <= 0 {
		gridStep = 1
	}
	for e := (startEpoch / gridStep) * gridStep; e <= endEpoch; e += gridStep {
		if _, ok := acc[e]; !ok {
			acc[e] = &HistoryPoint{EpochSeconds: e}
		}
	}

	out := make([]HistoryPoint, 0, len(acc))
	for _, p := range acc {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EpochSeconds < out[j].EpochSeconds })
	return out, nil
}

func (s *Store) queryTierBinned(t tierSpec, startEpoch, endEpoch int64, iface string, bin int64) ([]HistoryPoint, error) {
	if bin <= 0 {
		bin = 1
	}

	var query string
	var args []any
	if iface == "" || iface == "All" {
		// Sum across interfaces at the tier's own native row granularity
		// first (the inner GROUP BY epoch_seconds), then MAX over time
		// once binning to a coarser outer resolution: summing interfaces
		// and time in one pass would add a second interface's peak
		// (e.g. upload_max=200) into a different interface's peak at a
		// different native timestamp (upload_max=1) whenever both land
		// in the same outer bin, overstating the combined peak instead
		// of reporting the true simultaneous peak (spec §4.3).
		query = fmt.Sprintf(
			`SELECT (bucket/%d)*%d AS bin, MAX(up_total), MAX(down_total)
			 FROM (
			     SELECT epoch_seconds AS bucket, SUM(%s) AS up_total, SUM(%s) AS down_total
			     FROM %s WHERE epoch_seconds BETWEEN ? AND ?
			     GROUP BY epoch_seconds
			 )
			 GROUP BY bin`,
			bin, bin, t.upCol, t.downCol, t.table,
		)
		args = []any{startEpoch, endEpoch}
	} else {
		query = fmt.Sprintf(
			`SELECT (epoch_seconds/%d)*%d AS bin, MAX(%s), MAX(%s)
			 FROM %s WHERE epoch_seconds BETWEEN ? AND ? AND iface_name = ? GROUP BY bin`,
			bin, bin, t.upCol, t.downCol, t.table,
		)
		args = []any{startEpoch, endEpoch, iface}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.EpochSeconds, &p.UploadBps, &p.DownloadBps); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TotalBandwidth sums bytes transferred in [start, end] (both ends
// inclusive) across tiers.
// Each tier contributes avg*sample_count (an integral over its bin's
// duration); raw rows count as sample_count 1 at their recorded bps,
// which is exact when the poll interval is ~1s and a close approximation
// otherwise (spec §4.3: "the use of sample_count guarantees the integral
// is accurate regardless of observed aggregation density" for the
// minute/hour tiers, where sample_count is tracked explicitly).
func (s *Store) TotalBandwidth(start, end time.Time, iface string) (uploadBytes, downloadBytes int64, err error) {
	startEpoch, endEpoch := start.Unix(), end.Unix()

	for _, t := range tiers {
		var upExpr, downExpr string
		if t.table == "raw" {
			upExpr, downExpr = "upload_bps", "download_bps"
		} else {
			upExpr, downExpr = "upload_avg*sample_count", "download_avg*sample_count"
		}

		var query string
		var args []any
		if iface == "" || iface == "All" {
			query = fmt.Sprintf(`SELECT COALESCE(SUM(%s),0), COALESCE(SUM(%s),0) FROM %s WHERE epoch_seconds BETWEEN ? AND ?`, upExpr, downExpr, t.table)
			args = []any{startEpoch, endEpoch}
		} else {
			query = fmt.Sprintf(`SELECT COALESCE(SUM(%s),0), COALESCE(SUM(%s),0) FROM %s WHERE epoch_seconds BETWEEN ? AND ? AND iface_name=?`, upExpr, downExpr, t.table)
			args = []any{startEpoch, endEpoch, iface}
		}

		var upSum, downSum float64
		if err := s.db.QueryRow(query, args...).Scan(&upSum, &downSum); err != nil {
			return 0, 0, fmt.Errorf("summing tier %s: %w", t.table, err)
		}
		uploadBytes += int64(upSum)
		downloadBytes += int64(downSum)
	}
	return uploadBytes, downloadBytes, nil
}

// DistinctInterfaces returns every interface name that appears in any
// tier, for populating the "selected interfaces" settings UI.
func (s *Store) DistinctInterfaces() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT iface_name FROM raw
		UNION SELECT iface_name FROM minute
		UNION SELECT iface_name FROM hour
		ORDER BY iface_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
