package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazz-dev/reachprobe/internal/probe"
)

// InsertResult appends one probe observation. History is never updated in place.
func (d *DB) InsertResult(ctx context.Context, rec ProbeRecord) error {
	r := rec.Result
	at := r.CheckedAt
	if at.IsZero() {
		at = time.Now()
	}
	var httpStatus any
	if r.HTTPStatus != 0 {
		httpStatus = r.HTTPStatus
	}
	_, err := d.db.ExecContext(ctx,
		d.rebind(`INSERT INTO probe_history
			(run_id, application_id, endpoint_id, status, http_status, latency_ms, error, failure, final_url, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.RunID, rec.ApplicationID, rec.EndpointID, string(r.Status), httpStatus,
		r.LatencyMs, r.Error, string(r.Failure), r.URL, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("inserting result for endpoint %d: %w", rec.EndpointID, classify(err))
	}
	return nil
}

const historySelect = `
	SELECT h.id, h.run_id, h.application_id, a.name, h.endpoint_id, e.label, e.url,
	       h.status, h.http_status, h.latency_ms, h.error, h.failure, h.final_url, h.created_at
	FROM probe_history h
	JOIN applications a ON a.id = h.application_id
	JOIN endpoints e ON e.id = h.endpoint_id`

func historyWhere(f HistoryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ApplicationID != 0 {
		conds = append(conds, "h.application_id = ?")
		args = append(args, f.ApplicationID)
	}
	if f.EndpointID != 0 {
		conds = append(conds, "h.endpoint_id = ?")
		args = append(args, f.EndpointID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// History returns stored observations newest first. The limit is clamped to
// [1, MaxHistoryLimit] with DefaultHistoryLimit for zero.
func (d *DB) History(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error) {
	f = f.Clamp()
	where, args := historyWhere(f)
	args = append(args, f.Limit)
	rows, err := d.db.QueryContext(ctx,
		d.rebind(historySelect+where+` ORDER BY h.created_at DESC, h.id DESC LIMIT ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()
	return scanHistory(rows)
}

// HistoryStats summarises the same window History would return.
func (d *DB) HistoryStats(ctx context.Context, f HistoryFilter) (HistoryStats, error) {
	f = f.Clamp()
	where, args := historyWhere(f)
	args = append(args, f.Limit)
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN w.status = 'reachable' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(w.latency_ms), 0)
		FROM (
			SELECT h.status, h.latency_ms FROM probe_history h` + where + `
			ORDER BY h.created_at DESC, h.id DESC LIMIT ?
		) w`

	var s HistoryStats
	if err := d.db.QueryRowContext(ctx, d.rebind(query), args...).Scan(&s.Total, &s.Reachable, &s.AvgLatencyMs); err != nil {
		return HistoryStats{}, fmt.Errorf("aggregating history: %w", err)
	}
	s.Blocked = s.Total - s.Reachable
	return s, nil
}

// LatestResult returns the newest observation for an endpoint, or nil if none.
func (d *DB) LatestResult(ctx context.Context, endpointID int64) (*HistoryEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		d.rebind(historySelect+` WHERE h.endpoint_id = ? ORDER BY h.created_at DESC, h.id DESC LIMIT 1`), endpointID)
	if err != nil {
		return nil, fmt.Errorf("querying latest result for endpoint %d: %w", endpointID, err)
	}
	defer rows.Close()
	entries, err := scanHistory(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// AllLatest returns the newest observation of every endpoint that has one.
func (d *DB) AllLatest(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := d.db.QueryContext(ctx, historySelect+`
		WHERE h.id IN (SELECT MAX(id) FROM probe_history GROUP BY endpoint_id)
		ORDER BY a.name, e.label`)
	if err != nil {
		return nil, fmt.Errorf("querying all latest: %w", err)
	}
	defer rows.Close()
	return scanHistory(rows)
}

// LastRun returns the timestamp of the newest stored observation, or nil when
// history is empty.
func (d *DB) LastRun(ctx context.Context) (*time.Time, error) {
	var s string
	err := d.db.QueryRowContext(ctx,
		`SELECT created_at FROM probe_history ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last run: %w", err)
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanHistory(rows *sql.Rows) ([]HistoryEntry, error) {
	entries := []HistoryEntry{}
	for rows.Next() {
		var (
			h          HistoryEntry
			httpStatus sql.NullInt64
			created    string
		)
		err := rows.Scan(&h.ID, &h.RunID, &h.ApplicationID, &h.ApplicationName, &h.EndpointID, &h.EndpointLabel,
			&h.EndpointURL, &h.Status, &httpStatus, &h.LatencyMs, &h.Error, &h.Failure, &h.FinalURL, &created)
		if err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		if httpStatus.Valid {
			code := int(httpStatus.Int64)
			h.HTTPStatus = &code
		}
		if h.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}

// Result converts a stored entry back into a probe result.
func (h HistoryEntry) Result() probe.Result {
	r := probe.Result{
		Status:    probe.Status(h.Status),
		LatencyMs: h.LatencyMs,
		Error:     h.Error,
		Failure:   probe.Failure(h.Failure),
		URL:       h.FinalURL,
		CheckedAt: h.CreatedAt,
	}
	if h.HTTPStatus != nil {
		r.HTTPStatus = *h.HTTPStatus
	}
	return r
}
