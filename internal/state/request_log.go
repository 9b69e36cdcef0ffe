package state

import (
	"context"
	"fmt"
	"time"

	"github.com/pcbdrill/pcb-drill/internal/dispatch"
)

var _ dispatch.Recorder = (*Store)(nil)

// RecordRequest appends one dispatched request to the request log.
func (s *Store) RecordRequest(ctx context.Context, rec dispatch.Record) error {
	at := rec.At
	if at.IsZero() {
		at = s.now()
	}
	var errText any
	if rec.Error != "" {
		errText = rec.Error
	}
	success := 0
	if rec.Success {
		success = 1
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO request_log(id, command, success, duration_ms, error, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, rec.ID, rec.Command, success, float64(rec.Duration)/float64(time.Millisecond), errText,
		at.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// RecentRequests returns up to limit log entries, newest first.
func (s *Store) RecentRequests(ctx context.Context, limit int) ([]dispatch.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, command, success, duration_ms, COALESCE(error, ''), created_at
FROM request_log
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query request log: %w", err)
	}
	defer rows.Close()

	var out []dispatch.Record
	for rows.Next() {
		var (
			rec     dispatch.Record
			success int
			ms      float64
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.Command, &success, &ms, &rec.Error, &created); err != nil {
			return nil, fmt.Errorf("scan request log: %w", err)
		}
		rec.Success = success != 0
		rec.Duration = time.Duration(ms * float64(time.Millisecond))
		rec.At, err = time.Parse(timeFormat, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", created, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneRequests deletes log entries older than retention.
func (s *Store) PruneRequests(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-retention).UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx, "DELETE FROM request_log WHERE created_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune request log: %w", err)
	}
	return res.RowsAffected()
}
