package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cartvision/internal/alerts"
	"github.com/banshee-data/cartvision/internal/events"
	"github.com/banshee-data/cartvision/internal/reconcile"
	"github.com/banshee-data/cartvision/internal/vision/geometry"
)

// SessionRecord is the stored header row of a session.
type SessionRecord struct {
	SessionID           string     `json:"session_id"`
	ManifestID          string     `json:"manifest_id,omitempty"`
	Policy              string     `json:"policy"`
	Status              string     `json:"status"`
	StartedAt           time.Time  `json:"started_at"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	FramesReceived      int        `json:"frames_received"`
	FramesProcessed     int        `json:"frames_processed"`
	FramesDropped       int        `json:"frames_dropped"`
	AcceptedEvents      int        `json:"accepted_events"`
	AggregateConfidence *float64   `json:"aggregate_confidence,omitempty"`
}

// RecordSessionStart inserts the open session row.
func (db *DB) RecordSessionStart(ctx context.Context, sessionID, manifestID, policy string, startedAt time.Time) error {
	return retryOnBusy(func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (session_id, manifest_id, policy, status, started_unix_nanos)
			VALUES (?, NULLIF(?, ''), ?, 'open', ?)`,
			sessionID, manifestID, policy, unixNanos(startedAt))
		return err
	})
}

// RecordDetection stores one accepted detection event.
func (db *DB) RecordDetection(ctx context.Context, d events.Detection) error {
	return retryOnBusy(func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO detection_events (
				event_id, session_id, frame_id, track_id, product_id, label, match_score,
				confidence, box_top, box_left, box_bottom, box_right, detected_unix_nanos
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.SessionID, d.FrameID, d.TrackID, d.ProductID, d.Label, d.MatchScore,
			d.Confidence, d.Box.Top, d.Box.Left, d.Box.Bottom, d.Box.Right, unixNanos(d.Timestamp))
		return err
	})
}

// RecordSummary closes the session row and stores its diff and alerts. The
// session row is created if RecordSessionStart never ran.
func (db *DB) RecordSummary(ctx context.Context, s events.Summary) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (
				session_id, manifest_id, policy, status, started_unix_nanos, ended_unix_nanos,
				frames_received, frames_processed, frames_dropped, accepted_events, aggregate_confidence
			) VALUES (?, NULLIF(?, ''), ?, 'closed', ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				status = 'closed',
				ended_unix_nanos = excluded.ended_unix_nanos,
				frames_received = excluded.frames_received,
				frames_processed = excluded.frames_processed,
				frames_dropped = excluded.frames_dropped,
				accepted_events = excluded.accepted_events,
				aggregate_confidence = excluded.aggregate_confidence`,
			s.SessionID, s.ManifestID, s.Policy, unixNanos(s.StartedAt), unixNanos(s.EndedAt),
			s.Frames.Received, s.Frames.Processed, s.Frames.TotalDropped(), len(s.Events),
			nullFloat(s.AggregateConfidence))
		if err != nil {
			return fmt.Errorf("session row: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM diff_lines WHERE session_id = ?`, s.SessionID); err != nil {
			return err
		}
		for i, l := range s.Diff {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO diff_lines (session_id, position, product_id, expected, detected, delta, kind, priority)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				s.SessionID, i, l.ProductID, l.Expected, l.Detected, l.Delta, string(l.Kind), string(l.Priority)); err != nil {
				return fmt.Errorf("diff line %d: %w", i, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE session_id = ?`, s.SessionID); err != nil {
			return err
		}
		for i, a := range s.Alerts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO alerts (alert_id, session_id, position, kind, severity, message, related_product_id, created_unix_nanos)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				a.ID, s.SessionID, i, string(a.Kind), string(a.Severity), a.Message, a.RelatedProductID, unixNanos(s.EndedAt)); err != nil {
				return fmt.Errorf("alert %d: %w", i, err)
			}
		}
		return nil
	})
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// Session returns the stored header of a session, or ErrNotFound.
func (db *DB) Session(ctx context.Context, sessionID string) (SessionRecord, error) {
	var (
		r          SessionRecord
		manifestID sql.NullString
		started    int64
		ended      sql.NullInt64
		agg        sql.NullFloat64
	)
	err := db.QueryRowContext(ctx, `
		SELECT session_id, manifest_id, policy, status, started_unix_nanos, ended_unix_nanos,
			frames_received, frames_processed, frames_dropped, accepted_events, aggregate_confidence
		FROM sessions WHERE session_id = ?`, sessionID).Scan(
		&r.SessionID, &manifestID, &r.Policy, &r.Status, &started, &ended,
		&r.FramesReceived, &r.FramesProcessed, &r.FramesDropped, &r.AcceptedEvents, &agg)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return SessionRecord{}, err
	}
	r.ManifestID = manifestID.String
	r.StartedAt = fromUnixNanos(started)
	if ended.Valid {
		t := fromUnixNanos(ended.Int64)
		r.EndedAt = &t
	}
	if agg.Valid {
		v := agg.Float64
		r.AggregateConfidence = &v
	}
	return r, nil
}

// SessionEvents returns a session's accepted detections in time order.
func (db *DB) SessionEvents(ctx context.Context, sessionID string) ([]events.Detection, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT event_id, session_id, frame_id, track_id, product_id, label, match_score,
			confidence, box_top, box_left, box_bottom, box_right, detected_unix_nanos
		FROM detection_events WHERE session_id = ?
		ORDER BY detected_unix_nanos, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Detection
	for rows.Next() {
		var d events.Detection
		var b geometry.Box
		var ts int64
		if err := rows.Scan(&d.ID, &d.SessionID, &d.FrameID, &d.TrackID, &d.ProductID, &d.Label,
			&d.MatchScore, &d.Confidence, &b.Top, &b.Left, &b.Bottom, &b.Right, &ts); err != nil {
			return nil, err
		}
		d.Box = b
		d.Timestamp = fromUnixNanos(ts)
		out = append(out, d)
	}
	return out, rows.Err()
}

// SessionDiff returns the stored reconciliation lines in their original
// order.
func (db *DB) SessionDiff(ctx context.Context, sessionID string) ([]reconcile.DiffResult, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT product_id, expected, detected, delta, kind, priority
		FROM diff_lines WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reconcile.DiffResult
	for rows.Next() {
		var l reconcile.DiffResult
		var kind, priority string
		if err := rows.Scan(&l.ProductID, &l.Expected, &l.Detected, &l.Delta, &kind, &priority); err != nil {
			return nil, err
		}
		l.Kind = reconcile.Kind(kind)
		l.Priority = reconcile.Priority(priority)
		out = append(out, l)
	}
	return out, rows.Err()
}

// SessionAlerts returns the stored alerts in their original order.
func (db *DB) SessionAlerts(ctx context.Context, sessionID string) ([]alerts.AlertRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT alert_id, kind, severity, message, related_product_id
		FROM alerts WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.AlertRecord
	for rows.Next() {
		var a alerts.AlertRecord
		var kind, severity string
		if err := rows.Scan(&a.ID, &kind, &severity, &a.Message, &a.RelatedProductID); err != nil {
			return nil, err
		}
		a.Kind = alerts.Kind(kind)
		a.Severity = alerts.Severity(severity)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentSessions lists the most recently started sessions.
func (db *DB) RecentSessions(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT session_id FROM sessions ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
