package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xrdesk/xrbridge/internal/monitoring"
	"github.com/xrdesk/xrbridge/internal/timeutil"
	"github.com/xrdesk/xrbridge/internal/vdisplay"
)

// DefaultQueryLimit caps history queries that pass a non-positive limit.
const DefaultQueryLimit = 100

// Display lifecycle actions.
const (
	DisplayCreated = "created"
	DisplayRemoved = "removed"
)

// ActivationSession is one contiguous period with the effect enabled.
// EndedAt is nil while the session is still open.
type ActivationSession struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Duration returns the session length, measured to now if still open.
func (s ActivationSession) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

type DisplayEvent struct {
	DisplayID string    `json:"display_id"`
	Width     uint32    `json:"width"`
	Height    uint32    `json:"height"`
	Action    string    `json:"action"`
	At        time.Time `json:"at"`
}

type Recenter struct {
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// RecordActivation opens a session when enabled is true and closes every
// open session otherwise. Opening a session closes any that was left open
// by an unclean shutdown.
func (db *DB) RecordActivation(ctx context.Context, enabled bool, at time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE activation_sessions SET ended_ms = ? WHERE ended_ms IS NULL`,
		at.UnixMilli()); err != nil {
		return fmt.Errorf("close activation sessions: %w", err)
	}
	if enabled {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO activation_sessions (session_id, started_ms) VALUES (?, ?)`,
			uuid.NewString(), at.UnixMilli()); err != nil {
			return fmt.Errorf("open activation session: %w", err)
		}
	}
	return tx.Commit()
}

// RecordRecenter logs one recenter request.
func (db *DB) RecordRecenter(ctx context.Context, source string, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO recenters (source, at_ms) VALUES (?, ?)`,
		source, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record recenter: %w", err)
	}
	return nil
}

// RecordDisplayEvent logs one display creation or removal.
func (db *DB) RecordDisplayEvent(ctx context.Context, ev DisplayEvent) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO display_events (display_id, width, height, action, at_ms) VALUES (?, ?, ?, ?, ?)`,
		ev.DisplayID, ev.Width, ev.Height, ev.Action, ev.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("record display event: %w", err)
	}
	return nil
}

func normLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	return limit
}

// ActivationSessions returns the most recent sessions, newest first.
func (db *DB) ActivationSessions(ctx context.Context, limit int) ([]ActivationSession, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, started_ms, ended_ms FROM activation_sessions
		 ORDER BY started_ms DESC LIMIT ?`, normLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActivationSession
	for rows.Next() {
		var (
			s       ActivationSession
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &started, &ended); err != nil {
			return nil, err
		}
		s.StartedAt = time.UnixMilli(started).UTC()
		if ended.Valid {
			t := time.UnixMilli(ended.Int64).UTC()
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Recenters returns the most recent recenter requests, newest first.
func (db *DB) Recenters(ctx context.Context, limit int) ([]Recenter, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT source, at_ms FROM recenters ORDER BY at_ms DESC, recenter_id DESC LIMIT ?`,
		normLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recenter
	for rows.Next() {
		var (
			r  Recenter
			at int64
		)
		if err := rows.Scan(&r.Source, &at); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// DisplayEvents returns the most recent display lifecycle events, newest
// first.
func (db *DB) DisplayEvents(ctx context.Context, limit int) ([]DisplayEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT display_id, width, height, action, at_ms FROM display_events
		 ORDER BY at_ms DESC, event_id DESC LIMIT ?`, normLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DisplayEvent
	for rows.Next() {
		var (
			ev DisplayEvent
			at int64
		)
		if err := rows.Scan(&ev.DisplayID, &ev.Width, &ev.Height, &ev.Action, &at); err != nil {
			return nil, err
		}
		ev.At = time.UnixMilli(at).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DisplayLog turns registry change notifications into display_events rows.
// Its Changed method is a vdisplay.Listener.
type DisplayLog struct {
	db    *DB
	clock timeutil.Clock

	mu   sync.Mutex
	seen map[string]vdisplay.Info
}

// NewDisplayLog returns a DisplayLog that treats initial as already
// recorded, typically the list restored at startup.
func NewDisplayLog(db *DB, clock timeutil.Clock, initial []vdisplay.Info) *DisplayLog {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	l := &DisplayLog{db: db, clock: clock, seen: make(map[string]vdisplay.Info)}
	for _, info := range initial {
		l.seen[info.ID] = info
	}
	return l
}

// Changed records the difference between list and the previous list.
func (l *DisplayLog) Changed(list []vdisplay.Info) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	next := make(map[string]vdisplay.Info, len(list))
	var events []DisplayEvent
	for _, info := range list {
		next[info.ID] = info
		if _, ok := l.seen[info.ID]; !ok {
			events = append(events, DisplayEvent{
				DisplayID: info.ID, Width: info.Width, Height: info.Height,
				Action: DisplayCreated, At: now,
			})
		}
	}
	for id, info := range l.seen {
		if _, ok := next[id]; !ok {
			events = append(events, DisplayEvent{
				DisplayID: id, Width: info.Width, Height: info.Height,
				Action: DisplayRemoved, At: now,
			})
		}
	}
	l.seen = next

	for _, ev := range events {
		if err := l.db.RecordDisplayEvent(context.Background(), ev); err != nil {
			monitoring.Logf("[db] %v", err)
		}
	}
}
