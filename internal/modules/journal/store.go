// README: Postgres persistence for journal entries.
package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultListLimit = 200

// Store handles navigation_events persistence.
type Store struct {
	db *pgxpool.Pool
}

// NewStore returns a Store backed by the given connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the navigation_events table and its index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS navigation_events (
			id               BIGSERIAL PRIMARY KEY,
			session_id       TEXT        NOT NULL,
			event            TEXT        NOT NULL,
			route_distance_m DOUBLE PRECISION,
			error            TEXT        NOT NULL DEFAULT '',
			geohash          TEXT        NOT NULL DEFAULT '',
			payload          JSONB,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS navigation_events_session_idx
			ON navigation_events (session_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("ensure navigation_events schema: %w", err)
	}
	return nil
}

// Append inserts e and returns its id.
func (s *Store) Append(ctx context.Context, e Entry) (int64, error) {
	var payload any
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO navigation_events (session_id, event, route_distance_m, error, geohash, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		RETURNING id
	`, e.SessionID, e.Event, e.RouteDistanceM, e.Error, e.Geohash, payload, e.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append journal entry: %w", err)
	}
	return id, nil
}

// ListBySession returns the entries of a session, oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, event, route_distance_m, error, geohash, COALESCE(payload::text, ''), created_at
		FROM navigation_events
		WHERE session_id = $1
		ORDER BY created_at, id
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &e.RouteDistanceM, &e.Error, &e.Geohash, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if payload != "" {
			e.Payload = []byte(payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
