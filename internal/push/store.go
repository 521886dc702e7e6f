// Package push provides the delivery fallback for clients whose socket is
// closed or suspended: durable Web Push subscriptions keyed by room, and a
// VAPID sender. Subscriptions are never a source of truth for presence or
// lifecycle; a dead endpoint is simply deleted when the provider reports it
// gone.
package push

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Subscription links an actor's room to an external push endpoint.
type Subscription struct {
	ID        int64
	ActorID   int64
	Room      int
	Endpoint  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
}

// Store manages push subscriptions in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a subscription store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save registers a subscription for an actor's room. A device that re-opts-in
// under a different account must not receive the old account's notifications,
// so any existing row for the same endpoint is replaced.
func (s *Store) Save(ctx context.Context, sub *Subscription) error {
	const query = `
		INSERT INTO push_subscriptions (actor_id, room, endpoint, p256dh, auth)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (endpoint) DO UPDATE
		SET actor_id = EXCLUDED.actor_id, room = EXCLUDED.room,
		    p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`

	_, err := s.db.ExecContext(ctx, query,
		sub.ActorID, sub.Room, sub.Endpoint, sub.P256dh, sub.Auth)
	if err != nil {
		return fmt.Errorf("push: save subscription: %w", err)
	}
	return nil
}

// ListByRoom returns every subscription registered for actors of a room.
func (s *Store) ListByRoom(ctx context.Context, room int) ([]Subscription, error) {
	const query = `
		SELECT id, actor_id, room, endpoint, p256dh, auth, created_at
		FROM push_subscriptions
		WHERE room = $1`

	rows, err := s.db.QueryContext(ctx, query, room)
	if err != nil {
		return nil, fmt.Errorf("push: list by room: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.ActorID, &sub.Room,
			&sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("push: scan: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("push: rows: %w", err)
	}
	return subs, nil
}

// DeleteByEndpoint removes a subscription whose endpoint the provider has
// reported as gone. This is the only self-healing cleanup in the core.
func (s *Store) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	const query = `DELETE FROM push_subscriptions WHERE endpoint = $1`
	if _, err := s.db.ExecContext(ctx, query, endpoint); err != nil {
		return fmt.Errorf("push: delete subscription: %w", err)
	}
	return nil
}
