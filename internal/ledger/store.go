// Package ledger provides PostgreSQL-backed storage for notification records
// and their resolution lifecycle. Ids are assigned by the database sequence,
// which is the sole total order for notifications; presence may evaporate on
// restart but the ledger never does.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// Lifecycle states. Transitions are monotonic: pending→received→completed or
// pending→completed; completed is terminal.
const (
	StatusPending   = "pending"
	StatusReceived  = "received"
	StatusCompleted = "completed"
)

var (
	// ErrNotFound is returned when a notification id does not exist.
	ErrNotFound = errors.New("ledger: notification not found")

	// ErrCompleted is returned when an update targets a notification that
	// has already reached its terminal state.
	ErrCompleted = errors.New("ledger: notification already completed")

	// ErrInvalidStatus is returned for status values outside the lifecycle.
	ErrInvalidStatus = errors.New("ledger: invalid status")

	// ErrEmptyMessage is returned when a record is created without text.
	ErrEmptyMessage = errors.New("ledger: empty message")
)

// Notification is a single routed message with a tracked lifecycle.
type Notification struct {
	ID          int64
	FromRoom    int
	FromLabel   string
	ToRoom      int
	ToLabel     string
	Message     string
	AudioRef    string
	Status      string
	SentAt      time.Time
	ReceivedAt  sql.NullTime
	CompletedAt sql.NullTime
}

// Store manages notification records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a notification store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new pending record and returns its database-assigned id.
func (s *Store) Create(ctx context.Context, n *Notification) (int64, error) {
	if n.Message == "" {
		return 0, ErrEmptyMessage
	}

	const query = `
		INSERT INTO notifications (from_room, from_label, to_room, to_label, message, audio_ref, status, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', NOW())
		RETURNING id, sent_at`

	var audio sql.NullString
	if n.AudioRef != "" {
		audio = sql.NullString{String: n.AudioRef, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, query,
		n.FromRoom,
		n.FromLabel,
		n.ToRoom,
		n.ToLabel,
		n.Message,
		audio,
	).Scan(&n.ID, &n.SentAt)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert: %w", err)
	}

	n.Status = StatusPending
	return n.ID, nil
}

// UpdateStatus advances a notification's lifecycle, stamps the matching
// timestamp field, and returns the room the notification originated from so
// the caller can announce the transition there. The changed flag reports
// whether the record actually moved: a duplicate "received" ack succeeds with
// changed=false so the caller can skip a repeat announcement. Transitions out
// of completed are rejected with ErrCompleted; unknown ids return ErrNotFound.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status string) (int, bool, error) {
	var query string
	switch status {
	case StatusReceived:
		query = `
			UPDATE notifications SET status = 'received', received_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING from_room`
	case StatusCompleted:
		query = `
			UPDATE notifications SET status = 'completed', completed_at = NOW()
			WHERE id = $1 AND status <> 'completed'
			RETURNING from_room`
	default:
		return 0, false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var fromRoom int
	err := s.db.QueryRowContext(ctx, query, id).Scan(&fromRoom)
	if err == nil {
		return fromRoom, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("ledger: update status: %w", err)
	}

	// No row changed: distinguish missing, terminal, and idempotent cases.
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status, from_room FROM notifications WHERE id = $1`, id).Scan(&current, &fromRoom)
	if errors.Is(err, sql.ErrNoRows) {
		log.Printf("ledger: update for unknown notification id=%d ignored", id)
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("ledger: update status lookup: %w", err)
	}
	if current == StatusCompleted {
		return 0, false, ErrCompleted
	}
	// Already received; a repeated ack changes nothing.
	return fromRoom, false, nil
}

// ListPending returns every non-completed record addressed to the room,
// ordered by id ascending. It backs the HTTP reconciliation endpoint and
// must stay side-effect free.
func (s *Store) ListPending(ctx context.Context, room int) ([]Notification, error) {
	const query = `
		SELECT id, from_room, from_label, to_room, to_label, message, audio_ref, status, sent_at, received_at, completed_at
		FROM notifications
		WHERE to_room = $1 AND status <> 'completed'
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, room)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// PendingCount returns the number of non-completed records addressed to the
// room. It is cheap enough to answer every heartbeat.
func (s *Store) PendingCount(ctx context.Context, room int) (int, error) {
	const query = `
		SELECT COUNT(*) FROM notifications
		WHERE to_room = $1 AND status <> 'completed'`

	var count int
	if err := s.db.QueryRowContext(ctx, query, room).Scan(&count); err != nil {
		return 0, fmt.Errorf("ledger: pending count: %w", err)
	}
	return count, nil
}

// ListRecent returns the most recent records across all rooms, newest first,
// optionally filtered by a substring match on the message or labels. It backs
// the supervisor history endpoint.
func (s *Store) ListRecent(ctx context.Context, limit, offset int, search string) ([]Notification, error) {
	const query = `
		SELECT id, from_room, from_label, to_room, to_label, message, audio_ref, status, sent_at, received_at, completed_at
		FROM notifications
		WHERE ($3 = '' OR message ILIKE '%' || $3 || '%' OR from_label ILIKE '%' || $3 || '%' OR to_label ILIKE '%' || $3 || '%')
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset, search)
	if err != nil {
		return nil, fmt.Errorf("ledger: list recent: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// scanNotifications drains a result set whose columns match the full record.
func scanNotifications(rows *sql.Rows) ([]Notification, error) {
	var out []Notification
	for rows.Next() {
		var (
			n     Notification
			audio sql.NullString
		)
		if err := rows.Scan(
			&n.ID, &n.FromRoom, &n.FromLabel, &n.ToRoom, &n.ToLabel,
			&n.Message, &audio, &n.Status, &n.SentAt, &n.ReceivedAt, &n.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		n.AudioRef = audio.String
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: rows: %w", err)
	}
	return out, nil
}
