package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is a stored direct message between two users.
type Message struct {
	Sender    string
	Recipient string
	Body      string
	SentAt    time.Time
}

// MessageRepository persists direct messages so a conversation survives
// either party going offline.
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository creates a MessageRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append stores a direct message from sender to recipient.
//
// Precondition: Both usernames must exist.
// Postcondition: The message is durable, or ErrAccountNotFound is returned
// when either username does not resolve.
func (r *MessageRepository) Append(ctx context.Context, sender, recipient, text string) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO messages (sender_id, recipient_id, body)
		 SELECT s.id, t.id, $3
		 FROM users s, users t
		 WHERE s.username = $1 AND t.username = $2`,
		sender, recipient, text,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// RecentBetween returns up to limit messages exchanged between a and b in
// either direction, oldest first.
func (r *MessageRepository) RecentBetween(ctx context.Context, a, b string, limit int) ([]Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT s.username, t.username, m.body, m.sent_at
		 FROM (
			SELECT sender_id, recipient_id, body, sent_at
			FROM messages
			WHERE (sender_id, recipient_id) IN (
				SELECT ua.id, ub.id FROM users ua, users ub
				WHERE (ua.username = $1 AND ub.username = $2)
				   OR (ua.username = $2 AND ub.username = $1)
			)
			ORDER BY sent_at DESC
			LIMIT $3
		 ) m
		 JOIN users s ON s.id = m.sender_id
		 JOIN users t ON t.id = m.recipient_id
		 ORDER BY m.sent_at`,
		a, b, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Sender, &m.Recipient, &m.Body, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return msgs, nil
}
