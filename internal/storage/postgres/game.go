package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Game invitation states.
const (
	invitePending = "PENDING"
)

// GameRepository records game invitations and their outcomes. Live match
// state is held in memory; only the invitation audit trail is durable.
type GameRepository struct {
	db *pgxpool.Pool
}

// NewGameRepository creates a GameRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewGameRepository(db *pgxpool.Pool) *GameRepository {
	return &GameRepository{db: db}
}

// RecordInvite stores a pending invitation from requester to recipient.
//
// Postcondition: The invite row exists with status PENDING, or
// ErrAccountNotFound is returned when either username does not resolve.
func (r *GameRepository) RecordInvite(ctx context.Context, requester, recipient string) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO game_invites (requester_id, recipient_id, status)
		 SELECT a.id, b.id, $3
		 FROM users a, users b
		 WHERE a.username = $1 AND b.username = $2`,
		requester, recipient, invitePending,
	)
	if err != nil {
		return fmt.Errorf("inserting game invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// RecordResponse resolves the open invitation from requester to recipient.
//
// Precondition: status is one of the response states the match manager
// persists (ACCEPTED or DENIED).
// Postcondition: The newest pending invite between the pair carries the
// response, or ErrAccountNotFound is returned when none is open.
func (r *GameRepository) RecordResponse(ctx context.Context, requester, recipient, status string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE game_invites SET status = $1, responded_at = now()
		 WHERE id = (
			SELECT gi.id FROM game_invites gi
			JOIN users a ON a.id = gi.requester_id
			JOIN users b ON b.id = gi.recipient_id
			WHERE a.username = $2 AND b.username = $3 AND gi.status = $4
			ORDER BY gi.created_at DESC
			LIMIT 1
		 )`,
		status, requester, recipient, invitePending,
	)
	if err != nil {
		return fmt.Errorf("updating game invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListPendingInvites returns the usernames whose invitations toward
// recipient are still unanswered, oldest first.
func (r *GameRepository) ListPendingInvites(ctx context.Context, recipient string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT a.username
		 FROM game_invites gi
		 JOIN users a ON a.id = gi.requester_id
		 WHERE gi.recipient_id = (SELECT id FROM users WHERE username = $1)
		   AND gi.status = $2
		 ORDER BY gi.created_at`,
		recipient, invitePending,
	)
	if err != nil {
		return nil, fmt.Errorf("querying game invites: %w", err)
	}
	defer rows.Close()

	return scanUsernames(rows)
}
