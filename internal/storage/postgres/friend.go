package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Friendship edge states.
const (
	friendRequested = "REQUESTED"
	friendAccepted  = "ACCEPTED"
)

// ErrFriendRequestPending is returned when a request toward the same
// recipient is already waiting on an answer.
var ErrFriendRequestPending = errors.New("friend request already pending")

// ErrAlreadyFriends is returned when the two users are already friends.
var ErrAlreadyFriends = errors.New("already friends")

// FriendRepository provides friendship persistence operations. Edges are
// stored directed (requester -> recipient); an accepted edge in either
// direction makes the pair friends.
type FriendRepository struct {
	db *pgxpool.Pool
}

// NewFriendRepository creates a FriendRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewFriendRepository(db *pgxpool.Pool) *FriendRepository {
	return &FriendRepository{db: db}
}

// RequestFriend records a friend request from requester to recipient.
// When the recipient already has a request pending toward the requester,
// the existing edge is promoted to ACCEPTED instead and accepted is true.
//
// Precondition: requester and recipient must be distinct usernames.
// Postcondition: Returns ErrAccountNotFound when the recipient does not
// exist, ErrFriendRequestPending when a request in this direction is
// already waiting, or ErrAlreadyFriends when the pair is connected.
func (r *FriendRepository) RequestFriend(ctx context.Context, requester, recipient string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	requesterID, err := userID(ctx, tx, requester)
	if err != nil {
		return false, err
	}
	recipientID, err := userID(ctx, tx, recipient)
	if err != nil {
		return false, err
	}

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM friendships
		 WHERE requester_id = $1 AND recipient_id = $2`,
		requesterID, recipientID,
	).Scan(&status)
	switch {
	case err == nil && status == friendAccepted:
		return false, ErrAlreadyFriends
	case err == nil:
		return false, ErrFriendRequestPending
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("querying friendship: %w", err)
	}

	// A pending request in the opposite direction means both sides want
	// the friendship; promote it rather than creating a crossing edge.
	err = tx.QueryRow(ctx,
		`SELECT status FROM friendships
		 WHERE requester_id = $1 AND recipient_id = $2`,
		recipientID, requesterID,
	).Scan(&status)
	switch {
	case err == nil && status == friendAccepted:
		return false, ErrAlreadyFriends
	case err == nil:
		if _, err := tx.Exec(ctx,
			`UPDATE friendships SET status = $1, responded_at = now()
			 WHERE requester_id = $2 AND recipient_id = $3`,
			friendAccepted, recipientID, requesterID,
		); err != nil {
			return false, fmt.Errorf("accepting friendship: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("committing transaction: %w", err)
		}
		return true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("querying friendship: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO friendships (requester_id, recipient_id, status)
		 VALUES ($1, $2, $3)`,
		requesterID, recipientID, friendRequested,
	); err != nil {
		return false, fmt.Errorf("inserting friendship: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return false, nil
}

// AcceptFriend promotes a pending request from requester toward recipient.
//
// Postcondition: The edge is ACCEPTED, or ErrAccountNotFound is returned
// when no pending request exists.
func (r *FriendRepository) AcceptFriend(ctx context.Context, recipient, requester string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE friendships SET status = $1, responded_at = now()
		 WHERE requester_id = (SELECT id FROM users WHERE username = $2)
		   AND recipient_id = (SELECT id FROM users WHERE username = $3)
		   AND status = $4`,
		friendAccepted, requester, recipient, friendRequested,
	)
	if err != nil {
		return fmt.Errorf("accepting friendship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListFriends returns the usernames connected to username by an accepted
// edge in either direction, sorted by the database.
func (r *FriendRepository) ListFriends(ctx context.Context, username string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT u.username
		 FROM friendships f
		 JOIN users me ON me.username = $1
		 JOIN users u ON u.id = CASE
			WHEN f.requester_id = me.id THEN f.recipient_id
			ELSE f.requester_id
		 END
		 WHERE f.status = $2
		   AND (f.requester_id = me.id OR f.recipient_id = me.id)
		 ORDER BY u.username`,
		username, friendAccepted,
	)
	if err != nil {
		return nil, fmt.Errorf("querying friends: %w", err)
	}
	defer rows.Close()

	return scanUsernames(rows)
}

// ListPendingRequests returns the usernames with a request still waiting
// on username's answer, oldest first.
func (r *FriendRepository) ListPendingRequests(ctx context.Context, username string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT u.username
		 FROM friendships f
		 JOIN users u ON u.id = f.requester_id
		 WHERE f.recipient_id = (SELECT id FROM users WHERE username = $1)
		   AND f.status = $2
		 ORDER BY f.created_at`,
		username, friendRequested,
	)
	if err != nil {
		return nil, fmt.Errorf("querying friend requests: %w", err)
	}
	defer rows.Close()

	return scanUsernames(rows)
}

// userID resolves a username to its row id inside a transaction.
func userID(ctx context.Context, tx pgx.Tx, username string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`SELECT id FROM users WHERE username = $1`, username,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("querying user: %w", err)
	}
	return id, nil
}

// scanUsernames collects a single-column username result set.
func scanUsernames(rows pgx.Rows) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning username: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return names, nil
}
