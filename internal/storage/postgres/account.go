package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Presence status values stored on a user row.
const (
	StatusOnline  = "ONLINE"
	StatusAway    = "AWAY"
	StatusOffline = "OFFLINE"
)

// ValidStatus reports whether status is a recognised presence value.
func ValidStatus(status string) bool {
	switch status {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// ErrInvalidStatus is returned when an unrecognised status string is supplied.
var ErrInvalidStatus = errors.New("invalid status")

// User represents a registered chat user in the database.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Status       string
	CreatedAt    time.Time
}

// ErrAccountNotFound is returned when a user lookup yields no results.
var ErrAccountNotFound = errors.New("account not found")

// ErrAccountExists is returned when attempting to register a duplicate username.
var ErrAccountExists = errors.New("account already exists")

// ErrInvalidCredentials is returned when authentication fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountRepository provides user account persistence operations.
type AccountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository creates an AccountRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

// Register inserts a new user with a bcrypt-hashed password.
//
// Precondition: username and password must be non-empty.
// Postcondition: The user exists with status OFFLINE, or ErrAccountExists
// is returned when the username is taken.
func (r *AccountRepository) Register(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO users (username, password_hash)
		 VALUES ($1, $2)`,
		username, hash,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// Verify checks the supplied credentials against the stored hash.
//
// Precondition: username and password must be non-empty.
// Postcondition: Returns nil if credentials are valid,
// ErrAccountNotFound if the username doesn't exist,
// or ErrInvalidCredentials if the password is wrong.
func (r *AccountRepository) Verify(ctx context.Context, username, password string) error {
	var hash string
	err := r.db.QueryRow(ctx,
		`SELECT password_hash FROM users WHERE username = $1`,
		username,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("querying user: %w", err)
	}

	if !CheckPassword(password, hash) {
		return ErrInvalidCredentials
	}
	return nil
}

// GetByUsername retrieves a user by username.
//
// Precondition: username must be non-empty.
// Postcondition: Returns the User or ErrAccountNotFound.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := r.db.QueryRow(ctx,
		`SELECT id, username, password_hash, status, created_at
		 FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Status, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrAccountNotFound
		}
		return User{}, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// SetStatus updates the persisted presence status for the given user.
//
// Precondition: status must be a valid status string (use ValidStatus to check).
// Postcondition: The user's status is updated, or ErrInvalidStatus /
// ErrAccountNotFound is returned.
func (r *AccountRepository) SetStatus(ctx context.Context, username, status string) error {
	if !ValidStatus(status) {
		return ErrInvalidStatus
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET status = $1 WHERE username = $2`,
		status, username,
	)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be non-empty.
// Postcondition: Returns a bcrypt hash string.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
//
// Postcondition: Returns true if password matches the hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
