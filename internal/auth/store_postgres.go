package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
	nowFunc func() time.Time
}

type sessionRow struct {
	ID        string `db:"id"`
	UserID    int64  `db:"user_id"`
	ExpiresAt int64  `db:"expires_at"`
}

type userRow struct {
	ID           int64  `db:"id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    int64  `db:"created_at"`
}

func (r userRow) toUser() User {
	return User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		CreatedAt:    time.Unix(r.CreatedAt, 0).UTC(),
	}
}

// NewPostgresStore expects the users and sessions tables to exist already;
// they are created by the migrations package. Every statement runs under
// queryTimeout.
func NewPostgresStore(db *sqlx.DB, queryTimeout time.Duration) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if queryTimeout <= 0 {
		return nil, fmt.Errorf("query timeout must be > 0")
	}
	return &PostgresStore{db: db, timeout: queryTimeout, nowFunc: time.Now}, nil
}

func (s *PostgresStore) InsertSession(ctx context.Context, sess Session) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const q = `INSERT INTO sessions (id, user_id, expires_at) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, q, sess.ID, sess.UserID, sess.ExpiresAt.Unix()); err != nil {
		if isUniqueViolation(err) {
			return ErrSessionConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (Session, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row sessionRow
	const q = `SELECT id, user_id, expires_at FROM sessions WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("query session: %w", err)
	}
	return Session{
		ID:        row.ID,
		UserID:    row.UserID,
		ExpiresAt: time.Unix(row.ExpiresAt, 0).UTC(),
	}, true, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserBySessionID(ctx context.Context, sessionID string) (User, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row userRow
	const q = `
SELECT u.id, u.email, u.password_hash, u.created_at
FROM sessions s
INNER JOIN users u ON u.id = s.user_id
WHERE s.id = $1`
	if err := s.db.GetContext(ctx, &row, q, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, fmt.Errorf("query session user: %w", err)
	}
	return row.toUser(), true, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row userRow
	const q = `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`
	if err := s.db.GetContext(ctx, &row, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, fmt.Errorf("query user by email: %w", err)
	}
	return row.toUser(), true, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	if email == "" || passwordHash == "" {
		return User{}, fmt.Errorf("email and password hash are required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	createdAt := s.nowFunc().UTC().Unix()
	const q = `INSERT INTO users (email, password_hash, created_at) VALUES ($1, $2, $3) RETURNING id`
	var id int64
	if err := s.db.QueryRowxContext(ctx, q, email, passwordHash, createdAt).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return userRow{ID: id, Email: email, PasswordHash: passwordHash, CreatedAt: createdAt}.toUser(), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
