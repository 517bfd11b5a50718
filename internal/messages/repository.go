package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const selectMessages = `
SELECT
	m.id, m.subject, m.content, m.status, m.created_at,
	f.email AS from_email, t.email AS to_email
FROM message m
JOIN identity f ON m."from" = f.id
JOIN identity t ON m."to" = t.id`

type PostgresRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresRepository expects the identity and message tables to exist.
func NewPostgresRepository(db *sqlx.DB, queryTimeout time.Duration) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if queryTimeout <= 0 {
		return nil, fmt.Errorf("query timeout must be > 0")
	}
	return &PostgresRepository{db: db, timeout: queryTimeout}, nil
}

func (r *PostgresRepository) List(ctx context.Context, p ListParams) ([]Message, error) {
	p, err := p.Normalize()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Order is one of two whitelisted keywords; everything else is bound.
	q := selectMessages + `
ORDER BY m.created_at ` + strings.ToUpper(p.Order) + `, m.id ` + strings.ToUpper(p.Order) + `
LIMIT $1 OFFSET $2`
	out := make([]Message, 0, p.PageSize)
	if err := r.db.SelectContext(ctx, &out, q, p.PageSize, p.Offset()); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var m Message
	q := selectMessages + `
WHERE m.id = $1`
	if err := r.db.GetContext(ctx, &m, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	if !ValidStatus(status) {
		return ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const q = `UPDATE message SET status = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read update affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Search matches query as a case-insensitive substring of subject or content,
// newest first. LIKE wildcards in query are matched literally.
func (r *PostgresRepository) Search(ctx context.Context, query string) ([]Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := selectMessages + `
WHERE m.subject ILIKE $1 OR m.content ILIKE $1
ORDER BY m.created_at DESC, m.id DESC`
	out := make([]Message, 0)
	if err := r.db.SelectContext(ctx, &out, q, "%"+escapeLike(query)+"%"); err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return out, nil
}

// CountBetween counts messages created in [from, to). With actionedOnly set
// only messages that carry a status are counted.
func (r *PostgresRepository) CountBetween(ctx context.Context, from, to time.Time, actionedOnly bool) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := `SELECT COUNT(*) FROM message WHERE created_at >= $1 AND created_at < $2`
	if actionedOnly {
		q += ` AND status IS NOT NULL`
	}
	var n int64
	if err := r.db.GetContext(ctx, &n, q, from.Unix(), to.Unix()); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) MonthlyStats(ctx context.Context, now time.Time, actionedOnly bool) (MonthCount, error) {
	previous, current, next := MonthBounds(now)
	cur, err := r.CountBetween(ctx, current, next, actionedOnly)
	if err != nil {
		return MonthCount{}, err
	}
	prev, err := r.CountBetween(ctx, previous, current, actionedOnly)
	if err != nil {
		return MonthCount{}, err
	}
	return MonthCount{CurrentMonth: cur, PreviousMonth: prev}, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
