package messages

import (
	"errors"
	"math"
	"time"
)

var (
	ErrNotFound     = errors.New("message not found")
	ErrInvalidInput = errors.New("invalid message input")
)

const (
	StatusCompliant    = "compliant"
	StatusNonCompliant = "non_compliant"

	DefaultPageSize = 10
	MaxPageSize     = 100
)

const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Message is a communication between two identities. Status is nil until a
// reviewer has actioned it. CreatedAt is epoch seconds.
type Message struct {
	ID        int64   `json:"id" db:"id"`
	Subject   string  `json:"subject" db:"subject"`
	Content   string  `json:"content" db:"content"`
	Status    *string `json:"status" db:"status"`
	CreatedAt int64   `json:"created_at" db:"created_at"`
	FromEmail string  `json:"from_email" db:"from_email"`
	ToEmail   string  `json:"to_email" db:"to_email"`
}

type ListParams struct {
	Order    string
	Page     int
	PageSize int
}

// Normalize fills defaults and rejects values outside the accepted ranges.
func (p ListParams) Normalize() (ListParams, error) {
	switch p.Order {
	case "":
		p.Order = OrderAsc
	case OrderAsc, OrderDesc:
	default:
		return ListParams{}, ErrInvalidInput
	}
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	if p.Page < 1 || p.PageSize < 1 || p.PageSize > MaxPageSize {
		return ListParams{}, ErrInvalidInput
	}
	// Keeps Offset from overflowing.
	if p.Page > math.MaxInt/p.PageSize {
		return ListParams{}, ErrInvalidInput
	}
	return p, nil
}

func (p ListParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

func ValidStatus(status string) bool {
	return status == StatusCompliant || status == StatusNonCompliant
}

// MonthCount compares a count for the calendar month containing now with the
// month before it.
type MonthCount struct {
	CurrentMonth  int64 `json:"currentMonth"`
	PreviousMonth int64 `json:"previousMonth"`
}

// MonthBounds returns the start of the UTC calendar month containing now, the
// start of the month before it, and the start of the month after it.
func MonthBounds(now time.Time) (previous, current, next time.Time) {
	now = now.UTC()
	current = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return current.AddDate(0, -1, 0), current, current.AddDate(0, 1, 0)
}
