package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type errorKind uint8

const (
	kindUnavailable errorKind = iota
	kindNotFound
	kindConflict
	kindInvalid
)

// Error satisfies repositories.RepositoryError for the gorm store.
type Error struct {
	op   string
	kind errorKind
	err  error
}

func (e *Error) Error() string { return "postgres " + e.op + ": " + e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool { return e != nil && e.kind == kindNotFound }

func (e *Error) IsConflict() bool { return e != nil && e.kind == kindConflict }

// IsUnavailable is true for connection failures and server shutdowns. Rejected
// statements such as a check violation are neither unavailable nor conflicts.
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// wrap classifies err by gorm sentinel first, then by SQLSTATE. Context errors
// pass through untouched so callers can tell a cancelled request from a failure.
func wrap(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{op: op, kind: classify(err), err: err}
}

func classify(err error) errorKind {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return kindNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		return kindConflict
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return kindUnavailable
	}
	switch code := pgErr.Code; {
	case code == "23505", code == "23503", code == "40001":
		return kindConflict
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57"), strings.HasPrefix(code, "53"):
		return kindUnavailable
	default:
		return kindInvalid
	}
}
