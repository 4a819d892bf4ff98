package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestWrapClassifies(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, notFound: true},
		{name: "duplicate key sentinel", err: gorm.ErrDuplicatedKey, conflict: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, conflict: true},
		{name: "serialization failure", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), conflict: true},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, unavailable: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, unavailable: true},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}},
		{name: "plain error", err: errors.New("dial tcp: refused"), unavailable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var repoErr *Error
			if !errors.As(wrap("get", tt.err), &repoErr) {
				t.Fatalf("expected *Error")
			}
			if repoErr.IsNotFound() != tt.notFound || repoErr.IsConflict() != tt.conflict || repoErr.IsUnavailable() != tt.unavailable {
				t.Fatalf("unexpected classification notFound=%v conflict=%v unavailable=%v",
					repoErr.IsNotFound(), repoErr.IsConflict(), repoErr.IsUnavailable())
			}
			if !errors.Is(repoErr, tt.err) {
				t.Fatalf("expected wrapped error to unwrap to %v", tt.err)
			}
		})
	}
}

func TestWrapPassesThroughContextErrors(t *testing.T) {
	if err := wrap("list", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	err := wrap("list", fmt.Errorf("query: %w", context.DeadlineExceeded))
	var repoErr *Error
	if errors.As(err, &repoErr) {
		t.Fatalf("context errors must not be classified, got %v", err)
	}
	if got := wrap("delete", gorm.ErrRecordNotFound).Error(); got != "postgres delete: record not found" {
		t.Fatalf("unexpected message %q", got)
	}
}
