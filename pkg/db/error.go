package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsDuplicateKeyErr reports whether err is a unique constraint violation on any
// supported dialect.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key value violates unique constraint"):
		return true
	case strings.Contains(msg, "Error 1062"):
		return true
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return true
	}

	return false
}

// ConstraintName extracts the violated constraint or index name when the driver
// exposes it. SQLite reports columns instead, which are returned as-is.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.Index(msg, "UNIQUE constraint failed: "); idx >= 0 {
		return strings.TrimSpace(msg[idx+len("UNIQUE constraint failed: "):])
	}
	return ""
}
