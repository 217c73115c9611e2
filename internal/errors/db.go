package errors

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueDetailKey pulls the column list out of "Key (a, b)=(x, y) already exists.".
var uniqueDetailKey = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapDBError converts driver and context errors into AppErrors with a
// user-safe message. Errors it does not recognize are returned unchanged.
func MapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: err}
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, sql.ErrNoRows):
		return &AppError{Code: ErrCodeNotFound, Message: "Resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	out := &AppError{Cause: pgErr}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		out.Code = ErrCodeConflict
		out.Message = "This " + tableLabel(pgErr.TableName) + " already exists."
		out.Field = uniqueField(pgErr)
	case pgerrcode.ForeignKeyViolation:
		out.Code = ErrCodeValidation
		out.Message = "Referenced " + tableLabel(pgErr.TableName) + " does not exist."
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		out.Code = ErrCodeValidation
		out.Field = pgErr.ColumnName
		out.Message = "Invalid data. Please check your input."
		if out.Field != "" {
			out.Message = "This field has an invalid value."
		}
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		out.Code = ErrCodeConflict
		out.Message = "The record is busy. Please retry."
	default:
		out.Code = ErrCodeInternal
		out.Message = "A database error occurred. Please try again."
	}
	return out
}

// IsUniqueViolation reports whether err is a unique violation. An empty
// constraint matches any index.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func uniqueField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := uniqueDetailKey.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return ""
}

var tableLabels = map[string]string{
	"analysis_jobs":      "analysis job",
	"usage_daily":        "usage record",
	"usage_monthly":      "usage record",
	"usage_violations":   "usage violation",
	"listings":           "listing",
	"listing_financials": "listing",
	"listing_profiles":   "listing",
	"listing_documents":  "listing",
	"user_subscriptions": "subscription",
}

// tableLabel names a table the way users see it.
func tableLabel(table string) string {
	t := strings.ToLower(strings.TrimSpace(table))
	if t == "" {
		return "record"
	}
	if label, ok := tableLabels[t]; ok {
		return label
	}
	return strings.ReplaceAll(t, "_", " ")
}
