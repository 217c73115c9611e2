package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	err := MapDBError(nil)
	if err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			wantCode: ErrCodeTimeout,
		},
		{
			name:     "canceled",
			err:      fmt.Errorf("query: %w", context.Canceled),
			wantCode: ErrCodeCanceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if !IsAppError(err, tt.wantCode) {
				t.Errorf("MapDBError() code = %v, want %v", GetCode(err), tt.wantCode)
			}
		})
	}
}

func TestMapDBError_NoRows(t *testing.T) {
	for _, src := range []error{pgx.ErrNoRows, sql.ErrNoRows} {
		err := MapDBError(src)
		if !IsNotFound(err) {
			t.Errorf("MapDBError(%v) should be NotFound, got %v", src, GetCode(err))
		}
	}
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{
			name: "column name metadata",
			pgErr: &pgconn.PgError{
				Code:       pgerrcode.UniqueViolation,
				ColumnName: "listing_id",
				TableName:  "analysis_jobs",
			},
			wantField: "listing_id",
		},
		{
			name: "detail message",
			pgErr: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: `Key (listing_id, analysis_type)=(l-1, due_diligence) already exists.`,
			},
			wantField: "listing_id, analysis_type",
		},
		{
			name:      "no metadata",
			pgErr:     &pgconn.PgError{Code: pgerrcode.UniqueViolation},
			wantField: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if !IsConflict(err) {
				t.Errorf("MapDBError() should be Conflict, got %v", GetCode(err))
			}
			if field := GetField(err); field != tt.wantField {
				t.Errorf("MapDBError() field = %v, want %v", field, tt.wantField)
			}
		})
	}
}

func TestMapDBError_InvalidValues(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{
			name:      "check violation with column",
			pgErr:     &pgconn.PgError{Code: pgerrcode.CheckViolation, ColumnName: "progress"},
			wantField: "progress",
		},
		{
			name:  "check violation without column",
			pgErr: &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "analysis_jobs_progress_check"},
		},
		{
			name:      "not null violation",
			pgErr:     &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "listing_id"},
			wantField: "listing_id",
		},
		{
			name:  "foreign key violation",
			pgErr: &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, TableName: "listing_documents"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if !IsValidation(err) {
				t.Errorf("MapDBError() should be Validation, got %v", GetCode(err))
			}
			if field := GetField(err); field != tt.wantField {
				t.Errorf("MapDBError() field = %v, want %v", field, tt.wantField)
			}
		})
	}
}

func TestMapDBError_Contention(t *testing.T) {
	for _, code := range []string{pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable} {
		err := MapDBError(&pgconn.PgError{Code: code})
		if !IsConflict(err) {
			t.Errorf("MapDBError(%s) should be Conflict, got %v", code, GetCode(err))
		}
	}
}

func TestMapDBError_UnknownPgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.DiskFull}
	err := MapDBError(pgErr)
	if !IsInternal(err) {
		t.Errorf("MapDBError() should be Internal, got %v", GetCode(err))
	}
	if !errors.Is(err, pgErr) {
		t.Error("MapDBError() should preserve the pg error as cause")
	}
}

func TestMapDBError_StandardError(t *testing.T) {
	orig := errors.New("boom")
	if err := MapDBError(orig); !errors.Is(err, orig) || GetCode(err) != "" {
		t.Errorf("MapDBError() = %v, want original error", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "analysis_jobs_active_pair_idx"}
	wrapped := fmt.Errorf("insert: %w", pgErr)

	if !IsUniqueViolation(wrapped, "") {
		t.Error("expected unique violation for any constraint")
	}
	if !IsUniqueViolation(wrapped, "analysis_jobs_active_pair_idx") {
		t.Error("expected unique violation for matching constraint")
	}
	if IsUniqueViolation(wrapped, "other_idx") {
		t.Error("unexpected match on different constraint")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: pgerrcode.CheckViolation}, "") {
		t.Error("check violation is not a unique violation")
	}
}

func TestTableLabel(t *testing.T) {
	tests := map[string]string{
		"analysis_jobs":     "analysis job",
		"usage_monthly":     "usage record",
		"listing_documents": "listing",
		"":                  "record",
		"Some_Other_Table":  "some other table",
	}
	for in, want := range tests {
		if got := tableLabel(in); got != want {
			t.Errorf("tableLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
