package httpx

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/bizmarket/analysis-pipeline/internal/errors"
)

func TestDetermineErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"not found", apperrors.NotFound("missing"), http.StatusNotFound},
		{"wrapped validation", fmt.Errorf("start: %w", apperrors.Validation("bad")), http.StatusBadRequest},
		{"conflict", apperrors.Conflict("finished"), http.StatusConflict},
		{"unauthorized", apperrors.Unauthorized("who"), http.StatusUnauthorized},
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, http.StatusConflict},
		{"bad uuid", fmt.Errorf("get: %w", &pgconn.PgError{Code: pgerrcode.InvalidTextRepresentation}), http.StatusBadRequest},
		{"other pg error", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, 0},
		{"internal", apperrors.Internal("boom"), 0},
		{"plain", fmt.Errorf("boom"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineErrorStatus(tt.err))
		})
	}
}

func TestPublicMessage(t *testing.T) {
	wrapped := apperrors.Wrap(fmt.Errorf("driver detail"), apperrors.ErrCodeNotFound, "analysis job not found")
	assert.Equal(t, "analysis job not found", publicMessage(wrapped))
	assert.Equal(t, "request conflicts with existing data", publicMessage(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
}
