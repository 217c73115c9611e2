package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/bizmarket/analysis-pipeline/internal/errors"
)

// admissionStatus maps admission codes to HTTP statuses.
var admissionStatus = map[apperrors.ErrorCode]int{
	apperrors.ErrCodeRateLimited:     http.StatusTooManyRequests,
	apperrors.ErrCodeQuotaExceeded:   http.StatusPaymentRequired,
	apperrors.ErrCodeFeatureDisabled: http.StatusForbidden,
}

var codeStatus = map[apperrors.ErrorCode]int{
	apperrors.ErrCodeNotFound:     http.StatusNotFound,
	apperrors.ErrCodeValidation:   http.StatusBadRequest,
	apperrors.ErrCodeConflict:     http.StatusConflict,
	apperrors.ErrCodeUnauthorized: http.StatusUnauthorized,
	apperrors.ErrCodeTimeout:      http.StatusGatewayTimeout,
	apperrors.ErrCodeCanceled:     499,
}

// errorRenderer writes service errors as JSON responses.
type errorRenderer struct {
	logger *slog.Logger
	now    func() time.Time
}

// render maps err to a status code and writes the error body.
// Unclassified errors are logged and hidden behind a generic 500.
func (e errorRenderer) render(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := apperrors.AsAdmission(err); ok {
		e.renderAdmission(w, ae)
		return
	}

	if status := DetermineErrorStatus(err); status != 0 {
		WriteJSON(w, status, errorBody{
			Error:   string(errorCode(err, status)),
			Message: publicMessage(err),
			Field:   apperrors.GetField(err),
		})
		return
	}

	e.logger.ErrorContext(r.Context(), "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	WriteJSON(w, http.StatusInternalServerError, errorBody{
		Error:   string(apperrors.ErrCodeInternal),
		Message: "internal server error",
	})
}

func (e errorRenderer) renderAdmission(w http.ResponseWriter, ae *apperrors.AdmissionError) {
	status, ok := admissionStatus[ae.Code]
	if !ok {
		status = http.StatusTooManyRequests
	}
	retry := ae.RetryAfterSeconds(e.now())
	if retry > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}
	WriteJSON(w, status, errorBody{
		Error:      string(ae.Code),
		Message:    ae.Message,
		LimitType:  ae.LimitType,
		RetryAfter: retry,
	})
}

// DetermineErrorStatus returns the HTTP status for a classified error, or 0 when
// the error should be treated as an internal failure.
func DetermineErrorStatus(err error) int {
	if err == nil {
		return 0
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.ForeignKeyViolation:
			return http.StatusConflict
		case pgerrcode.InvalidTextRepresentation:
			return http.StatusBadRequest
		}
		return 0
	}

	if status, ok := codeStatus[apperrors.GetCode(err)]; ok {
		return status
	}
	return 0
}

// errorCode falls back to a code derived from the status for driver errors.
func errorCode(err error, status int) apperrors.ErrorCode {
	if code := apperrors.GetCode(err); code != "" {
		return code
	}
	if status == http.StatusBadRequest {
		return apperrors.ErrCodeValidation
	}
	return apperrors.ErrCodeConflict
}

// publicMessage prefers the AppError message over the wrapped cause.
func publicMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgerrcode.InvalidTextRepresentation {
			return "invalid identifier"
		}
		return "request conflicts with existing data"
	}
	return err.Error()
}
