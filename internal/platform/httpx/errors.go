package httpx

import (
	"errors"
	"net/http"

	"github.com/warp/resource-engine/internal/shared"
)

// RespondError maps the engine error taxonomy to HTTP responses using
// RFC7807. Storage failures return 503 so callers know the whole
// operation may be retried.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidInput):
		Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
	case errors.Is(err, shared.ErrStateConflict):
		Problem(w, http.StatusConflict, "State Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrStorageFailure):
		Problem(w, http.StatusServiceUnavailable, "Storage Unavailable", "operation aborted, safe to retry")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
