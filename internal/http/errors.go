package http

import (
	"errors"
	"net/http"

	applog "piggybank/internal/log"
	"piggybank/internal/services"
	"piggybank/internal/session"
	"piggybank/internal/store"
)

const msgSubmissionInProgress = "Your previous request is still being processed."

// writeServiceError maps a data access error to a response. Validation
// errors are rendered by the handlers themselves and never reach here.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, message string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrSubmissionInProgress):
		s.logger.WarnContext(ctx, "Duplicate submission rejected",
			applog.FieldPath, r.URL.Path,
			applog.FieldUserID, session.FromContext(ctx).UserID())
		ConflictWarning(msgSubmissionInProgress).Write(w)
	case errors.Is(err, services.ErrNoSession):
		redirect(w, r, "/", nil)
	case errors.Is(err, store.ErrNotFound):
		s.logger.WarnContext(ctx, "Row not found",
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err)
		NotFoundError(message).Write(w)
	default:
		s.logger.ErrorContext(ctx, "Request failed",
			applog.FieldPath, r.URL.Path,
			applog.FieldUserID, session.FromContext(ctx).UserID(),
			applog.FieldError, err)
		InternalServerError(message).Write(w)
	}
}

// validationErrors unwraps a services.ValidationError.
func validationErrors(err error) (*services.ValidationError, bool) {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// errorStatus is the HTTP status for a failed single-row read.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrSubmissionInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
