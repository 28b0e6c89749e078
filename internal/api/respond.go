package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err onto the error taxonomy. Unclassified errors are
// logged and reported without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	resp := ErrorResponse{
		Error:     code,
		Details:   err.Error(),
		RequestID: GetRequestID(r.Context()),
	}
	if current, ok := apperr.CurrentState(err); ok {
		resp.CurrentState = current
	}
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		resp.Details = ""
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, r *http.Request, code, details string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:     code,
		Details:   details,
		RequestID: GetRequestID(r.Context()),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperr.ErrInvalidCoordinate):
		return http.StatusBadRequest, "invalid_coordinate"
	case errors.Is(err, apperr.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrOverlappingSlot):
		return http.StatusConflict, "overlapping_slot"
	case errors.Is(err, apperr.ErrSlotUnavailable):
		return http.StatusConflict, "slot_unavailable"
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, apperr.ErrTransient):
		return http.StatusServiceUnavailable, "temporarily_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
