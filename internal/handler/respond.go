package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	xerrors "match-service/pkg/utils/errors"
)

type ctxKey string

// CtxUserID carries the authenticated user id through the request.
const CtxUserID ctxKey = "user_id"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, xerrors.ErrNotFound),
		errors.Is(err, xerrors.ErrUserNotFound),
		errors.Is(err, xerrors.ErrMatchNotFound),
		errors.Is(err, xerrors.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, xerrors.ErrForbidden),
		errors.Is(err, xerrors.ErrNotMatchParty):
		status = http.StatusForbidden
	case errors.Is(err, xerrors.ErrUnauthorized),
		errors.Is(err, xerrors.ErrSessionExpired):
		status = http.StatusUnauthorized
	case errors.Is(err, xerrors.ErrAlreadyProcessed),
		errors.Is(err, xerrors.ErrMatchExpired):
		status = http.StatusConflict
	case errors.Is(err, xerrors.ErrIncompleteProfile),
		errors.Is(err, xerrors.ErrInvalidInput),
		errors.Is(err, xerrors.ErrInvalidRequest),
		errors.Is(err, xerrors.ErrMissingLocation):
		status = http.StatusBadRequest
	case xerrors.IsInfrastructure(err):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func userIDFrom(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(CtxUserID).(string)
	return userID, ok && userID != ""
}
