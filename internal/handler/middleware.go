package handler

import (
	"context"
	"net/http"

	"match-service/internal/usecase"
	xerrors "match-service/pkg/utils/errors"
)

// SessionAuth validates the session id carried in X-Session-ID (or the
// `session` query parameter for websocket upgrades) and injects the user
// id into the request context. Each validated access doubles as a
// presence heartbeat.
func SessionAuth(sessions *usecase.SessionUsecase) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := r.Header.Get("X-Session-ID")
			if sessionID == "" {
				sessionID = r.URL.Query().Get("session")
			}
			if sessionID == "" {
				writeError(w, xerrors.ErrUnauthorized)
				return
			}

			s, err := sessions.Validate(r.Context(), sessionID)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), CtxUserID, s.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
