package handler

import (
	"encoding/json"
	"net/http"

	"match-service/internal/usecase"
	xerrors "match-service/pkg/utils/errors"

	"go.uber.org/zap"
)

type SessionHandler struct {
	uc     *usecase.SessionUsecase
	logger *zap.Logger
}

func NewSessionHandler(uc *usecase.SessionUsecase, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{uc: uc, logger: logger}
}

type loginRequest struct {
	UserID   string  `json:"user_id"`
	DeviceID *string `json:"device_id,omitempty"`
}

// HandleLogin assumes credentials were already verified upstream; this
// service only opens the session and flips presence.
func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, xerrors.ErrInvalidRequest)
		return
	}

	ip := r.RemoteAddr
	ua := r.UserAgent()
	s, err := h.uc.Login(r.Context(), req.UserID, req.DeviceID, &ip, &ua)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		writeError(w, xerrors.ErrUnauthorized)
		return
	}

	if err := h.uc.Logout(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
