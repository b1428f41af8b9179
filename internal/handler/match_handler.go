package handler

import (
	"encoding/json"
	"net/http"

	"match-service/internal/domain"
	"match-service/internal/usecase"
	xerrors "match-service/pkg/utils/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type MatchHandler struct {
	uc     *usecase.MatchUsecase
	logger *zap.Logger
}

func NewMatchHandler(uc *usecase.MatchUsecase, logger *zap.Logger) *MatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchHandler{uc: uc, logger: logger}
}

func (h *MatchHandler) HandleStartMatching(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		writeError(w, xerrors.ErrUnauthorized)
		return
	}

	var prefs domain.MatchPreferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, xerrors.ErrInvalidRequest)
		return
	}

	offers, err := h.uc.StartMatching(r.Context(), userID, prefs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"offers": offers,
		"count":  len(offers),
	})
}

func (h *MatchHandler) HandleStopMatching(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		writeError(w, xerrors.ErrUnauthorized)
		return
	}

	rejected, err := h.uc.StopMatching(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rejected": rejected})
}

func (h *MatchHandler) HandleAcceptMatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		writeError(w, xerrors.ErrUnauthorized)
		return
	}
	matchID := chi.URLParam(r, "matchID")

	result, err := h.uc.AcceptMatch(r.Context(), matchID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *MatchHandler) HandleRejectMatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		writeError(w, xerrors.ErrUnauthorized)
		return
	}
	matchID := chi.URLParam(r, "matchID")

	if err := h.uc.RejectMatch(r.Context(), matchID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.MatchRejected)})
}
