package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"match-service/internal/repository"
	xerrors "match-service/pkg/utils/errors"

	"go.uber.org/zap"
)

const defaultNotificationLimit = 50

type NotificationHandler struct {
	repo   *repository.NotificationRepository
	logger *zap.Logger
}

func NewNotificationHandler(repo *repository.NotificationRepository, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{repo: repo, logger: logger}
}

type notificationDTO struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Message   string          `json:"message,omitempty"`
	ActionRef *string         `json:"action_ref,omitempty"`
	Priority  int             `json:"priority"`
	CreatedAt string          `json:"created_at"`
	IsSent    bool            `json:"is_sent"`
}

func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		writeError(w, xerrors.ErrUnauthorized)
		return
	}

	limit := defaultNotificationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	rows, err := h.repo.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, xerrors.Infrastructure("list notifications", err))
		return
	}

	out := make([]notificationDTO, 0, len(rows))
	for _, n := range rows {
		out = append(out, notificationDTO{
			ID:        n.ID,
			Type:      string(n.Type),
			Payload:   json.RawMessage(n.Payload),
			Message:   n.Message,
			ActionRef: n.ActionRef,
			Priority:  n.Priority,
			CreatedAt: n.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			IsSent:    n.IsSent,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": out})
}
