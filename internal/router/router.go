package router

import (
	"match-service/internal/handler"
	"match-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(
	r chi.Router,
	sessions *usecase.SessionUsecase,
	sessionHandler *handler.SessionHandler,
	matchHandler *handler.MatchHandler,
	notificationHandler *handler.NotificationHandler,
	wsHandler *handler.WSHandler,
) chi.Router {
	// ---- Global Middleware ----
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {

		// ---------------- Public ----------------
		r.Post("/auth/login", sessionHandler.HandleLogin)

		// ---------------- Authenticated ----------------
		r.Group(func(r chi.Router) {
			r.Use(handler.SessionAuth(sessions))

			r.Post("/auth/logout", sessionHandler.HandleLogout)

			r.Post("/matching/start", matchHandler.HandleStartMatching)
			r.Post("/matching/stop", matchHandler.HandleStopMatching)
			r.Post("/matches/{matchID}/accept", matchHandler.HandleAcceptMatch)
			r.Post("/matches/{matchID}/reject", matchHandler.HandleRejectMatch)

			r.Get("/notifications", notificationHandler.HandleList)

			r.Get("/ws", wsHandler.HandleConnection)
		})
	})

	return r
}
