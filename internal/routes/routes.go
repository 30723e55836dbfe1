package routes

import (
	"context"
	"net/http"

	"aimonitor/internal/handlers"
	"aimonitor/internal/logger"
	"aimonitor/internal/middleware"
	"aimonitor/internal/notifier/websocket"
	"aimonitor/internal/repository"
)

// Deps are the services exposed by the viewer. Events is nil when the journal is off.
type Deps struct {
	Hub      *websocket.Hub
	Events   repository.EventRepository
	Logger   *logger.Logger
	Password string
}

// SetupRoutes registers the viewer API and wraps the mux with the authentication middleware.
func SetupRoutes(ctx context.Context, deps Deps) http.Handler {
	mux := http.NewServeMux()

	if deps.Hub != nil {
		mux.HandleFunc("GET /api/view", deps.Hub.Handler(ctx))
	}

	if deps.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.GetEventsHandler(deps.Events, deps.Logger))
		mux.HandleFunc("GET /api/events/stats", handlers.GetStatsHandler(deps.Events, deps.Logger))
		mux.HandleFunc("GET /api/events/{id}/image", handlers.ViewEventImageHandler(deps.Events, deps.Logger))
		mux.HandleFunc("DELETE /api/events/{id}", handlers.DeleteEventHandler(deps.Events, deps.Logger))
	}

	mux.HandleFunc("GET /logs/{level}", handlers.ShowLogsHandler(deps.Logger))
	mux.HandleFunc("POST /logs/{level}/rotate", handlers.RotateLogsHandler(deps.Logger))

	mux.HandleFunc("/auth/login", handlers.LoginHandler(deps.Password, deps.Logger))
	mux.HandleFunc("/auth/logout", handlers.LogoutHandler)

	return middleware.AuthMiddleware(deps.Password)(mux)
}
