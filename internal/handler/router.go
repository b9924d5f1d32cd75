package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chathandler "github.com/hotel7days/concierge/backend/internal/handler/chat"
	"github.com/hotel7days/concierge/backend/internal/handler/ws"
	middlewarePkg "github.com/hotel7days/concierge/backend/internal/middleware"
	chatservice "github.com/hotel7days/concierge/backend/internal/service/chat"
)

// NewRouter wires HTTP routes to the coordination service.
func NewRouter(chatSvc *chatservice.Service, corsOrigins []string, wsWriteTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(corsOrigins))

	chatHandler := chathandler.New(chatSvc)
	wsHandler := ws.New(chatSvc, wsWriteTimeout)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
	})
	wsHandler.RegisterRoutes(r)

	return r
}
