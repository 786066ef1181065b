package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/persona-voice/backend/internal/handler/conversation"
	"github.com/zhouzirui/persona-voice/backend/internal/handler/status"
	middlewarePkg "github.com/zhouzirui/persona-voice/backend/internal/middleware"
	"github.com/zhouzirui/persona-voice/backend/internal/service/session"
	"github.com/zhouzirui/persona-voice/backend/pkg/utils"
)

// RouterDeps collects what the HTTP surface needs. Metrics may be nil.
type RouterDeps struct {
	Registry       *session.Registry
	Conversation   *conversation.WebSocketHandler
	Metrics        http.Handler
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	status.New(deps.Registry).RegisterRoutes(r)
	deps.Conversation.RegisterRoutes(r)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	return r
}
