package status

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-voice/backend/pkg/utils"
)

// Counter reports open and identified socket sessions.
type Counter interface {
	Count() (total, identified int)
}

// Handler 服务状态的HTTP处理器
type Handler struct {
	sessions Counter
	started  time.Time
}

// New 创建状态处理器
func New(sessions Counter) *Handler {
	return &Handler{
		sessions: sessions,
		started:  time.Now().UTC(),
	}
}

// RegisterRoutes 注册状态相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/api/socket/status", h.handleSocketStatus)
}

type socketStatus struct {
	Status        string `json:"status"`
	Connections   int    `json:"connections"`
	Identified    int    `json:"identified"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// handleSocketStatus 返回当前连接数
func (h *Handler) handleSocketStatus(w http.ResponseWriter, _ *http.Request) {
	total, identified := h.sessions.Count()
	utils.RespondJSON(w, http.StatusOK, socketStatus{
		Status:        "running",
		Connections:   total,
		Identified:    identified,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
