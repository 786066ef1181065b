// Package conversation serves the persona conversation socket.
package conversation

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/persona-voice/backend/internal/model/persona"
	"github.com/zhouzirui/persona-voice/backend/internal/model/protocol"
	"github.com/zhouzirui/persona-voice/backend/internal/observe"
	"github.com/zhouzirui/persona-voice/backend/internal/service/session"
	"github.com/zhouzirui/persona-voice/backend/internal/service/turn"
)

// Error frame texts.
const (
	msgInvalidJSON     = "Invalid JSON message"
	msgMissingUserID   = "Missing user_id parameter"
	msgMissingText     = "Missing text parameter"
	msgNotIdentified   = "User not identified, send start_conversation first"
	msgUserMismatch    = "Session already identified as a different user"
	msgUnknownType     = "Unknown message type: "
	msgUpgradeRequired = "WebSocket upgrade required"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPingTimeout  = 10 * time.Second
)

// inboundQueue bounds frames read ahead of the turn in progress.
const inboundQueue = 16

// ProfileLoader returns the cached persona for a user.
type ProfileLoader interface {
	Load(ctx context.Context, userID string) *persona.Profile
}

// TurnRunner runs one turn to completion.
type TurnRunner interface {
	RunTurn(ctx context.Context, userID, input string) turn.Result
}

// Options tunes connection liveness and origin checks.
type Options struct {
	PingInterval   time.Duration
	PingTimeout    time.Duration
	AllowedOrigins []string
}

// WebSocketHandler 会话 WebSocket 处理器
type WebSocketHandler struct {
	registry *session.Registry
	profiles ProfileLoader
	turns    TurnRunner
	metrics  *observe.Metrics
	logger   zerolog.Logger
	opts     Options
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(registry *session.Registry, profiles ProfileLoader, turns TurnRunner, metrics *observe.Metrics, logger zerolog.Logger, opts Options) *WebSocketHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}

	h := &WebSocketHandler{
		registry: registry,
		profiles: profiles,
		turns:    turns,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.ServeHTTP)
	r.Get("/ws", h.ServeHTTP)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// corsHeaders are attached to the upgrade response.
func corsHeaders() http.Header {
	header := http.Header{}
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type")
	return header
}

// client serializes writes to one connection.
type client struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

func (c *client) writeJSON(msg protocol.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteJSON(msg)
}

func (c *client) writeBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// ServeHTTP upgrades the request and runs the per-connection message loop.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, msgUpgradeRequired, http.StatusUpgradeRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, corsHeaders())
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := h.registry.Open(conn)
	h.metrics.ConnectionOpened(ctx)
	log := h.logger.With().Str("session_id", id).Str("remote", conn.RemoteAddr().String()).Logger()
	log.Info().Msg("connection opened")

	defer func() {
		h.registry.Close(id)
		h.metrics.ConnectionClosed(context.WithoutCancel(ctx))
		log.Info().Msg("connection closed")
	}()

	deadline := h.opts.PingInterval + h.opts.PingTimeout
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		h.registry.Touch(id)
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	go h.pingLoop(ctx, conn)

	// Frames are read on their own goroutine so pongs keep the deadline fresh
	// while a turn is running.
	frames := make(chan frame, inboundQueue)
	go h.readLoop(ctx, conn, id, deadline, frames, log)

	c := &client{conn: conn, timeout: h.opts.PingTimeout}
	for f := range frames {
		if err := h.handleMessage(ctx, c, id, f.messageType, f.data, log); err != nil {
			log.Debug().Err(err).Msg("write failed")
			return
		}
	}
}

type frame struct {
	messageType int
	data        []byte
}

// readLoop feeds client frames in arrival order and closes frames when the
// connection fails or the liveness deadline passes.
func (h *WebSocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, id string, deadline time.Duration, frames chan<- frame, log zerolog.Logger) {
	defer close(frames)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		h.registry.Touch(id)

		select {
		case frames <- frame{messageType: messageType, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// handleMessage answers one client frame. A returned error means the
// connection can no longer be written to.
func (h *WebSocketHandler) handleMessage(ctx context.Context, c *client, id string, messageType int, data []byte, log zerolog.Logger) error {
	if messageType != websocket.TextMessage {
		return c.writeJSON(protocol.Error(msgInvalidJSON))
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		return c.writeJSON(protocol.Error(msgInvalidJSON))
	}

	switch msg.Type {
	case protocol.TypeStartConversation:
		return h.handleStart(ctx, c, id, msg.UserID, log)
	case protocol.TypeUserMessage:
		return h.handleUserMessage(ctx, c, id, msg.Text, log)
	default:
		return c.writeJSON(protocol.Error(msgUnknownType + msg.Type))
	}
}

func (h *WebSocketHandler) handleStart(ctx context.Context, c *client, id, userID string, log zerolog.Logger) error {
	if userID == "" {
		return c.writeJSON(protocol.Error(msgMissingUserID))
	}

	if err := h.registry.MarkIdentified(id, userID); err != nil {
		if !errors.Is(err, session.ErrAlreadyIdentified) {
			return c.writeJSON(protocol.Error(err.Error()))
		}
		current, _ := h.registry.UserID(id)
		if current != userID {
			return c.writeJSON(protocol.Error(msgUserMismatch))
		}
	}

	profile := h.profiles.Load(ctx, userID)
	log.Info().Str("user_id", userID).Str("name", profile.Name).Msg("conversation started")
	return c.writeJSON(protocol.ConversationStarted(profile.Name))
}

func (h *WebSocketHandler) handleUserMessage(ctx context.Context, c *client, id, text string, log zerolog.Logger) error {
	userID, err := h.registry.UserID(id)
	if err != nil {
		return c.writeJSON(protocol.Error(msgNotIdentified))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return c.writeJSON(protocol.Error(msgMissingText))
	}

	// The turn outlives the connection; its result is dropped if the write fails.
	result := h.turns.RunTurn(context.WithoutCancel(ctx), userID, text)

	if err := c.writeJSON(protocol.AssistantText(result.Text)); err != nil {
		return err
	}
	if len(result.Audio) == 0 {
		return nil
	}
	if err := c.writeJSON(protocol.AssistantAudioReady()); err != nil {
		return err
	}
	log.Debug().Str("user_id", userID).Int("audio_bytes", len(result.Audio)).Msg("sending audio")
	return c.writeBinary(result.Audio)
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.PingTimeout)); err != nil {
				return
			}
		}
	}
}
