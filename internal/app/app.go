// Package app assembles the conversation server and runs it under the
// single-instance lock.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/persona-voice/backend/internal/config"
	"github.com/zhouzirui/persona-voice/backend/internal/handler"
	"github.com/zhouzirui/persona-voice/backend/internal/handler/conversation"
	"github.com/zhouzirui/persona-voice/backend/internal/lock"
	"github.com/zhouzirui/persona-voice/backend/internal/logging"
	speechModel "github.com/zhouzirui/persona-voice/backend/internal/model/speech"
	"github.com/zhouzirui/persona-voice/backend/internal/observe"
	"github.com/zhouzirui/persona-voice/backend/internal/service/ai"
	"github.com/zhouzirui/persona-voice/backend/internal/service/chat"
	personasvc "github.com/zhouzirui/persona-voice/backend/internal/service/persona"
	"github.com/zhouzirui/persona-voice/backend/internal/service/session"
	"github.com/zhouzirui/persona-voice/backend/internal/service/speech"
	"github.com/zhouzirui/persona-voice/backend/internal/service/turn"
	"github.com/zhouzirui/persona-voice/backend/internal/service/voice"
	"github.com/zhouzirui/persona-voice/backend/internal/storage"
)

// Status is the outcome of Run.
type Status string

const (
	StatusStopped        Status = "stopped"
	StatusAlreadyRunning Status = "already_running"
)

const shutdownTimeout = 10 * time.Second

// App runs the server described by a validated Config.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Listening, when set, is called with the bound address once the listener is open.
	Listening func(net.Addr)
}

func New(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run takes the lock, serves until ctx is cancelled, then shuts down and
// releases the lock. If another instance holds the lock it returns
// StatusAlreadyRunning without touching anything else.
func (a *App) Run(ctx context.Context) (Status, error) {
	lk, err := lock.Acquire(a.cfg.Server.LockFile)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyRunning) {
			a.logger.Warn().Str("lock", a.cfg.Server.LockFile).Msg("socket server already running, exiting")
			return StatusAlreadyRunning, nil
		}
		return "", err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			a.logger.Warn().Err(err).Msg("release lock")
		}
	}()

	router, cleanup, err := a.build(ctx)
	defer cleanup()
	if err != nil {
		return "", err
	}

	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", a.cfg.Server.Addr, err)
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	a.logger.Info().Str("addr", ln.Addr().String()).Msg("persona voice server listening")
	if a.Listening != nil {
		a.Listening(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return "", err
	}
	a.logger.Info().Msg("server stopped")
	return StatusStopped, nil
}

// build wires every component. cleanup is never nil and must be called even
// when err is set.
func (a *App) build(ctx context.Context) (http.Handler, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, closeStore, err := storage.Open(ctx, a.cfg.Storage)
	if err != nil {
		return nil, cleanup, fmt.Errorf("open storage: %w", err)
	}
	closers = append(closers, func() { _ = closeStore() })

	metrics, err := observe.InitProvider()
	if err != nil {
		return nil, cleanup, fmt.Errorf("init metrics: %w", err)
	}
	closers = append(closers, func() { _ = metrics.Shutdown(context.Background()) })

	profiles, err := NewProfileLoader(a.cfg.Persona, store, a.logger)
	if err != nil {
		return nil, cleanup, err
	}

	chatModel, err := ai.NewChatModel(ctx, a.cfg.AI)
	if err != nil {
		return nil, cleanup, fmt.Errorf("init chat model: %w", err)
	}
	contexts := chat.NewService(chatModel, a.cfg.Persona.ContextMaxUsers, logging.Component(a.logger, "context"))

	deps := turn.Dependencies{
		Profiles:    profiles,
		Contexts:    contexts,
		LLMProvider: chatModel.Name(),
		Metrics:     metrics.Metrics,
		Logger:      logging.Component(a.logger, "turn"),
	}
	if a.cfg.Speech.Enabled {
		speechSvc, err := speech.NewService(SpeechModelConfig(a.cfg.Speech))
		if err != nil {
			return nil, cleanup, fmt.Errorf("init speech: %w", err)
		}
		deps.Speech = speechSvc
		a.logger.Info().Str("provider", speechSvc.Provider()).Msg("speech synthesis enabled")
	} else {
		a.logger.Warn().Msg("speech credentials not configured, replies will be text only")
	}

	registry := session.NewRegistry()
	ws := conversation.NewWebSocketHandler(
		registry,
		profiles,
		turn.NewPipeline(deps),
		metrics.Metrics,
		logging.Component(a.logger, "socket"),
		conversation.Options{
			PingInterval:   a.cfg.Server.PingInterval,
			PingTimeout:    a.cfg.Server.PingTimeout,
			AllowedOrigins: a.cfg.Server.AllowedOrigins,
		},
	)

	router := handler.NewRouter(handler.RouterDeps{
		Registry:       registry,
		Conversation:   ws,
		Metrics:        metrics.Handler,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Logger:         logging.Component(a.logger, "http"),
	})
	return router, cleanup, nil
}

// NewProfileLoader builds the voice resolver and profile loader over store.
func NewProfileLoader(cfg config.PersonaConfig, store storage.ObjectStore, logger zerolog.Logger) (*personasvc.Loader, error) {
	layout, err := config.LoadVoiceLayout(cfg.LayoutFile)
	if err != nil {
		return nil, err
	}
	resolver := voice.NewResolver(store, layout, voice.Override{
		UserID:  cfg.OverrideUserID,
		VoiceID: cfg.OverrideVoiceID,
	}, logging.Component(logger, "voice"))
	return personasvc.NewLoader(store, resolver, logging.Component(logger, "persona")), nil
}

// SpeechModelConfig converts environment configuration into the speech service config.
func SpeechModelConfig(cfg config.SpeechConfig) *speechModel.SpeechConfig {
	return &speechModel.SpeechConfig{
		Provider:        cfg.Provider,
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		Model:           cfg.Model,
		Stability:       cfg.Stability,
		SimilarityBoost: cfg.SimilarityBoost,
		OutputFormat:    cfg.OutputFormat,
		Timeout:         cfg.Timeout,
	}
}
