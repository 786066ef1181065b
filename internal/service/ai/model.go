// Package ai adapts the configured LLM backend into persona-seeded chat sessions.
package ai

import (
	"context"
	"fmt"

	"github.com/zhouzirui/persona-voice/backend/internal/config"
)

// ChatModel opens chat sessions against one LLM backend.
type ChatModel interface {
	Name() string
	// NewSession returns a session whose system instruction is fixed to systemPrompt.
	NewSession(ctx context.Context, systemPrompt string) (ChatSession, error)
}

// ChatSession is a stateful conversation. Send appends the exchange to the
// session history only when the provider call succeeds.
type ChatSession interface {
	Send(ctx context.Context, input string) (string, error)
}

// ProviderError wraps a failed call to the LLM backend.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewChatModel builds the backend selected by cfg.Provider.
func NewChatModel(ctx context.Context, cfg config.AIConfig) (ChatModel, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: provider=%s", config.ErrMissingLLMCredentials, cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderArk:
		return NewArkModel(ctx, cfg)
	case config.ProviderGemini:
		return NewGeminiModel(ctx, cfg)
	case config.ProviderOpenAI:
		return NewOpenAIModel(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// trimHistory keeps at most limit trailing entries.
func trimHistory[T any](history []T, limit int) []T {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return append(history[:0:0], history[len(history)-limit:]...)
}
