package ai

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/persona-voice/backend/internal/config"
)

// ArkModel runs the system + history + query prompt chain over a Volcengine Ark model.
type ArkModel struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
}

// NewArkModel creates an Ark-backed model from configuration.
func NewArkModel(ctx context.Context, cfg config.AIConfig) (*ArkModel, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewEinoModel(ctx, chatModel, cfg.HistoryLimit)
}

// NewEinoModel compiles the prompt chain around any eino chat model.
func NewEinoModel(ctx context.Context, chatModel model.ChatModel, historyLimit int) (*ArkModel, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkModel{chain: runnable, historyLimit: historyLimit}, nil
}

func (m *ArkModel) Name() string { return config.ProviderArk }

// NewSession opens a session with its own history.
func (m *ArkModel) NewSession(_ context.Context, systemPrompt string) (ChatSession, error) {
	return &arkSession{model: m, system: systemPrompt}, nil
}

type arkSession struct {
	model  *ArkModel
	system string

	mu      sync.Mutex
	history []*schema.Message
}

func (s *arkSession) Send(ctx context.Context, input string) (string, error) {
	s.mu.Lock()
	history := append([]*schema.Message(nil), s.history...)
	s.mu.Unlock()

	response, err := s.model.chain.Invoke(ctx, map[string]any{
		"system":  s.system,
		"history": history,
		"query":   input,
	})
	if err != nil {
		return "", &ProviderError{Provider: config.ProviderArk, Err: err}
	}

	s.mu.Lock()
	s.history = trimHistory(append(s.history, schema.UserMessage(input), schema.AssistantMessage(response.Content, nil)), s.model.historyLimit)
	s.mu.Unlock()

	return response.Content, nil
}
