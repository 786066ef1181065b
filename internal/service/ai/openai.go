package ai

import (
	"context"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/persona-voice/backend/internal/config"
)

// OpenAIModel calls an OpenAI-compatible chat completions endpoint.
type OpenAIModel struct {
	client       *openai.Client
	model        string
	temperature  float32
	maxTokens    int
	historyLimit int
}

// NewOpenAIModel creates the client; BaseURL allows compatible gateways.
func NewOpenAIModel(cfg config.AIConfig) *OpenAIModel {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	m := &OpenAIModel{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		historyLimit: cfg.HistoryLimit,
	}
	if t := cfg.Temperature32(); t != nil {
		m.temperature = *t
	}
	if cfg.MaxTokens != nil {
		m.maxTokens = *cfg.MaxTokens
	}
	return m
}

func (m *OpenAIModel) Name() string { return config.ProviderOpenAI }

func (m *OpenAIModel) NewSession(_ context.Context, systemPrompt string) (ChatSession, error) {
	return &openAISession{model: m, system: systemPrompt}, nil
}

type openAISession struct {
	model  *OpenAIModel
	system string

	mu      sync.Mutex
	history []openai.ChatCompletionMessage
}

func (s *openAISession) Send(ctx context.Context, input string) (string, error) {
	s.mu.Lock()
	msgs := make([]openai.ChatCompletionMessage, 0, len(s.history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: s.system})
	msgs = append(msgs, s.history...)
	s.mu.Unlock()
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: input}
	msgs = append(msgs, user)

	resp, err := s.model.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model.model,
		Messages:    msgs,
		Temperature: s.model.temperature,
		MaxTokens:   s.model.maxTokens,
	})
	if err != nil {
		return "", &ProviderError{Provider: config.ProviderOpenAI, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: config.ProviderOpenAI, Err: fmt.Errorf("no choices returned")}
	}
	reply := resp.Choices[0].Message.Content

	s.mu.Lock()
	s.history = trimHistory(append(s.history, user, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply}), s.model.historyLimit)
	s.mu.Unlock()

	return reply, nil
}
