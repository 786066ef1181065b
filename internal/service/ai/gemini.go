package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/zhouzirui/persona-voice/backend/internal/config"
)

// GeminiModel opens chats through the Gemini API.
type GeminiModel struct {
	client      *genai.Client
	model       string
	temperature *float32
	maxTokens   int32
}

// NewGeminiModel creates a Gemini client using the configured API key.
func NewGeminiModel(ctx context.Context, cfg config.AIConfig) (*GeminiModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	m := &GeminiModel{client: client, model: cfg.Model, temperature: cfg.Temperature32()}
	if cfg.MaxTokens != nil {
		m.maxTokens = int32(*cfg.MaxTokens)
	}
	return m, nil
}

func (m *GeminiModel) Name() string { return config.ProviderGemini }

// NewSession creates a Gemini chat; the chat object keeps its own history.
func (m *GeminiModel) NewSession(ctx context.Context, systemPrompt string) (ChatSession, error) {
	chat, err := m.client.Chats.Create(ctx, m.model, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       m.temperature,
		MaxOutputTokens:   m.maxTokens,
	}, nil)
	if err != nil {
		return nil, &ProviderError{Provider: config.ProviderGemini, Err: err}
	}
	return &geminiSession{chat: chat}, nil
}

type geminiSession struct {
	chat *genai.Chat
}

func (s *geminiSession) Send(ctx context.Context, input string) (string, error) {
	resp, err := s.chat.SendMessage(ctx, genai.Part{Text: input})
	if err != nil {
		return "", &ProviderError{Provider: config.ProviderGemini, Err: err}
	}
	text := resp.Text()
	if text == "" {
		return "", &ProviderError{Provider: config.ProviderGemini, Err: fmt.Errorf("empty response")}
	}
	return text, nil
}
