package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-voice/backend/internal/config"
	"github.com/zhouzirui/persona-voice/backend/internal/model/persona"
)

// recordingChatModel echoes the query and records every prompt it receives.
type recordingChatModel struct {
	mu      sync.Mutex
	prompts [][]*schema.Message
	err     error
}

func (m *recordingChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, input)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage("echo: "+input[len(input)-1].Content, nil), nil
}

func (m *recordingChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *recordingChatModel) BindTools([]*schema.ToolInfo) error { return nil }

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(&persona.Profile{UserID: "ada", Name: "Ada", Biography: "Wrote the first program."})
	assert.Equal(t, "You are the persona of Ada. Here is their profile:\nWrote the first program.\nAnswer as if you are Ada, in a warm and conversational manner.", prompt)

	prompt = BuildSystemPrompt(&persona.Profile{UserID: "alan"})
	assert.Contains(t, prompt, "You are the persona of alan.")
}

func TestEinoSessionCarriesHistory(t *testing.T) {
	fake := &recordingChatModel{}
	m, err := NewEinoModel(context.Background(), fake, 20)
	require.NoError(t, err)

	session, err := m.NewSession(context.Background(), "be Ada")
	require.NoError(t, err)

	reply, err := session.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply)

	_, err = session.Send(context.Background(), "again")
	require.NoError(t, err)

	require.Len(t, fake.prompts, 2)
	second := fake.prompts[1]
	require.Len(t, second, 4)
	assert.Equal(t, schema.System, second[0].Role)
	assert.Equal(t, "be Ada", second[0].Content)
	assert.Equal(t, "hello", second[1].Content)
	assert.Equal(t, "echo: hello", second[2].Content)
	assert.Equal(t, "again", second[3].Content)
}

func TestEinoSessionFailureLeavesHistoryUntouched(t *testing.T) {
	fake := &recordingChatModel{err: errors.New("quota exceeded")}
	m, err := NewEinoModel(context.Background(), fake, 20)
	require.NoError(t, err)
	session, err := m.NewSession(context.Background(), "be Ada")
	require.NoError(t, err)

	_, err = session.Send(context.Background(), "hello")
	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, config.ProviderArk, providerErr.Provider)

	fake.err = nil
	_, err = session.Send(context.Background(), "retry")
	require.NoError(t, err)
	assert.Len(t, fake.prompts[1], 2)
}

func TestTrimHistory(t *testing.T) {
	assert.Equal(t, []int{3, 4}, trimHistory([]int{1, 2, 3, 4}, 2))
	assert.Equal(t, []int{1, 2}, trimHistory([]int{1, 2}, 4))
	assert.Equal(t, []int{1, 2}, trimHistory([]int{1, 2}, 0))
}

func TestNewChatModelRequiresCredentials(t *testing.T) {
	_, err := NewChatModel(context.Background(), config.AIConfig{Provider: config.ProviderGemini, Model: "gemini-1.5-pro"})
	assert.ErrorIs(t, err, config.ErrMissingLLMCredentials)
}

func TestOpenAISessionSendsSystemAndHistory(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		requests = append(requests, body)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	m := NewOpenAIModel(config.AIConfig{Provider: config.ProviderOpenAI, APIKey: "k", Model: "gpt-4o-mini", BaseURL: srv.URL + "/v1", HistoryLimit: 20})
	session, err := m.NewSession(context.Background(), "be Ada")
	require.NoError(t, err)

	reply, err := session.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)

	_, err = session.Send(context.Background(), "again")
	require.NoError(t, err)

	require.Len(t, requests, 2)
	messages := requests[1]["messages"].([]any)
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", messages[2].(map[string]any)["role"])
}

func TestOpenAISessionProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewOpenAIModel(config.AIConfig{Provider: config.ProviderOpenAI, APIKey: "k", Model: "gpt-4o-mini", BaseURL: srv.URL + "/v1"})
	session, err := m.NewSession(context.Background(), "be Ada")
	require.NoError(t, err)

	_, err = session.Send(context.Background(), "hello")
	var providerErr *ProviderError
	assert.ErrorAs(t, err, &providerErr)
}
