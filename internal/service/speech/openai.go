package speech

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/persona-voice/backend/internal/model/speech"
)

// OpenAITTSClient 使用 OpenAI audio/speech 接口合成语音，Voice 为预置音色名
type OpenAITTSClient struct {
	config *speech.SpeechConfig
	client *openai.Client
}

// NewOpenAITTSClient 创建 OpenAI 语音客户端
func NewOpenAITTSClient(config *speech.SpeechConfig) *OpenAITTSClient {
	clientCfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	return &OpenAITTSClient{config: config, client: openai.NewClientWithConfig(clientCfg)}
}

func (c *OpenAITTSClient) Name() string { return ProviderOpenAI }

func (c *OpenAITTSClient) Synthesize(ctx context.Context, req *speech.TTSRequest) ([]byte, error) {
	model := c.config.Model
	if model == "" {
		model = string(openai.TTSModel1)
	}

	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: err}
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: fmt.Errorf("read audio: %w", err)}
	}
	return audio, nil
}
