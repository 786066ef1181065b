package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zhouzirui/persona-voice/backend/internal/model/speech"
)

const (
	ProviderElevenLabs = "elevenlabs"
	ProviderOpenAI     = "openai"

	defaultElevenLabsURL = "https://api.elevenlabs.io"
	maxErrorBody         = 4 << 10
)

// ElevenLabsClient 调用 ElevenLabs text-to-speech REST 接口
type ElevenLabsClient struct {
	config     *speech.SpeechConfig
	baseURL    string
	httpClient *http.Client
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id,omitempty"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// NewElevenLabsClient 创建 ElevenLabs 客户端
func NewElevenLabsClient(config *speech.SpeechConfig) *ElevenLabsClient {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultElevenLabsURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ElevenLabsClient{
		config:     config,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *ElevenLabsClient) Name() string { return ProviderElevenLabs }

// Synthesize 请求一次合成，返回音频字节
func (c *ElevenLabsClient) Synthesize(ctx context.Context, req *speech.TTSRequest) ([]byte, error) {
	body, err := json.Marshal(elevenLabsRequest{
		Text:    req.Text,
		ModelID: c.config.Model,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       c.config.Stability,
			SimilarityBoost: c.config.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/v1/text-to-speech/" + url.PathEscape(req.Voice)
	if req.Format != "" && req.Format != "mp3" {
		endpoint += "?output_format=" + url.QueryEscape(req.Format)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderElevenLabs, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ProviderError{
			Provider:   ProviderElevenLabs,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(respBody))),
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderElevenLabs, Err: fmt.Errorf("read audio: %w", err)}
	}
	return audio, nil
}
