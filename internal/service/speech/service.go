package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/persona-voice/backend/internal/model/speech"
)

// ErrVoiceRequired 表示合成请求没有指定克隆声音。
var ErrVoiceRequired = errors.New("voice id is required")

// Synthesizer 把文本渲染为指定声音的音频
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req *speech.TTSRequest) ([]byte, error)
}

// ProviderError wraps a failed call to the TTS backend.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tts provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tts provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Service 语音服务核心业务逻辑
type Service struct {
	config *speech.SpeechConfig
	synth  Synthesizer
}

// NewService 根据配置创建语音服务实例
func NewService(config *speech.SpeechConfig) (*Service, error) {
	var synth Synthesizer
	switch strings.ToLower(config.Provider) {
	case "", ProviderElevenLabs:
		synth = NewElevenLabsClient(config)
	case ProviderOpenAI:
		synth = NewOpenAITTSClient(config)
	default:
		return nil, fmt.Errorf("unsupported tts provider %q", config.Provider)
	}
	return NewServiceWithSynthesizer(config, synth), nil
}

// NewServiceWithSynthesizer wraps an existing synthesizer.
func NewServiceWithSynthesizer(config *speech.SpeechConfig, synth Synthesizer) *Service {
	return &Service{config: config, synth: synth}
}

// Provider returns the backend name.
func (s *Service) Provider() string {
	return s.synth.Name()
}

// SynthesizeSpeech 文字转语音，每个请求只调用一次后端，不做重试
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Voice) == "" {
		return nil, ErrVoiceRequired
	}
	if req.Format == "" {
		req.Format = s.config.OutputFormat
	}

	audio, err := s.synth.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, &ProviderError{Provider: s.synth.Name(), Err: errors.New("empty audio")}
	}

	return &speech.TTSResponse{
		UserID:    req.UserID,
		AudioData: audio,
		Format:    req.Format,
		RequestID: uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SynthesizeToBuffer 文字转语音（返回字节数组）
func (s *Service) SynthesizeToBuffer(ctx context.Context, userID, text, voiceID string) (*speech.TTSResponse, error) {
	req := &speech.TTSRequest{
		UserID: userID,
		Text:   text,
		Voice:  voiceID,
	}

	return s.SynthesizeSpeech(ctx, req)
}
