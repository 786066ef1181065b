package speech

import "time"

// SpeechConfig 语音合成服务配置
type SpeechConfig struct {
	Provider string `json:"provider"` // elevenlabs, openai
	APIKey   string `json:"apiKey"`
	BaseURL  string `json:"baseUrl"`
	Model    string `json:"model"`

	// ElevenLabs voice_settings
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarityBoost"`

	OutputFormat string        `json:"outputFormat"`
	Timeout      time.Duration `json:"timeout"`
}
