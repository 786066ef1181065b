package speech

// TTSRequest 语音合成请求
type TTSRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
	Voice  string `json:"voice"`  // 克隆声音 ID
	Format string `json:"format"` // mp3, pcm, etc.
}
