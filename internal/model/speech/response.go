package speech

import "time"

// TTSResponse 语音合成响应
type TTSResponse struct {
	UserID    string    `json:"userId"`
	AudioData []byte    `json:"-"`
	Format    string    `json:"format"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
