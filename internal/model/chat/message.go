package chat

import "time"

// Exchange records one completed turn in a conversation context.
type Exchange struct {
	Input     string    `json:"input"`
	Reply     string    `json:"reply"`
	CreatedAt time.Time `json:"createdAt"`
}
