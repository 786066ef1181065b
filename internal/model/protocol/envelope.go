// Package protocol defines the JSON frames exchanged over the conversation socket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Frame types.
const (
	TypeStartConversation   = "start_conversation"
	TypeUserMessage         = "user_message"
	TypeConversationStarted = "conversation_started"
	TypeAssistantText       = "assistant_text"
	TypeAssistantAudioReady = "assistant_audio_ready"
	TypeError               = "error"
)

// ErrMalformedMessage 表示帧无法解析或缺少 type 字段。
var ErrMalformedMessage = errors.New("malformed message")

// Inbound is a decoded client frame. Only the fields relevant to Type are populated.
type Inbound struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Outbound is a server text frame.
type Outbound struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Decode parses a client text frame. Unknown types decode successfully; the
// caller decides how to answer them.
func Decode(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	msg.UserID = strings.TrimSpace(msg.UserID)
	return msg, nil
}

// ConversationStarted acknowledges identification and echoes the persona name.
func ConversationStarted(name string) Outbound {
	return Outbound{Type: TypeConversationStarted, Message: "Profile loaded for " + name}
}

// AssistantText carries the generated reply.
func AssistantText(text string) Outbound {
	return Outbound{Type: TypeAssistantText, Text: text}
}

// AssistantAudioReady announces that the next binary frame is audio.
func AssistantAudioReady() Outbound {
	return Outbound{Type: TypeAssistantAudioReady, Message: "Audio ready to stream"}
}

// Error reports a malformed frame or unmet precondition.
func Error(message string) Outbound {
	return Outbound{Type: TypeError, Message: message}
}
