package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/persona-voice/backend/internal/model/persona"
)

// BuildSystemPrompt renders the persona instruction a chat session is seeded with.
func BuildSystemPrompt(profile *persona.Profile) string {
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name = profile.UserID
	}

	return fmt.Sprintf(
		"You are the persona of %s. Here is their profile:\n%s\nAnswer as if you are %s, in a warm and conversational manner.",
		name,
		profile.Biography,
		name,
	)
}
