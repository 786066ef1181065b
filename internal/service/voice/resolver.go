// Package voice resolves a user identifier to the speech provider's cloned voice.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zhouzirui/persona-voice/backend/internal/config"
	"github.com/zhouzirui/persona-voice/backend/internal/model/persona"
	"github.com/zhouzirui/persona-voice/backend/internal/storage"
)

// ErrVoiceNotFound 表示所有候选路径都没有可用的声音记录。
var ErrVoiceNotFound = errors.New("voice identity not found")

// Record fields, in precedence order.
var voiceFields = []string{"voice_id", "user_voice_id"}

// Override pins one user identifier to a fixed voice without consulting storage.
type Override struct {
	UserID  string
	VoiceID string
}

// Resolver probes the configured layout for a voice identity record.
type Resolver struct {
	store    storage.ObjectStore
	layout   config.VoiceLayout
	override Override
	logger   zerolog.Logger
}

// NewResolver creates a resolver. An empty override disables the fixed mapping.
func NewResolver(store storage.ObjectStore, layout config.VoiceLayout, override Override, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		layout:   layout,
		override: override,
		logger:   logger,
	}
}

// Resolve returns the first voice identity found, trying the override and then
// each layout probe in order.
func (r *Resolver) Resolve(ctx context.Context, userID string) (persona.VoiceIdentity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return persona.VoiceIdentity{}, fmt.Errorf("%w: empty user id", ErrVoiceNotFound)
	}

	if r.override.UserID != "" && r.override.VoiceID != "" && userID == r.override.UserID {
		return persona.VoiceIdentity{VoiceID: r.override.VoiceID, Source: persona.FixedVoiceSource}, nil
	}

	for _, path := range r.layout.Paths(userID) {
		voiceID, err := r.probe(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return persona.VoiceIdentity{}, ctx.Err()
			}
			if !errors.Is(err, storage.ErrNotFound) {
				r.logger.Warn().Err(err).Str("user_id", userID).Str("path", path).Msg("skip voice record")
			}
			continue
		}
		if voiceID != "" {
			r.logger.Debug().Str("user_id", userID).Str("path", path).Msg("voice identity resolved")
			return persona.VoiceIdentity{VoiceID: voiceID, Source: path}, nil
		}
	}

	return persona.VoiceIdentity{}, fmt.Errorf("%w: user=%s", ErrVoiceNotFound, userID)
}

// probe reads one record. A record that parses but names no voice yields "".
func (r *Resolver) probe(ctx context.Context, path string) (string, error) {
	data, err := r.store.ReadBytes(ctx, path)
	if err != nil {
		return "", err
	}

	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return "", fmt.Errorf("decode voice record: %w", err)
	}
	return pickVoiceID(record), nil
}

func pickVoiceID(record map[string]any) string {
	for _, field := range voiceFields {
		if value, ok := record[field].(string); ok {
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
	}
	return ""
}
