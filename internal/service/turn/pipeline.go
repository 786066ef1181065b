// Package turn runs one conversational turn: reply generation followed by
// speech synthesis in the persona's voice.
package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/persona-voice/backend/internal/model/persona"
	"github.com/zhouzirui/persona-voice/backend/internal/model/speech"
	"github.com/zhouzirui/persona-voice/backend/internal/observe"
	"github.com/zhouzirui/persona-voice/backend/internal/service/chat"
)

// ApologyText replaces the reply when generation fails.
const ApologyText = "I'm sorry, I couldn't process that request."

// ProfileLoader returns the cached persona for a user.
type ProfileLoader interface {
	Load(ctx context.Context, userID string) *persona.Profile
}

// ContextStore hands out the shared conversation context for a user.
type ContextStore interface {
	GetOrCreate(ctx context.Context, userID string, profile *persona.Profile) (*chat.Context, error)
}

// Synthesizer renders reply text in a cloned voice.
type Synthesizer interface {
	Provider() string
	SynthesizeToBuffer(ctx context.Context, userID, text, voiceID string) (*speech.TTSResponse, error)
}

// Result is the outcome of a turn. Audio is nil when no voice was resolved or
// synthesis failed; Text is always set.
type Result struct {
	Text   string
	Audio  []byte
	Format string
}

// Dependencies wires a Pipeline. Speech and Metrics may be nil.
type Dependencies struct {
	Profiles    ProfileLoader
	Contexts    ContextStore
	Speech      Synthesizer
	LLMProvider string
	Metrics     *observe.Metrics
	Logger      zerolog.Logger
}

// Pipeline orchestrates profile, context, reply and synthesis for each turn.
type Pipeline struct {
	deps Dependencies
}

func NewPipeline(deps Dependencies) *Pipeline {
	return &Pipeline{deps: deps}
}

// RunTurn never fails. Each external call is attempted once; a reply failure
// yields ApologyText without audio, a synthesis failure keeps the reply.
func (p *Pipeline) RunTurn(ctx context.Context, userID, input string) (result Result) {
	start := time.Now()
	outcome := observe.OutcomeApology
	log := p.deps.Logger.With().Str("user_id", userID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("turn panicked")
			if result.Text == "" {
				result = Result{Text: ApologyText}
			}
		}
		p.deps.Metrics.ObserveTurn(ctx, outcome, time.Since(start))
	}()

	profile := p.deps.Profiles.Load(ctx, userID)

	reply, err := p.generate(ctx, userID, profile, input)
	if err != nil {
		log.Error().Err(err).Msg("reply generation failed")
		return Result{Text: ApologyText}
	}
	result = Result{Text: reply}
	outcome = observe.OutcomeTextOnly

	voiceID := profile.VoiceID()
	if voiceID == "" || p.deps.Speech == nil {
		return result
	}

	ttsStart := time.Now()
	resp, err := p.deps.Speech.SynthesizeToBuffer(ctx, userID, reply, voiceID)
	p.deps.Metrics.ObserveTTS(ctx, p.deps.Speech.Provider(), time.Since(ttsStart), err)
	if err != nil {
		log.Warn().Err(err).Str("voice_id", voiceID).Msg("speech synthesis failed, sending text only")
		return result
	}

	result.Audio = resp.AudioData
	result.Format = resp.Format
	outcome = observe.OutcomeAudio
	log.Debug().Int("audio_bytes", len(resp.AudioData)).Dur("elapsed", time.Since(start)).Msg("turn completed")
	return result
}

func (p *Pipeline) generate(ctx context.Context, userID string, profile *persona.Profile, input string) (string, error) {
	convo, err := p.deps.Contexts.GetOrCreate(ctx, userID, profile)
	if err != nil {
		return "", fmt.Errorf("conversation context: %w", err)
	}

	llmStart := time.Now()
	reply, err := convo.Send(ctx, input)
	p.deps.Metrics.ObserveLLM(ctx, p.deps.LLMProvider, time.Since(llmStart), err)
	if err != nil {
		return "", err
	}
	return reply, nil
}
