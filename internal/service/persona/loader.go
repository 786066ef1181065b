// Package persona loads and caches the profile a conversation responds as.
package persona

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/persona-voice/backend/internal/model/persona"
	"github.com/zhouzirui/persona-voice/backend/internal/storage"
)

// VoiceResolver looks up a user's cloned voice.
type VoiceResolver interface {
	Resolve(ctx context.Context, userID string) (persona.VoiceIdentity, error)
}

// Loader builds profiles from storage and caches them for the process lifetime.
type Loader struct {
	store  storage.ObjectStore
	voices VoiceResolver
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*persona.Profile
	group singleflight.Group
}

// NewLoader creates a loader backed by store.
func NewLoader(store storage.ObjectStore, voices VoiceResolver, logger zerolog.Logger) *Loader {
	return &Loader{
		store:  store,
		voices: voices,
		logger: logger,
		cache:  make(map[string]*persona.Profile),
	}
}

// Load returns the cached profile for userID, building it on first use. It never
// fails: unreadable data leaves the defaults in place. Repeated calls return the
// same pointer. The build ignores cancellation of ctx, since its result is cached
// for every later caller.
func (l *Loader) Load(ctx context.Context, userID string) *persona.Profile {
	if profile, ok := l.Cached(userID); ok {
		return profile
	}
	ctx = context.WithoutCancel(ctx)

	// Concurrent first loads for one user share a single build.
	v, _, _ := l.group.Do(userID, func() (any, error) {
		if profile, ok := l.Cached(userID); ok {
			return profile, nil
		}
		profile := l.build(ctx, userID)

		l.mu.Lock()
		l.cache[userID] = profile
		l.mu.Unlock()
		return profile, nil
	})
	return v.(*persona.Profile)
}

// Cached returns a profile only if it was already loaded.
func (l *Loader) Cached(userID string) (*persona.Profile, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	profile, ok := l.cache[userID]
	return profile, ok
}

// Len reports the number of cached profiles.
func (l *Loader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache)
}

func (l *Loader) build(ctx context.Context, userID string) *persona.Profile {
	profile := persona.NewProfile(userID)
	log := l.logger.With().Str("user_id", userID).Logger()

	if l.voices != nil {
		voice, err := l.voices.Resolve(ctx, userID)
		if err == nil {
			profile.Voice = &voice
		} else {
			log.Info().Err(err).Msg("no voice identity, replies will be text only")
		}
	}

	if bio, err := storage.ReadText(ctx, l.store, userID+"/profile.txt"); err == nil {
		profile.Biography = strings.TrimSpace(bio)
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Msg("read biography")
	}

	if name, err := l.readDisplayName(ctx, userID); err == nil && name != "" {
		profile.Name = name
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Msg("read metadata")
	}

	log.Debug().Str("name", profile.Name).Bool("voice", profile.Voice != nil).Msg("profile loaded")
	return profile
}

func (l *Loader) readDisplayName(ctx context.Context, userID string) (string, error) {
	data, err := l.store.ReadBytes(ctx, userID+"/metadata.json")
	if err != nil {
		return "", err
	}
	var meta struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", err
	}
	return strings.TrimSpace(meta.Name), nil
}
