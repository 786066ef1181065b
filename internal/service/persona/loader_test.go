package persona

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-voice/backend/internal/config"
	model "github.com/zhouzirui/persona-voice/backend/internal/model/persona"
	"github.com/zhouzirui/persona-voice/backend/internal/service/voice"
	"github.com/zhouzirui/persona-voice/backend/internal/storage"
)

// flakyStore serves reads from an in-memory store until broken is set.
type flakyStore struct {
	*storage.MemoryStore
	broken atomic.Bool
	reads  atomic.Int32
}

func (s *flakyStore) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	s.reads.Add(1)
	if s.broken.Load() {
		return nil, errors.New("storage unavailable")
	}
	return s.MemoryStore.ReadBytes(ctx, path)
}

func newLoader(store storage.ObjectStore) *Loader {
	resolver := voice.NewResolver(store, config.DefaultVoiceLayout(), voice.Override{}, zerolog.Nop())
	return NewLoader(store, resolver, zerolog.Nop())
}

func TestLoadOverlaysStoredProfile(t *testing.T) {
	store := storage.NewMemoryStore(map[string][]byte{
		"ada/profile.txt":            []byte("  Wrote the first program.\n"),
		"ada/metadata.json":          []byte(`{"name":"Ada Lovelace"}`),
		"ada/voice_id/voice_id.json": []byte(`{"voice_id":"v-ada"}`),
	})

	profile := newLoader(store).Load(context.Background(), "ada")
	assert.Equal(t, "Ada Lovelace", profile.Name)
	assert.Equal(t, "Wrote the first program.", profile.Biography)
	require.NotNil(t, profile.Voice)
	assert.Equal(t, "v-ada", profile.VoiceID())
}

func TestLoadDegradesToDefaults(t *testing.T) {
	store := storage.NewMemoryStore(map[string][]byte{
		"alan/metadata.json": []byte(`{broken`),
	})

	profile := newLoader(store).Load(context.Background(), "alan")
	assert.Equal(t, &model.Profile{UserID: "alan", Name: "alan"}, profile)
	assert.Equal(t, "", profile.VoiceID())
}

func TestLoadReturnsCachedPointerWithoutSecondRead(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(map[string][]byte{
		"ada/metadata.json": []byte(`{"name":"Ada"}`),
	})}
	loader := newLoader(store)
	ctx := context.Background()

	first := loader.Load(ctx, "ada")
	readsAfterFirst := store.reads.Load()
	store.broken.Store(true)

	second := loader.Load(ctx, "ada")
	assert.Same(t, first, second)
	assert.Equal(t, "Ada", second.Name)
	assert.Equal(t, readsAfterFirst, store.reads.Load())
}

func TestLoadConcurrentFirstUseSharesProfile(t *testing.T) {
	loader := newLoader(storage.NewMemoryStore(nil))
	ctx := context.Background()

	const workers = 16
	results := make([]*model.Profile, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = loader.Load(ctx, "grace")
		}()
	}
	wg.Wait()

	for _, p := range results {
		assert.Same(t, results[0], p)
	}
	assert.Equal(t, 1, loader.Len())
}

// cancelAwareStore fails reads once ctx is done, like the network backends.
type cancelAwareStore struct {
	*storage.MemoryStore
}

func (s cancelAwareStore) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.ReadBytes(ctx, path)
}

func TestLoadIgnoresCallerCancellation(t *testing.T) {
	store := cancelAwareStore{storage.NewMemoryStore(map[string][]byte{
		"ada/voice_id/voice_id.json": []byte(`{"voice_id":"v-ada"}`),
		"ada/profile.txt":            []byte("Mathematician."),
	})}
	loader := newLoader(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	first := loader.Load(ctx, "ada")
	assert.Equal(t, "v-ada", first.VoiceID())
	assert.Equal(t, "Mathematician.", first.Biography)

	second := loader.Load(context.Background(), "ada")
	assert.Same(t, first, second)
}
