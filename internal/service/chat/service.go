// Package chat holds the per-user conversation contexts shared by every connection.
package chat

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/persona-voice/backend/internal/model/chat"
	"github.com/zhouzirui/persona-voice/backend/internal/model/persona"
	"github.com/zhouzirui/persona-voice/backend/internal/service/ai"
)

var ErrUserRequired = errors.New("user id is required")

// Context is the live conversation for one user. Turns sent through it are
// serialized; the system prompt never changes after creation.
type Context struct {
	UserID       string
	SystemPrompt string
	CreatedAt    time.Time

	turnMu  sync.Mutex
	session ai.ChatSession

	mu        sync.RWMutex
	exchanges []chat.Exchange
}

// Send submits input to the chat session and records the exchange on success.
func (c *Context) Send(ctx context.Context, input string) (string, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	reply, err := c.session.Send(ctx, input)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.exchanges = append(c.exchanges, chat.Exchange{Input: input, Reply: reply, CreatedAt: time.Now().UTC()})
	c.mu.Unlock()
	return reply, nil
}

// Exchanges returns a copy of the completed exchanges in order.
func (c *Context) Exchanges() []chat.Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	copied := make([]chat.Exchange, len(c.exchanges))
	copy(copied, c.exchanges)
	return copied
}

// Service stores one Context per user id. With maxUsers > 0 the least recently
// used context is dropped once the cap is exceeded; 0 keeps every context.
type Service struct {
	model    ai.ChatModel
	maxUsers int
	logger   zerolog.Logger

	mu       sync.Mutex
	contexts map[string]*list.Element
	order    *list.List // front is most recently used
}

// NewService creates an empty context store.
func NewService(model ai.ChatModel, maxUsers int, logger zerolog.Logger) *Service {
	return &Service{
		model:    model,
		maxUsers: maxUsers,
		logger:   logger,
		contexts: make(map[string]*list.Element),
		order:    list.New(),
	}
}

// GetOrCreate returns the user's context, seeding a new one from profile when absent.
func (s *Service) GetOrCreate(ctx context.Context, userID string, profile *persona.Profile) (*Context, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.contexts[userID]; ok {
		s.order.MoveToFront(elem)
		return elem.Value.(*Context), nil
	}

	if profile == nil {
		profile = persona.NewProfile(userID)
	}
	systemPrompt := ai.BuildSystemPrompt(profile)
	session, err := s.model.NewSession(ctx, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("open chat session for %s: %w", userID, err)
	}

	convo := &Context{
		UserID:       userID,
		SystemPrompt: systemPrompt,
		CreatedAt:    time.Now().UTC(),
		session:      session,
	}
	s.contexts[userID] = s.order.PushFront(convo)
	s.logger.Info().Str("user_id", userID).Str("model", s.model.Name()).Msg("conversation context created")

	if s.maxUsers > 0 {
		for s.order.Len() > s.maxUsers {
			oldest := s.order.Back()
			evicted := s.order.Remove(oldest).(*Context)
			delete(s.contexts, evicted.UserID)
			s.logger.Info().Str("user_id", evicted.UserID).Msg("conversation context evicted")
		}
	}

	return convo, nil
}

// Lookup returns an existing context without creating one.
func (s *Service) Lookup(userID string) (*Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.contexts[userID]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Context), true
}

// Len reports the number of live contexts.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}
