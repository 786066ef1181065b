// Package session tracks the live socket connections and their identified users.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/persona-voice/backend/internal/model/chat"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrAlreadyIdentified = errors.New("session already identified")
	ErrNotIdentified     = errors.New("session not identified")
	ErrUserRequired      = errors.New("user id is required")
)

// Registry is the sole owner of connection sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*chat.Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Open registers a new unidentified session and returns its id.
func (r *Registry) Open(conn chat.Conn) string {
	now := r.now()
	session := &chat.Session{
		ID:           uuid.NewString(),
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()
	return session.ID
}

// MarkIdentified binds userID to the session. The binding is permanent:
// a second call fails with ErrAlreadyIdentified, even for the same user.
func (r *Registry) MarkIdentified(id, userID string) error {
	if userID == "" {
		return ErrUserRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if session.UserID != "" {
		return ErrAlreadyIdentified
	}
	session.UserID = userID
	session.LastActivity = r.now()
	return nil
}

// UserID returns the identified user, or ErrNotIdentified.
func (r *Registry) UserID(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return "", ErrSessionNotFound
	}
	if session.UserID == "" {
		return "", ErrNotIdentified
	}
	return session.UserID, nil
}

// Touch records activity on the session. Unknown ids are ignored.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if session, ok := r.sessions[id]; ok {
		session.LastActivity = r.now()
	}
	r.mu.Unlock()
}

// Close removes the session. Closing an unknown or closed id is a no-op.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Get returns a copy of the session.
func (r *Registry) Get(id string) (chat.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return chat.Session{}, false
	}
	return *session, true
}

// Count returns the number of open sessions and how many are identified.
func (r *Registry) Count() (total, identified int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		if session.Identified() {
			identified++
		}
	}
	return len(r.sessions), identified
}
