package chat

import (
	"net"
	"time"
)

// Conn is the part of a live connection the registry keeps hold of.
type Conn interface {
	RemoteAddr() net.Addr
}

// Session captures one open connection. UserID stays empty until the client
// identifies and never changes afterwards.
type Session struct {
	ID           string    `json:"id"`
	Conn         Conn      `json:"-"`
	UserID       string    `json:"userId,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Identified reports whether start_conversation has been accepted.
func (s Session) Identified() bool {
	return s.UserID != ""
}
