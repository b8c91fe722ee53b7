package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Session represents one user's presence on a document. There is at most one
// active session per (document, user); a newer connection supersedes the
// presence of an older one.
type Session struct {
	DocumentID   string    `json:"document_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	ConnectionID string    `json:"connection_id"`
	SectionKey   string    `json:"section_key"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	IsActive     bool      `json:"is_active"`
}

// PresenceEntry is the read view of a non-stale session, as returned by
// presence snapshots and pushed to clients.
type PresenceEntry struct {
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	SectionKey string    `json:"section_key"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

func NewSession(documentID, userID, userName, connectionID string) *Session {
	now := time.Now()
	return &Session{
		DocumentID:   documentID,
		UserID:       userID,
		UserName:     userName,
		ConnectionID: connectionID,
		ConnectedAt:  now,
		LastSeenAt:   now,
		IsActive:     true,
	}
}

// NewConnectionID returns a fresh time-ordered connection identifier.
func NewConnectionID() string {
	return ksuid.New().String()
}
