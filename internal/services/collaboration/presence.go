package collaboration

import (
	"sync"
	"time"

	"coauthor/internal/models"
)

// PresenceRegistry tracks who is connected to each document and which section
// they are viewing. Presence is advisory: unknown documents or users are
// no-ops, never errors, and staleness is tolerated. Entries older than the
// inactivity threshold are excluded from snapshots (lazy eviction) and removed
// by the hub's periodic sweep.
type PresenceRegistry struct {
	mu      sync.RWMutex
	docs    map[string]map[string]*models.Session // documentID -> userID -> session
	timeout time.Duration
	now     func() time.Time // injected for testability
}

func NewPresenceRegistry(timeout time.Duration) *PresenceRegistry {
	return &PresenceRegistry{
		docs:    make(map[string]map[string]*models.Session),
		timeout: timeout,
		now:     time.Now,
	}
}

// Join registers a user on a document. A later connection overwrites any
// existing session for the same (document, user) - last connection wins.
func (p *PresenceRegistry) Join(documentID, userID, userName, connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.docs[documentID] == nil {
		p.docs[documentID] = make(map[string]*models.Session)
	}

	session := models.NewSession(documentID, userID, userName, connectionID)
	session.LastSeenAt = p.now()
	p.docs[documentID][userID] = session
}

// UpdateSection records which section the user is currently viewing.
func (p *PresenceRegistry) UpdateSection(documentID, userID, sectionKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	session, ok := p.docs[documentID][userID]
	if !ok {
		return
	}
	session.SectionKey = sectionKey
	session.LastSeenAt = p.now()
}

// Heartbeat refreshes the user's last-seen timestamp.
func (p *PresenceRegistry) Heartbeat(documentID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	session, ok := p.docs[documentID][userID]
	if !ok {
		return
	}
	session.LastSeenAt = p.now()
}

// Leave marks the session inactive. The connectionID guards against an old
// connection tearing down the presence of a newer one for the same user.
func (p *PresenceRegistry) Leave(documentID, userID, connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	session, ok := p.docs[documentID][userID]
	if !ok {
		return
	}
	if connectionID != "" && session.ConnectionID != connectionID {
		return // a newer connection superseded this one
	}
	session.IsActive = false
}

// Snapshot returns the non-stale sessions for a document.
func (p *PresenceRegistry) Snapshot(documentID string) []models.PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.now()
	entries := make([]models.PresenceEntry, 0, len(p.docs[documentID]))
	for _, session := range p.docs[documentID] {
		if !session.IsActive || now.Sub(session.LastSeenAt) > p.timeout {
			continue
		}
		entries = append(entries, models.PresenceEntry{
			UserID:     session.UserID,
			UserName:   session.UserName,
			SectionKey: session.SectionKey,
			LastSeenAt: session.LastSeenAt,
		})
	}
	return entries
}

// IsActive reports whether the user has non-stale presence on the document.
// The lock manager consults this during lazy reclamation.
func (p *PresenceRegistry) IsActive(documentID, userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	session, ok := p.docs[documentID][userID]
	if !ok {
		return false
	}
	return session.IsActive && p.now().Sub(session.LastSeenAt) <= p.timeout
}

// Sweep removes stale and inactive sessions. Not required for correctness -
// Snapshot already filters - but keeps the maps from growing unbounded.
func (p *PresenceRegistry) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for documentID, users := range p.docs {
		for userID, session := range users {
			if !session.IsActive || now.Sub(session.LastSeenAt) > p.timeout {
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(p.docs, documentID)
		}
	}
}
