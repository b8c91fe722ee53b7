package collaboration

import (
	"fmt"
	"sync"
	"time"

	"coauthor/internal/models"
)

// ActivityChecker is what the lock manager needs from presence: whether a
// holder is still around. Consumer-driven, so tests can stub it.
type ActivityChecker interface {
	IsActive(documentID, userID string) bool
}

// ErrSectionLocked is returned when a section is held by another, still-active
// user. It is recoverable: the caller falls back to read-only for the section.
type ErrSectionLocked struct {
	DocumentID string
	SectionKey string
	HolderID   string
}

func (e *ErrSectionLocked) Error() string {
	return fmt.Sprintf("section %s/%s is locked by %s", e.DocumentID, e.SectionKey, e.HolderID)
}

type lockKey struct {
	documentID string
	sectionKey string
}

// SectionLockManager grants exclusive per-section editing locks. Each key
// moves Unlocked -> Locked(holder) -> Unlocked. Acquire never blocks: it
// answers success or a named-holder conflict immediately and leaves retry to
// the caller. Stale locks are reclaimed lazily by the next acquire - a
// dedicated sweep is only a UI-promptness nicety, not a correctness need,
// because durability is the storage layer's job, not the lock's.
type SectionLockManager struct {
	mu       sync.Mutex
	locks    map[lockKey]*models.SectionLock
	timeout  time.Duration
	presence ActivityChecker
	now      func() time.Time
}

func NewSectionLockManager(timeout time.Duration, presence ActivityChecker) *SectionLockManager {
	return &SectionLockManager{
		locks:    make(map[lockKey]*models.SectionLock),
		timeout:  timeout,
		presence: presence,
		now:      time.Now,
	}
}

// Acquire takes the lock for userID. Succeeds if the section is unlocked,
// already held by this user (re-entrant renew), or held by someone stale.
func (m *SectionLockManager) Acquire(documentID, sectionKey, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey{documentID, sectionKey}
	now := m.now()

	if lock, ok := m.locks[key]; ok {
		if lock.HolderUserID == userID {
			lock.LastRenewedAt = now
			return nil
		}
		if !m.expired(lock, now) {
			return &ErrSectionLocked{
				DocumentID: documentID,
				SectionKey: sectionKey,
				HolderID:   lock.HolderUserID,
			}
		}
		// Stale holder: treat as unlocked and take over.
	}

	m.locks[key] = &models.SectionLock{
		DocumentID:    documentID,
		SectionKey:    sectionKey,
		HolderUserID:  userID,
		AcquiredAt:    now,
		LastRenewedAt: now,
	}
	return nil
}

// Renew extends the lock only if the caller currently holds it; anything else
// is ignored.
func (m *SectionLockManager) Renew(documentID, sectionKey, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[lockKey{documentID, sectionKey}]
	if !ok || lock.HolderUserID != userID {
		return
	}
	lock.LastRenewedAt = m.now()
}

// Release unlocks only if the caller is the current holder. Releasing a lock
// you don't hold is a silent no-op; that avoids races with timeout-based
// reclamation, where the lock may already belong to someone else.
func (m *SectionLockManager) Release(documentID, sectionKey, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey{documentID, sectionKey}
	lock, ok := m.locks[key]
	if !ok || lock.HolderUserID != userID {
		return
	}
	delete(m.locks, key)
}

// ReleaseAllHeldBy drops every lock the user holds on the document. Called on
// disconnect.
func (m *SectionLockManager) ReleaseAllHeldBy(documentID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, lock := range m.locks {
		if key.documentID == documentID && lock.HolderUserID == userID {
			delete(m.locks, key)
		}
	}
}

// Holder returns the current non-stale holder of a section, if any.
func (m *SectionLockManager) Holder(documentID, sectionKey string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[lockKey{documentID, sectionKey}]
	if !ok || m.expired(lock, m.now()) {
		return "", false
	}
	return lock.HolderUserID, true
}

func (m *SectionLockManager) expired(lock *models.SectionLock, now time.Time) bool {
	if now.Sub(lock.LastRenewedAt) > m.timeout {
		return true
	}
	if m.presence != nil && !m.presence.IsActive(lock.DocumentID, lock.HolderUserID) {
		return true
	}
	return false
}
