package models

import "time"

// SectionLock is an advisory exclusive editing lock on one section of a
// document. Invariant: at most one holder per (document, section) at any
// instant. Locks are a UX aid, not the durability guarantee; a lock whose
// holder went away is reclaimed lazily by the next acquire.
type SectionLock struct {
	DocumentID    string    `json:"document_id"`
	SectionKey    string    `json:"section_key"`
	HolderUserID  string    `json:"holder_user_id"`
	AcquiredAt    time.Time `json:"acquired_at"`
	LastRenewedAt time.Time `json:"last_renewed_at"`
}
