package models

import "time"

// PendingChange is the latest not-yet-persisted edit for one section. At most
// one is in flight per (document, section); a newer edit supersedes an
// undelivered older one.
type PendingChange struct {
	DocumentID     string    `json:"document_id"`
	SectionKey     string    `json:"section_key"`
	Content        string    `json:"content"`
	OriginUserID   string    `json:"origin_user_id"`
	SequenceNumber uint64    `json:"sequence_number"`
	EditedAt       time.Time `json:"edited_at"`
}

// RemoteChange is a section edit relayed to other viewers of the document.
// SequenceNumber increases monotonically per (document, section); receivers
// drop stale or duplicate numbers so application is at-most-once and in order.
type RemoteChange struct {
	DocumentID     string `json:"document_id"`
	SectionKey     string `json:"section_key"`
	OriginUserID   string `json:"origin_user_id"`
	OriginConnID   string `json:"-"`
	Content        string `json:"content"`
	SequenceNumber uint64 `json:"sequence_number"`
}
