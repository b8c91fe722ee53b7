package collaboration

import (
	"log"
	"sync"

	"coauthor/internal/models"
)

// ApplyStrategy decides how an incoming remote change combines with whatever
// the receiver has locally. Today this is whole-content last-writer-wins; a
// character-level operational transform slots in behind the same seam later
// (a transform(op1, op2) plus a per-section vector clock) without touching
// presence, locks, or compile scheduling.
type ApplyStrategy interface {
	Apply(local, remote string) string
}

// LastWriterWins wholesale replaces local content with the remote version.
type LastWriterWins struct{}

func (LastWriterWins) Apply(local, remote string) string { return remote }

// Receiver is one connection's view of incoming changes. It enforces the
// acceptance policy: ignore changes for sections we are not viewing, apply
// when clean, defer (latest only) while a local unsaved edit exists. Sequence
// numbers make application at-most-once and in generation order.
type Receiver struct {
	mu       sync.Mutex
	strategy ApplyStrategy

	sectionKey string // section currently viewed
	content    string // last content locally edited or applied in that section
	dirty      bool   // local unsaved edit exists
	deferred   *models.RemoteChange
	applied    map[string]uint64 // sectionKey -> highest applied sequence
}

func NewReceiver(strategy ApplyStrategy) *Receiver {
	if strategy == nil {
		strategy = LastWriterWins{}
	}
	return &Receiver{
		strategy: strategy,
		applied:  make(map[string]uint64),
	}
}

// SetSection moves the receiver to a new section and clears edit state for
// the old one.
func (r *Receiver) SetSection(sectionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sectionKey = sectionKey
	r.content = ""
	r.dirty = false
	r.deferred = nil
}

// Section returns the section currently viewed.
func (r *Receiver) Section() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sectionKey
}

// MarkDirty records that this connection has an unsaved local edit and the
// content it produced, so the merge strategy sees real local state.
func (r *Receiver) MarkDirty(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = true
	r.content = content
}

// Accept runs the acceptance policy for one incoming change. It returns the
// content to apply and whether to apply it.
func (r *Receiver) Accept(change models.RemoteChange) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if change.SectionKey != r.sectionKey {
		return "", false // not viewing that section
	}

	if change.SequenceNumber <= r.applied[change.SectionKey] {
		// Stale or duplicate: at-most-once application.
		log.Printf("  Dropping stale change seq=%d for %s/%s (applied=%d)",
			change.SequenceNumber, change.DocumentID, change.SectionKey, r.applied[change.SectionKey])
		return "", false
	}

	if r.dirty {
		// Keep only the latest deferred change until the local debounce fires.
		if r.deferred == nil || change.SequenceNumber > r.deferred.SequenceNumber {
			r.deferred = &change
		}
		return "", false
	}

	r.applied[change.SectionKey] = change.SequenceNumber
	merged := r.strategy.Apply(r.content, change.Content)
	r.content = merged
	return merged, true
}

// ResolveLocalPersist is called when this connection's own pending edit
// finished its debounce cycle. If the local save succeeded it is the more
// recently saved content, so any deferred remote change loses and is dropped.
// On failure the local edit stays dirty for the next cycle.
func (r *Receiver) ResolveLocalPersist(saved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !saved {
		return
	}
	if r.deferred != nil {
		r.applied[r.deferred.SectionKey] = r.deferred.SequenceNumber
		r.deferred = nil
	}
	r.dirty = false
}
