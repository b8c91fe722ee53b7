package collaboration

import (
	"context"
	"log"
	"sync"
	"time"

	"coauthor/internal/models"
)

// Timings are the debounce windows and staleness thresholds of the
// collaboration layer. The three debounce windows differ because their costs
// differ by orders of magnitude: a broadcast is a cheap fan-out, a preview
// compile is expensive, a durable write sits in between.
type Timings struct {
	BroadcastDebounce time.Duration
	PreviewDebounce   time.Duration
	PersistDebounce   time.Duration
	PresenceTimeout   time.Duration
	LockTimeout       time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		BroadcastDebounce: 500 * time.Millisecond,
		PreviewDebounce:   2 * time.Second,
		PersistDebounce:   5 * time.Second,
		PresenceTimeout:   5 * time.Minute,
		LockTimeout:       5 * time.Minute,
	}
}

// SectionStore is the slice of the storage collaborator the broadcaster
// writes through on every persistence-debounce firing.
type SectionStore interface {
	ReadSection(ctx context.Context, documentID, sectionKey string) (string, error)
	WriteSection(ctx context.Context, documentID, sectionKey, content string) error
}

// ChangeBroadcaster debounces local edits into broadcasts, preview-compile
// triggers, and durable writes. It owns the PendingChange buffers: at most
// one per section, newer edits superseding undelivered older ones.
type ChangeBroadcaster struct {
	mu       sync.Mutex
	sections map[lockKey]*sectionState
	timings  Timings
	store    SectionStore

	// SendRemote fans a change out to the document's other connections.
	SendRemote func(change models.RemoteChange)
	// RequestPreview hands debounced content to the compile scheduler.
	RequestPreview func(documentID string, docType models.DocType, sectionKey, content string)
	// OnPersisted tells the origin user's connection its edit is durable.
	OnPersisted func(documentID, sectionKey, userID string)
	// OnPersistError surfaces a failed durable write to the editing user.
	OnPersistError func(documentID, sectionKey, userID string, err error)
}

type sectionState struct {
	pending    *models.PendingChange
	docType    models.DocType
	originConn string // connection that produced the pending edit
	seq        uint64 // monotonic per (document, section)
	broadcast  Debouncer
	preview    Debouncer
	persist    Debouncer
}

func NewChangeBroadcaster(timings Timings, store SectionStore) *ChangeBroadcaster {
	return &ChangeBroadcaster{
		sections: make(map[lockKey]*sectionState),
		timings:  timings,
		store:    store,
	}
}

// OnLocalEdit buffers the edit as the section's pending change and (re)arms
// the three debouncers. A keystroke burst therefore yields one broadcast, one
// preview request, and one durable write.
func (b *ChangeBroadcaster) OnLocalEdit(documentID string, docType models.DocType, sectionKey, userID, connID, content string) {
	b.mu.Lock()
	state := b.section(documentID, sectionKey)
	state.docType = docType
	state.originConn = connID
	state.pending = &models.PendingChange{
		DocumentID:   documentID,
		SectionKey:   sectionKey,
		Content:      content,
		OriginUserID: userID,
		EditedAt:     time.Now(),
	}
	b.mu.Unlock()

	state.broadcast.Schedule(b.timings.BroadcastDebounce, func() {
		b.fireBroadcast(documentID, sectionKey)
	})
	state.preview.Schedule(b.timings.PreviewDebounce, func() {
		b.firePreview(documentID, sectionKey)
	})
	state.persist.Schedule(b.timings.PersistDebounce, func() {
		b.firePersist(documentID, sectionKey)
	})
}

func (b *ChangeBroadcaster) fireBroadcast(documentID, sectionKey string) {
	b.mu.Lock()
	state := b.section(documentID, sectionKey)
	if state.pending == nil {
		b.mu.Unlock()
		return
	}
	state.seq++
	change := models.RemoteChange{
		DocumentID:     documentID,
		SectionKey:     sectionKey,
		OriginUserID:   state.pending.OriginUserID,
		OriginConnID:   state.originConn,
		Content:        state.pending.Content,
		SequenceNumber: state.seq,
	}
	state.pending.SequenceNumber = state.seq
	send := b.SendRemote
	b.mu.Unlock()

	if send != nil {
		send(change)
	}
}

func (b *ChangeBroadcaster) firePreview(documentID, sectionKey string) {
	b.mu.Lock()
	state := b.section(documentID, sectionKey)
	if state.pending == nil {
		b.mu.Unlock()
		return
	}
	content := state.pending.Content
	docType := state.docType
	request := b.RequestPreview
	b.mu.Unlock()

	if request != nil {
		request(documentID, docType, sectionKey, content)
	}
}

func (b *ChangeBroadcaster) firePersist(documentID, sectionKey string) {
	if err := b.persistPending(context.Background(), documentID, sectionKey); err != nil {
		log.Printf("⚠️  Persist failed for %s/%s: %v", documentID, sectionKey, err)
	}
}

// persistPending writes the section's pending change through to storage. On
// success the buffer is cleared (unless a newer edit arrived meanwhile); on
// failure the edit is kept so the next debounce cycle can try again - no
// automatic extra retries.
func (b *ChangeBroadcaster) persistPending(ctx context.Context, documentID, sectionKey string) error {
	b.mu.Lock()
	state := b.section(documentID, sectionKey)
	pending := state.pending
	b.mu.Unlock()

	if pending == nil {
		return nil
	}

	err := b.store.WriteSection(ctx, documentID, sectionKey, pending.Content)

	b.mu.Lock()
	if err == nil {
		if state.pending == pending {
			state.pending = nil
		}
	}
	persisted := b.OnPersisted
	failed := b.OnPersistError
	b.mu.Unlock()

	if err != nil {
		if failed != nil {
			failed(documentID, sectionKey, pending.OriginUserID, err)
		}
		return err
	}
	if persisted != nil {
		persisted(documentID, sectionKey, pending.OriginUserID)
	}
	return nil
}

// CancelSection drops the section's scheduled broadcast/preview/persist runs,
// but only when the pending cycle was produced by the given connection. The
// timers are shared per (document, section), so a viewer leaving a section
// must not cancel the editor's cycle.
func (b *ChangeBroadcaster) CancelSection(documentID, sectionKey, connID string) {
	b.mu.Lock()
	state, ok := b.sections[lockKey{documentID, sectionKey}]
	if !ok || state.originConn != connID {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	state.broadcast.Cancel()
	state.preview.Cancel()
	state.persist.Cancel()
}

// Flush cancels the section's timers and synchronously persists the unsaved
// content, if this connection produced it. Used on section switch and,
// best-effort, on disconnect; another connection's pending cycle is left
// untouched.
func (b *ChangeBroadcaster) Flush(ctx context.Context, documentID, sectionKey, connID string) error {
	b.mu.Lock()
	state, ok := b.sections[lockKey{documentID, sectionKey}]
	owned := ok && state.originConn == connID && state.pending != nil
	b.mu.Unlock()
	if !owned {
		return nil
	}

	b.CancelSection(documentID, sectionKey, connID)
	return b.persistPending(ctx, documentID, sectionKey)
}

// HasPending reports whether the section has an unsaved local edit.
func (b *ChangeBroadcaster) HasPending(documentID, sectionKey string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.sections[lockKey{documentID, sectionKey}]
	return ok && state.pending != nil
}

// section returns the state for a key, creating it lazily. Caller holds b.mu.
func (b *ChangeBroadcaster) section(documentID, sectionKey string) *sectionState {
	key := lockKey{documentID, sectionKey}
	state, ok := b.sections[key]
	if !ok {
		state = &sectionState{}
		b.sections[key] = state
	}
	return state
}
