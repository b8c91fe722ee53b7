package collaboration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"coauthor/internal/models"
)

// ConnState is the lifecycle of one connection's coordinator.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateActive
	StateSwitchingSection
	StateDisconnected // terminal
)

// FullCompiler is the slice of the compile scheduler the coordinator needs:
// explicit full builds triggered over the connection.
type FullCompiler interface {
	CompileFull(ctx context.Context, documentID string, docType models.DocType) (models.CompileJob, error)
}

// SyncCoordinator orchestrates presence, locks, change broadcasting, and
// compiles for a single connection, and defines the section-switch protocol.
// Conflict, staleness, and transport loss are absorbed here; only persistence
// and compile failures cross the boundary as explicit results.
type SyncCoordinator struct {
	mu    sync.Mutex
	state ConnState

	documentID string
	docType    models.DocType
	userID     string
	userName   string
	connID     string

	section  string
	readOnly bool

	receiver    *Receiver
	presence    *PresenceRegistry
	locks       *SectionLockManager
	broadcaster *ChangeBroadcaster
	compiles    FullCompiler
}

func NewSyncCoordinator(
	documentID string,
	docType models.DocType,
	userID, userName, connID string,
	presence *PresenceRegistry,
	locks *SectionLockManager,
	broadcaster *ChangeBroadcaster,
	compiles FullCompiler,
) *SyncCoordinator {
	return &SyncCoordinator{
		state:       StateConnecting,
		documentID:  documentID,
		docType:     docType,
		userID:      userID,
		userName:    userName,
		connID:      connID,
		receiver:    NewReceiver(LastWriterWins{}),
		presence:    presence,
		locks:       locks,
		broadcaster: broadcaster,
		compiles:    compiles,
	}
}

// Connect registers presence and activates the connection.
func (c *SyncCoordinator) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.presence.Join(c.documentID, c.userID, c.userName, c.connID)
	c.state = StateActive
}

// ConnID identifies this connection for broadcast routing.
func (c *SyncCoordinator) ConnID() string { return c.connID }

// UserID identifies the user behind this connection.
func (c *SyncCoordinator) UserID() string { return c.userID }

// Section returns the section this connection currently views.
func (c *SyncCoordinator) Section() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.section
}

// ReadOnly reports whether writes to the current section are gated off
// because another user holds its lock. Reads always succeed.
func (c *SyncCoordinator) ReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

// HandleEdit processes a local edit to the current section. The first edit
// acquires the section lock (locks are created on first edit/focus); a
// conflict puts the section into read-only mode and the edit is rejected.
func (c *SyncCoordinator) HandleEdit(sectionKey, content string) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return fmt.Errorf("connection is not active")
	}
	if sectionKey != c.section {
		c.mu.Unlock()
		return fmt.Errorf("not viewing section %q; switch first", sectionKey)
	}
	c.mu.Unlock()

	// Acquire is re-entrant for the current holder and doubles as a renew.
	if err := c.locks.Acquire(c.documentID, sectionKey, c.userID); err != nil {
		var locked *ErrSectionLocked
		if errors.As(err, &locked) {
			c.mu.Lock()
			c.readOnly = true
			c.mu.Unlock()
		}
		return err
	}

	c.mu.Lock()
	c.readOnly = false
	c.mu.Unlock()

	c.receiver.MarkDirty(content)
	c.presence.Heartbeat(c.documentID, c.userID)
	c.broadcaster.OnLocalEdit(c.documentID, c.docType, sectionKey, c.userID, c.connID, content)
	return nil
}

// SwitchSection moves the connection to a new section:
// cancel the old section's timers, synchronously flush its unsaved content,
// release its lock, update presence, then try to lock the new section. A
// conflict on the new section never fails the switch; it only gates writes.
func (c *SyncCoordinator) SwitchSection(ctx context.Context, newSection string) (readOnly bool, err error) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return false, fmt.Errorf("connection is not active")
	}
	c.state = StateSwitchingSection
	oldSection := c.section
	c.mu.Unlock()

	if oldSection != "" && oldSection != newSection {
		c.broadcaster.CancelSection(c.documentID, oldSection, c.connID)
		if flushErr := c.broadcaster.Flush(ctx, c.documentID, oldSection, c.connID); flushErr != nil {
			// Surfaced to the caller, but the switch still proceeds; the edit
			// stays buffered for a later cycle.
			err = fmt.Errorf("flush %q before switch: %w", oldSection, flushErr)
		}
		c.locks.Release(c.documentID, oldSection, c.userID)
	}

	c.presence.UpdateSection(c.documentID, c.userID, newSection)
	c.receiver.SetSection(newSection)

	readOnly = false
	if newSection != "" {
		if acqErr := c.locks.Acquire(c.documentID, newSection, c.userID); acqErr != nil {
			readOnly = true
		}
	}

	c.mu.Lock()
	c.section = newSection
	c.readOnly = readOnly
	c.state = StateActive
	c.mu.Unlock()

	return readOnly, err
}

// HandleRemote applies the acceptance policy for a change produced elsewhere
// and, when accepted, returns the frame to push to this connection's client.
func (c *SyncCoordinator) HandleRemote(change models.RemoteChange) (models.ServerMessage, bool) {
	if change.OriginConnID == c.connID {
		return models.ServerMessage{}, false
	}

	content, ok := c.receiver.Accept(change)
	if !ok {
		return models.ServerMessage{}, false
	}

	return models.ServerMessage{
		Type:       models.MessageTypeRemoteChange,
		SectionKey: change.SectionKey,
		Content:    content,
		Sequence:   change.SequenceNumber,
		UserID:     change.OriginUserID,
	}, true
}

// OnPersistResult resolves this connection's dirty/deferred state after its
// pending edit finished a persistence cycle.
func (c *SyncCoordinator) OnPersistResult(saved bool) {
	c.receiver.ResolveLocalPersist(saved)
}

// AcquireLock explicitly locks a section (focus without editing).
func (c *SyncCoordinator) AcquireLock(sectionKey string) error {
	err := c.locks.Acquire(c.documentID, sectionKey, c.userID)
	c.mu.Lock()
	if sectionKey == c.section {
		c.readOnly = err != nil
	}
	c.mu.Unlock()
	return err
}

// ReleaseLock releases a section lock held by this user. Releasing a lock we
// don't hold is a silent no-op.
func (c *SyncCoordinator) ReleaseLock(sectionKey string) {
	c.locks.Release(c.documentID, sectionKey, c.userID)
}

// Heartbeat refreshes presence.
func (c *SyncCoordinator) Heartbeat() {
	c.presence.Heartbeat(c.documentID, c.userID)
}

// CompileFull triggers an explicit full build of the document.
func (c *SyncCoordinator) CompileFull(ctx context.Context) (models.CompileJob, error) {
	return c.compiles.CompileFull(ctx, c.documentID, c.docType)
}

// Disconnect releases all locks held by this connection, marks presence
// inactive, and makes a best-effort flush of any unflushed pending change.
// Terminal: the coordinator never leaves this state.
func (c *SyncCoordinator) Disconnect(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	section := c.section
	c.mu.Unlock()

	if section != "" {
		if err := c.broadcaster.Flush(ctx, c.documentID, section, c.connID); err != nil {
			log.Printf("  Best-effort flush on disconnect failed for %s/%s: %v", c.documentID, section, err)
		}
	}
	c.locks.ReleaseAllHeldBy(c.documentID, c.userID)
	c.presence.Leave(c.documentID, c.userID, c.connID)
}
