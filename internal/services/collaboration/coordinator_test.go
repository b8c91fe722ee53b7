package collaboration

import (
	"context"
	"errors"
	"testing"
	"time"

	"coauthor/internal/models"
)

type stubCompiler struct {
	calls int
	job   models.CompileJob
	err   error
}

func (s *stubCompiler) CompileFull(ctx context.Context, documentID string, docType models.DocType) (models.CompileJob, error) {
	s.calls++
	return s.job, s.err
}

type coordFixture struct {
	presence    *PresenceRegistry
	locks       *SectionLockManager
	broadcaster *ChangeBroadcaster
	store       *fakeSectionStore
	compiler    *stubCompiler
}

// newCoordFixture builds the collaboration stack with debounce windows long
// enough that nothing fires on its own during a test.
func newCoordFixture() *coordFixture {
	return newCoordFixtureTimings(Timings{
		BroadcastDebounce: time.Minute,
		PreviewDebounce:   time.Minute,
		PersistDebounce:   time.Minute,
		PresenceTimeout:   5 * time.Minute,
		LockTimeout:       5 * time.Minute,
	})
}

func newCoordFixtureTimings(timings Timings) *coordFixture {
	store := &fakeSectionStore{}
	presence := NewPresenceRegistry(timings.PresenceTimeout)
	return &coordFixture{
		presence:    presence,
		locks:       NewSectionLockManager(timings.LockTimeout, presence),
		broadcaster: NewChangeBroadcaster(timings, store),
		store:       store,
		compiler:    &stubCompiler{},
	}
}

func (f *coordFixture) connect(userID, connID string) *SyncCoordinator {
	c := NewSyncCoordinator(
		"doc1", models.DocTypeLatex,
		userID, userID, connID,
		f.presence, f.locks, f.broadcaster, f.compiler,
	)
	c.Connect()
	return c
}

func TestEditConflictFallsBackToReadOnly(t *testing.T) {
	f := newCoordFixture()
	alice := f.connect("alice", "conn-a")
	bob := f.connect("bob", "conn-b")

	if readOnly, err := alice.SwitchSection(context.Background(), "intro"); err != nil || readOnly {
		t.Fatalf("alice switch: readOnly=%v err=%v", readOnly, err)
	}
	if err := alice.HandleEdit("intro", "alice's draft"); err != nil {
		t.Fatalf("alice edit failed: %v", err)
	}

	// Bob lands on the same section: the switch succeeds but writes are
	// gated off.
	readOnly, err := bob.SwitchSection(context.Background(), "intro")
	if err != nil {
		t.Fatalf("bob switch failed: %v", err)
	}
	if !readOnly {
		t.Fatal("bob should be read-only on alice's section")
	}

	err = bob.HandleEdit("intro", "bob's draft")
	var locked *ErrSectionLocked
	if !errors.As(err, &locked) {
		t.Fatalf("bob edit error = %v, want ErrSectionLocked", err)
	}
	if locked.HolderID != "alice" {
		t.Errorf("conflict holder = %q, want alice", locked.HolderID)
	}
	if !bob.ReadOnly() {
		t.Error("bob not in read-only mode after conflict")
	}

	// Alice moves on; bob's next edit attempt takes over the freed lock.
	if _, err := alice.SwitchSection(context.Background(), "methods"); err != nil {
		t.Fatalf("alice second switch failed: %v", err)
	}
	if err := bob.HandleEdit("intro", "bob's draft"); err != nil {
		t.Fatalf("bob edit after release failed: %v", err)
	}
	if bob.ReadOnly() {
		t.Error("bob still read-only after acquiring the lock")
	}
}

func TestSwitchSectionFlushesAndMovesLock(t *testing.T) {
	f := newCoordFixture()
	alice := f.connect("alice", "conn-a")

	if _, err := alice.SwitchSection(context.Background(), "intro"); err != nil {
		t.Fatal(err)
	}
	if err := alice.HandleEdit("intro", "unsaved intro text"); err != nil {
		t.Fatal(err)
	}
	if !f.broadcaster.HasPending("doc1", "intro") {
		t.Fatal("edit not buffered")
	}

	readOnly, err := alice.SwitchSection(context.Background(), "methods")
	if err != nil {
		t.Fatalf("switch failed: %v", err)
	}
	if readOnly {
		t.Error("free section should not be read-only")
	}

	// The unsaved edit was flushed synchronously, exactly once.
	if f.store.writeCount() != 1 || f.store.lastWrite() != "unsaved intro text" {
		t.Errorf("writes = %d (%q), want 1 write of the unsaved edit",
			f.store.writeCount(), f.store.lastWrite())
	}
	// The old lock is gone, the new one is held.
	if _, held := f.locks.Holder("doc1", "intro"); held {
		t.Error("intro lock not released on switch")
	}
	if holder, _ := f.locks.Holder("doc1", "methods"); holder != "alice" {
		t.Errorf("methods holder = %q, want alice", holder)
	}
	// Presence follows the switch.
	for _, e := range f.presence.Snapshot("doc1") {
		if e.UserID == "alice" && e.SectionKey != "methods" {
			t.Errorf("presence section = %q, want methods", e.SectionKey)
		}
	}
}

func TestSwitchProceedsWhenFlushFails(t *testing.T) {
	f := newCoordFixture()
	alice := f.connect("alice", "conn-a")

	alice.SwitchSection(context.Background(), "intro")
	if err := alice.HandleEdit("intro", "doomed edit"); err != nil {
		t.Fatal(err)
	}

	f.store.setFail(errors.New("disk full"))
	readOnly, err := alice.SwitchSection(context.Background(), "methods")
	if err == nil {
		t.Fatal("flush failure not surfaced")
	}
	if readOnly {
		t.Error("methods should not be read-only")
	}
	// The switch still completed.
	if alice.Section() != "methods" {
		t.Errorf("section = %q, want methods", alice.Section())
	}
	// The unflushed edit is kept, not lost.
	if !f.broadcaster.HasPending("doc1", "intro") {
		t.Error("failed flush dropped the pending edit")
	}
}

func TestEditRejectedWhenNotViewingSection(t *testing.T) {
	f := newCoordFixture()
	alice := f.connect("alice", "conn-a")
	alice.SwitchSection(context.Background(), "intro")

	if err := alice.HandleEdit("methods", "text"); err == nil {
		t.Fatal("edit to a non-viewed section accepted")
	}
	if f.broadcaster.HasPending("doc1", "methods") {
		t.Error("rejected edit was buffered")
	}
}

func TestHandleRemoteSkipsOwnConnection(t *testing.T) {
	f := newCoordFixture()
	alice := f.connect("alice", "conn-a")
	alice.SwitchSection(context.Background(), "intro")

	own := models.RemoteChange{
		DocumentID:     "doc1",
		SectionKey:     "intro",
		OriginConnID:   "conn-a",
		SequenceNumber: 1,
	}
	if _, ok := alice.HandleRemote(own); ok {
		t.Error("echoed own change back to its origin")
	}

	other := models.RemoteChange{
		DocumentID:     "doc1",
		SectionKey:     "intro",
		OriginUserID:   "bob",
		OriginConnID:   "conn-b",
		Content:        "bob's text",
		SequenceNumber: 1,
	}
	msg, ok := alice.HandleRemote(other)
	if !ok {
		t.Fatal("change from another connection rejected")
	}
	if msg.Type != models.MessageTypeRemoteChange || msg.Content != "bob's text" || msg.Sequence != 1 {
		t.Errorf("frame = %+v, want remote_change with bob's content", msg)
	}
}

func TestDisconnectReleasesEverything(t *testing.T) {
	f := newCoordFixture()
	alice := f.connect("alice", "conn-a")
	alice.SwitchSection(context.Background(), "intro")
	if err := alice.HandleEdit("intro", "final words"); err != nil {
		t.Fatal(err)
	}

	alice.Disconnect(context.Background())

	// Locks are freed immediately on a clean disconnect.
	if _, held := f.locks.Holder("doc1", "intro"); held {
		t.Error("lock survived disconnect")
	}
	// The unsaved edit was flushed best-effort.
	if f.store.lastWrite() != "final words" {
		t.Errorf("last write = %q, want the final edit", f.store.lastWrite())
	}
	// Presence is gone.
	if f.presence.IsActive("doc1", "alice") {
		t.Error("presence still active after disconnect")
	}
	// Terminal: further edits are rejected.
	if err := alice.HandleEdit("intro", "ghost edit"); err == nil {
		t.Error("edit accepted after disconnect")
	}
	// A second disconnect is a no-op, not a panic.
	alice.Disconnect(context.Background())
}

func TestViewerSwitchLeavesEditorsPendingCycleAlone(t *testing.T) {
	f := newCoordFixtureTimings(Timings{
		BroadcastDebounce: 40 * time.Millisecond,
		PreviewDebounce:   60 * time.Millisecond,
		PersistDebounce:   80 * time.Millisecond,
		PresenceTimeout:   5 * time.Minute,
		LockTimeout:       5 * time.Minute,
	})
	broadcasts := make(chan models.RemoteChange, 4)
	f.broadcaster.SendRemote = func(change models.RemoteChange) { broadcasts <- change }

	alice := f.connect("alice", "conn-a")
	bob := f.connect("bob", "conn-b")
	alice.SwitchSection(context.Background(), "intro")
	if readOnly, _ := bob.SwitchSection(context.Background(), "intro"); !readOnly {
		t.Fatal("bob should be a read-only viewer on alice's section")
	}

	if err := alice.HandleEdit("intro", "alice's draft"); err != nil {
		t.Fatal(err)
	}

	// Bob wanders off before any of alice's windows fire. The broadcast,
	// preview, and persist timers are keyed per section, not per connection;
	// his departure must not touch them.
	if _, err := bob.SwitchSection(context.Background(), "methods"); err != nil {
		t.Fatalf("bob switch failed: %v", err)
	}
	if f.store.writeCount() != 0 {
		t.Fatalf("writes = %d right after the viewer left, want 0 (no early flush)", f.store.writeCount())
	}

	select {
	case change := <-broadcasts:
		if change.Content != "alice's draft" || change.OriginUserID != "alice" {
			t.Errorf("broadcast = %+v, want alice's draft", change)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("editor's broadcast never fired after a viewer switched away")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.store.writeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.store.writeCount() != 1 || f.store.lastWrite() != "alice's draft" {
		t.Errorf("writes = %d (last %q), want the editor's persist on its own schedule",
			f.store.writeCount(), f.store.lastWrite())
	}
}

func TestViewerDisconnectLeavesEditorsPending(t *testing.T) {
	f := newCoordFixture()
	alice := f.connect("alice", "conn-a")
	bob := f.connect("bob", "conn-b")
	alice.SwitchSection(context.Background(), "intro")
	bob.SwitchSection(context.Background(), "intro")

	if err := alice.HandleEdit("intro", "alice's draft"); err != nil {
		t.Fatal(err)
	}

	bob.Disconnect(context.Background())

	// Bob's best-effort flush covers his own edits only; alice's buffered
	// change stays put until her own cycle or switch.
	if f.store.writeCount() != 0 {
		t.Fatalf("writes = %d after a viewer disconnect, want 0", f.store.writeCount())
	}
	if !f.broadcaster.HasPending("doc1", "intro") {
		t.Fatal("viewer disconnect dropped the editor's pending change")
	}

	if _, err := alice.SwitchSection(context.Background(), "methods"); err != nil {
		t.Fatal(err)
	}
	if f.store.writeCount() != 1 || f.store.lastWrite() != "alice's draft" {
		t.Errorf("writes = %d (last %q), want the editor's own flush",
			f.store.writeCount(), f.store.lastWrite())
	}
}

func TestCompileFullDelegatesToScheduler(t *testing.T) {
	f := newCoordFixture()
	f.compiler.job = models.CompileJob{ID: "job-1", Status: models.CompileQueued}
	alice := f.connect("alice", "conn-a")

	job, err := alice.CompileFull(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if job.ID != "job-1" || f.compiler.calls != 1 {
		t.Errorf("job = %+v calls = %d, want pass-through call", job, f.compiler.calls)
	}
}
