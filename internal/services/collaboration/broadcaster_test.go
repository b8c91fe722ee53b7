package collaboration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coauthor/internal/models"
)

// fakeSectionStore records writes and can be told to fail.
type fakeSectionStore struct {
	mu     sync.Mutex
	writes []string // contents in write order
	fail   error
}

func (f *fakeSectionStore) ReadSection(ctx context.Context, documentID, sectionKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return "", nil
	}
	return f.writes[len(f.writes)-1], nil
}

func (f *fakeSectionStore) WriteSection(ctx context.Context, documentID, sectionKey, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.writes = append(f.writes, content)
	return nil
}

func (f *fakeSectionStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeSectionStore) lastWrite() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return ""
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakeSectionStore) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func testTimings() Timings {
	return Timings{
		BroadcastDebounce: 20 * time.Millisecond,
		PreviewDebounce:   40 * time.Millisecond,
		PersistDebounce:   60 * time.Millisecond,
		PresenceTimeout:   5 * time.Minute,
		LockTimeout:       5 * time.Minute,
	}
}

func TestEditBurstCollapsesToSingleCycle(t *testing.T) {
	store := &fakeSectionStore{}
	b := NewChangeBroadcaster(testTimings(), store)

	var mu sync.Mutex
	var sent []models.RemoteChange
	var previews []string
	b.SendRemote = func(change models.RemoteChange) {
		mu.Lock()
		sent = append(sent, change)
		mu.Unlock()
	}
	b.RequestPreview = func(documentID string, docType models.DocType, sectionKey, content string) {
		mu.Lock()
		previews = append(previews, content)
		mu.Unlock()
	}

	// A typing burst well inside every debounce window.
	for _, content := range []string{"d", "dr", "dra", "draft"} {
		b.OnLocalEdit("doc1", models.DocTypeLatex, "intro", "alice", "conn-a", content)
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(sent))
	}
	if sent[0].Content != "draft" || sent[0].SequenceNumber != 1 {
		t.Errorf("broadcast = %+v, want latest content with seq 1", sent[0])
	}
	if len(previews) != 1 || previews[0] != "draft" {
		t.Errorf("previews = %v, want one with latest content", previews)
	}
	if store.writeCount() != 1 {
		t.Errorf("persists = %d, want 1", store.writeCount())
	}
	if store.lastWrite() != "draft" {
		t.Errorf("persisted %q, want draft", store.lastWrite())
	}
	if b.HasPending("doc1", "intro") {
		t.Error("pending change should be cleared after persist")
	}
}

func TestSequenceNumbersAreMonotonicPerSection(t *testing.T) {
	store := &fakeSectionStore{}
	b := NewChangeBroadcaster(testTimings(), store)

	seqs := make(chan uint64, 4)
	b.SendRemote = func(change models.RemoteChange) { seqs <- change.SequenceNumber }

	b.OnLocalEdit("doc1", models.DocTypeLatex, "intro", "alice", "conn-a", "one")
	time.Sleep(40 * time.Millisecond)
	b.OnLocalEdit("doc1", models.DocTypeLatex, "intro", "alice", "conn-a", "two")
	time.Sleep(40 * time.Millisecond)
	// A different section numbers independently.
	b.OnLocalEdit("doc1", models.DocTypeLatex, "methods", "alice", "conn-a", "m1")
	time.Sleep(40 * time.Millisecond)

	got := []uint64{<-seqs, <-seqs, <-seqs}
	if got[0] != 1 || got[1] != 2 || got[2] != 1 {
		t.Errorf("sequences = %v, want [1 2 1]", got)
	}
}

func TestPersistFailureKeepsPendingForRetry(t *testing.T) {
	store := &fakeSectionStore{}
	store.setFail(errors.New("connection refused"))
	b := NewChangeBroadcaster(testTimings(), store)

	failures := make(chan error, 1)
	b.OnPersistError = func(documentID, sectionKey, userID string, err error) {
		failures <- err
	}

	b.OnLocalEdit("doc1", models.DocTypeLatex, "intro", "alice", "conn-a", "draft")

	select {
	case err := <-failures:
		if err == nil {
			t.Fatal("nil error on persist failure")
		}
	case <-time.After(time.Second):
		t.Fatal("persist failure never surfaced")
	}

	// The edit is not lost: it stays buffered for the next cycle.
	if !b.HasPending("doc1", "intro") {
		t.Fatal("pending change dropped on persist failure")
	}

	// Storage recovers; a synchronous flush drains the buffer.
	store.setFail(nil)
	if err := b.Flush(context.Background(), "doc1", "intro", "conn-a"); err != nil {
		t.Fatalf("flush after recovery failed: %v", err)
	}
	if store.lastWrite() != "draft" {
		t.Errorf("persisted %q, want draft", store.lastWrite())
	}
	if b.HasPending("doc1", "intro") {
		t.Error("pending change should be cleared after successful flush")
	}
}

func TestCancelSectionStopsAllTimers(t *testing.T) {
	store := &fakeSectionStore{}
	b := NewChangeBroadcaster(testTimings(), store)

	broadcasts := make(chan models.RemoteChange, 1)
	b.SendRemote = func(change models.RemoteChange) { broadcasts <- change }

	b.OnLocalEdit("doc1", models.DocTypeLatex, "intro", "alice", "conn-a", "draft")
	b.CancelSection("doc1", "intro", "conn-a")

	time.Sleep(150 * time.Millisecond)

	select {
	case change := <-broadcasts:
		t.Errorf("broadcast %+v fired after cancel", change)
	default:
	}
	if store.writeCount() != 0 {
		t.Errorf("persists = %d after cancel, want 0", store.writeCount())
	}
	// Cancel drops the timers but not the buffered edit.
	if !b.HasPending("doc1", "intro") {
		t.Error("cancel should not drop the buffered edit")
	}
}

func TestCancelAndFlushByOtherConnectionAreNoops(t *testing.T) {
	store := &fakeSectionStore{}
	b := NewChangeBroadcaster(testTimings(), store)

	broadcasts := make(chan models.RemoteChange, 1)
	b.SendRemote = func(change models.RemoteChange) { broadcasts <- change }

	b.OnLocalEdit("doc1", models.DocTypeLatex, "intro", "alice", "conn-a", "draft")

	// Another connection leaving the section owns no pending cycle here, so
	// neither call may touch alice's timers or buffer.
	b.CancelSection("doc1", "intro", "conn-b")
	if err := b.Flush(context.Background(), "doc1", "intro", "conn-b"); err != nil {
		t.Fatalf("flush by non-owner failed: %v", err)
	}
	if store.writeCount() != 0 {
		t.Fatalf("persists = %d right after non-owner flush, want 0", store.writeCount())
	}

	select {
	case change := <-broadcasts:
		if change.Content != "draft" {
			t.Errorf("broadcast content = %q, want draft", change.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("owner's broadcast never fired after non-owner cancel")
	}

	deadline := time.Now().Add(time.Second)
	for store.writeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.writeCount() != 1 || store.lastWrite() != "draft" {
		t.Errorf("persists = %d (last %q), want the owner's persist to run on schedule",
			store.writeCount(), store.lastWrite())
	}
}

func TestFlushWithNothingPendingIsNoop(t *testing.T) {
	store := &fakeSectionStore{}
	b := NewChangeBroadcaster(testTimings(), store)

	if err := b.Flush(context.Background(), "doc1", "intro", "conn-a"); err != nil {
		t.Fatalf("flush of clean section failed: %v", err)
	}
	if store.writeCount() != 0 {
		t.Errorf("persists = %d, want 0", store.writeCount())
	}
}

func TestPersistSuccessNotifiesOrigin(t *testing.T) {
	store := &fakeSectionStore{}
	b := NewChangeBroadcaster(testTimings(), store)

	saved := make(chan string, 1)
	b.OnPersisted = func(documentID, sectionKey, userID string) { saved <- userID }

	b.OnLocalEdit("doc1", models.DocTypeLatex, "intro", "alice", "conn-a", "draft")

	select {
	case userID := <-saved:
		if userID != "alice" {
			t.Errorf("persisted callback user = %q, want alice", userID)
		}
	case <-time.After(time.Second):
		t.Fatal("persist success never surfaced")
	}
}
