package collaboration

import (
	"testing"
	"time"
)

func newTestPresence(timeout time.Duration) (*PresenceRegistry, *time.Time) {
	p := NewPresenceRegistry(timeout)
	current := time.Now()
	p.now = func() time.Time { return current }
	return p, &current
}

func TestJoinAndSnapshot(t *testing.T) {
	p, _ := newTestPresence(5 * time.Minute)

	p.Join("doc1", "alice", "Alice", "conn-a")
	p.Join("doc1", "bob", "Bob", "conn-b")
	p.UpdateSection("doc1", "alice", "intro")

	entries := p.Snapshot("doc1")
	if len(entries) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(entries))
	}

	bySection := make(map[string]string)
	for _, e := range entries {
		bySection[e.UserID] = e.SectionKey
	}
	if bySection["alice"] != "intro" {
		t.Errorf("alice section = %q, want intro", bySection["alice"])
	}
	if bySection["bob"] != "" {
		t.Errorf("bob section = %q, want empty", bySection["bob"])
	}

	// Unknown documents are empty, not errors.
	if got := p.Snapshot("nope"); len(got) != 0 {
		t.Errorf("unknown document snapshot size = %d, want 0", len(got))
	}
}

func TestSnapshotExcludesStaleSessions(t *testing.T) {
	p, current := newTestPresence(5 * time.Minute)

	p.Join("doc1", "alice", "Alice", "conn-a")
	p.Join("doc1", "bob", "Bob", "conn-b")

	// Alice keeps heartbeating, bob goes quiet.
	*current = current.Add(3 * time.Minute)
	p.Heartbeat("doc1", "alice")
	*current = current.Add(3 * time.Minute)

	entries := p.Snapshot("doc1")
	if len(entries) != 1 || entries[0].UserID != "alice" {
		t.Fatalf("snapshot = %+v, want only alice", entries)
	}
	if p.IsActive("doc1", "bob") {
		t.Error("bob should be stale")
	}
	if !p.IsActive("doc1", "alice") {
		t.Error("alice should be active")
	}
}

func TestLeaveGuardedByConnectionID(t *testing.T) {
	p, _ := newTestPresence(5 * time.Minute)

	p.Join("doc1", "alice", "Alice", "conn-old")
	p.Join("doc1", "alice", "Alice", "conn-new") // reconnect supersedes

	// The old connection's teardown must not kill the new session.
	p.Leave("doc1", "alice", "conn-old")
	if !p.IsActive("doc1", "alice") {
		t.Fatal("old connection tore down a newer session")
	}

	p.Leave("doc1", "alice", "conn-new")
	if p.IsActive("doc1", "alice") {
		t.Fatal("alice still active after her connection left")
	}
	if got := p.Snapshot("doc1"); len(got) != 0 {
		t.Errorf("snapshot size = %d, want 0 after leave", len(got))
	}
}

func TestHeartbeatUnknownUserIsNoop(t *testing.T) {
	p, _ := newTestPresence(5 * time.Minute)

	// None of these should panic or create entries.
	p.Heartbeat("doc1", "ghost")
	p.UpdateSection("doc1", "ghost", "intro")
	p.Leave("doc1", "ghost", "conn-x")

	if got := p.Snapshot("doc1"); len(got) != 0 {
		t.Errorf("snapshot size = %d, want 0", len(got))
	}
}

func TestSweepRemovesStaleAndInactive(t *testing.T) {
	p, current := newTestPresence(5 * time.Minute)

	p.Join("doc1", "alice", "Alice", "conn-a")
	p.Join("doc1", "bob", "Bob", "conn-b")
	p.Leave("doc1", "bob", "conn-b")
	*current = current.Add(10 * time.Minute)

	p.Sweep()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.docs) != 0 {
		t.Errorf("docs map size = %d after sweep, want 0", len(p.docs))
	}
}
