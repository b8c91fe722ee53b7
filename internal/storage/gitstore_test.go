package storage

import (
	"sync"
	"testing"
)

func newTestStore(t *testing.T, documentID string) *GitStore {
	t.Helper()
	store := NewGitStore(t.TempDir())
	if err := store.EnsureRepo(documentID); err != nil {
		t.Fatalf("EnsureRepo failed: %v", err)
	}
	return store
}

func TestEnsureRepoIsIdempotent(t *testing.T) {
	store := newTestStore(t, "doc1")
	if err := store.EnsureRepo("doc1"); err != nil {
		t.Fatalf("second EnsureRepo failed: %v", err)
	}
}

func TestCommitAndHistory(t *testing.T) {
	store := newTestStore(t, "doc1")

	first, err := store.Commit("doc1", map[string]string{
		"intro":   "\\section{Introduction}",
		"methods": "\\section{Methods}",
	}, "Alice Smith", "initial draft")
	if err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if first.Hash == "" || first.Author != "Alice Smith" {
		t.Errorf("commit info = %+v, want hash and author set", first)
	}

	second, err := store.Commit("doc1", map[string]string{
		"intro":   "\\section{Introduction}\nNew opening paragraph.",
		"methods": "\\section{Methods}",
	}, "Bob", "rework intro")
	if err != nil {
		t.Fatalf("second commit failed: %v", err)
	}

	commits, err := store.History("doc1", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("history length = %d, want 2", len(commits))
	}
	// Newest first.
	if commits[0].Hash != second.Hash || commits[1].Hash != first.Hash {
		t.Errorf("history order = [%s %s], want newest first", commits[0].Hash, commits[1].Hash)
	}

	limited, err := store.History("doc1", 1)
	if err != nil {
		t.Fatalf("limited History failed: %v", err)
	}
	if len(limited) != 1 || limited[0].Hash != second.Hash {
		t.Errorf("limited history = %+v, want only the newest commit", limited)
	}
}

func TestHistoryOfEmptyRepo(t *testing.T) {
	store := newTestStore(t, "doc1")

	commits, err := store.History("doc1", 10)
	if err != nil {
		t.Fatalf("History on empty repo failed: %v", err)
	}
	if len(commits) != 0 {
		t.Errorf("history length = %d, want 0", len(commits))
	}
}

func TestCheckoutReturnsSnapshotContents(t *testing.T) {
	store := newTestStore(t, "doc1")

	v1 := map[string]string{"intro": "old intro", "results": "tables"}
	first, err := store.Commit("doc1", v1, "alice", "v1")
	if err != nil {
		t.Fatal(err)
	}

	// Second snapshot modifies one section and drops another.
	if _, err := store.Commit("doc1", map[string]string{"intro": "new intro"}, "alice", "v2"); err != nil {
		t.Fatal(err)
	}

	sections, err := store.Checkout("doc1", first.Hash)
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if len(sections) != 2 || sections["intro"] != "old intro" || sections["results"] != "tables" {
		t.Errorf("checkout = %v, want the first snapshot intact", sections)
	}
}

func TestDiffReportsChangedAddedAndRemovedSections(t *testing.T) {
	store := newTestStore(t, "doc1")

	first, err := store.Commit("doc1", map[string]string{
		"intro":   "before",
		"methods": "unchanged",
		"results": "doomed",
	}, "alice", "v1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Commit("doc1", map[string]string{
		"intro":      "after",
		"methods":    "unchanged",
		"conclusion": "brand new",
	}, "alice", "v2")
	if err != nil {
		t.Fatal(err)
	}

	deltas, err := store.Diff("doc1", first.Hash, second.Hash)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}

	want := []struct {
		key, before, after string
	}{
		{"conclusion", "", "brand new"},
		{"intro", "before", "after"},
		{"results", "doomed", ""},
	}
	if len(deltas) != len(want) {
		t.Fatalf("delta count = %d, want %d: %+v", len(deltas), len(want), deltas)
	}
	for i, w := range want {
		if deltas[i].SectionKey != w.key || deltas[i].Before != w.before || deltas[i].After != w.after {
			t.Errorf("delta[%d] = %+v, want %+v", i, deltas[i], w)
		}
	}
}

func TestConcurrentCommitsToSeparateDocuments(t *testing.T) {
	store := NewGitStore(t.TempDir())

	docs := []string{"doc1", "doc2", "doc3", "doc4"}
	for _, doc := range docs {
		if err := store.EnsureRepo(doc); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(docs))
	for _, doc := range docs {
		wg.Add(1)
		go func(doc string) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				if _, err := store.Commit(doc, map[string]string{"intro": doc}, "alice", "tick"); err != nil {
					errs <- err
					return
				}
			}
		}(doc)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent commit failed: %v", err)
	}
	for _, doc := range docs {
		commits, err := store.History(doc, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(commits) != 3 {
			t.Errorf("%s history length = %d, want 3", doc, len(commits))
		}
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Alice Smith", "Alice.Smith"},
		{"bob", "bob"},
		{"--- ###", "...."},
		{"###", "user"},
	}
	for _, tc := range cases {
		if got := sanitizeEmail(tc.in); got != tc.want {
			t.Errorf("sanitizeEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
