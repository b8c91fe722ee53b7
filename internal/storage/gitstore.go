package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"coauthor/internal/models"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitStore keeps one git repository per document and snapshots all section
// contents into it on every commit. It is the version-control side of the
// storage collaborator; live content lives in the section rows.
type GitStore struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewGitStore(baseDir string) *GitStore {
	return &GitStore{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureRepo initializes the document's repository if it does not exist yet.
func (s *GitStore) EnsureRepo(documentID string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	if _, err := git.PlainInit(path, false); err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	return nil
}

// Commit writes every section as a file named <key>.tex and records one
// commit. Sections absent from the map are removed from the worktree, so the
// snapshot always mirrors the document exactly.
func (s *GitStore) Commit(documentID string, sections map[string]string, author, message string) (models.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return models.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return models.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	root := worktree.Filesystem.Root()
	if err := s.syncWorktree(root, sections); err != nil {
		return models.CommitInfo{}, err
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return models.CommitInfo{}, fmt.Errorf("git add sections: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@coauthor.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return models.CommitInfo{}, fmt.Errorf("commit sections: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return models.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}

	return toCommitInfo(commitObj), nil
}

// History returns up to limit commits, newest first.
func (s *GitStore) History(documentID string, limit int) ([]models.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return []models.CommitInfo{}, nil // no commits yet
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]models.CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Checkout returns sectionKey -> content as of the given commit.
func (s *GitStore) Checkout(documentID, hash string) (map[string]string, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	return sectionsAtCommit(repo, hash)
}

// Diff lists the sections whose content differs between two commits.
func (s *GitStore) Diff(documentID, fromHash, toHash string) ([]models.SectionDelta, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	from, err := sectionsAtCommit(repo, fromHash)
	if err != nil {
		return nil, err
	}
	to, err := sectionsAtCommit(repo, toHash)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]bool, len(from)+len(to))
	for key := range from {
		keys[key] = true
	}
	for key := range to {
		keys[key] = true
	}

	deltas := make([]models.SectionDelta, 0)
	for key := range keys {
		if from[key] == to[key] {
			continue
		}
		deltas = append(deltas, models.SectionDelta{
			SectionKey: key,
			Before:     from[key],
			After:      to[key],
		})
	}
	sort.Slice(deltas, func(i, j int) bool {
		return deltas[i].SectionKey < deltas[j].SectionKey
	})
	return deltas, nil
}

func (s *GitStore) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *GitStore) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

// syncWorktree makes the worktree contain exactly the given sections.
func (s *GitStore) syncWorktree(root string, sections map[string]string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read worktree: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tex") {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".tex")
		if _, ok := sections[key]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(root, entry.Name())); err != nil {
			return fmt.Errorf("remove stale section file: %w", err)
		}
	}

	for key, content := range sections {
		path := filepath.Join(root, sectionFileName(key))
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write section %q: %w", key, err)
		}
	}
	return nil
}

func sectionFileName(key string) string {
	return key + ".tex"
}

func sectionsAtCommit(repo *git.Repository, hash string) (map[string]string, error) {
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}

	sections := make(map[string]string)
	files, err := commitObj.Files()
	if err != nil {
		return nil, fmt.Errorf("list commit files: %w", err)
	}
	err = files.ForEach(func(file *object.File) error {
		if !strings.HasSuffix(file.Name, ".tex") {
			return nil
		}
		contents, err := file.Contents()
		if err != nil {
			return fmt.Errorf("read section file %s: %w", file.Name, err)
		}
		sections[strings.TrimSuffix(file.Name, ".tex")] = contents
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sections, nil
}

func toCommitInfo(commitObj *object.Commit) models.CommitInfo {
	return models.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
