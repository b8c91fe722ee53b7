package api

import (
	"context"

	"coauthor/internal/models"
)

// Service interfaces live with their consumer: handlers declare only the
// methods they call, so implementations can evolve (and tests can stub)
// without touching this package's dependencies.

// CompileService is what handlers need from the compile scheduler.
type CompileService interface {
	CompileFull(ctx context.Context, documentID string, docType models.DocType) (models.CompileJob, error)
	GetStatus(jobID string) (models.CompileJob, bool)
}

// PresenceReader exposes the live presence snapshot for a document.
type PresenceReader interface {
	Snapshot(documentID string) []models.PresenceEntry
}

// VersionStore is the per-document version control surface.
type VersionStore interface {
	EnsureRepo(documentID string) error
	Commit(documentID string, sections map[string]string, author, message string) (models.CommitInfo, error)
	History(documentID string, limit int) ([]models.CommitInfo, error)
	Checkout(documentID, hash string) (map[string]string, error)
	Diff(documentID, fromHash, toHash string) ([]models.SectionDelta, error)
}
