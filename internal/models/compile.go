package models

import "time"

type CompileStatus string

const (
	CompileQueued     CompileStatus = "queued"
	CompileRunning    CompileStatus = "running"
	CompileCompleted  CompileStatus = "completed"
	CompileFailed     CompileStatus = "failed"
	CompileSuperseded CompileStatus = "superseded"
)

// Terminal reports whether the status can no longer change.
func (s CompileStatus) Terminal() bool {
	return s == CompileCompleted || s == CompileFailed || s == CompileSuperseded
}

type CompileKind string

const (
	CompilePreview CompileKind = "preview"
	CompileFull    CompileKind = "full"
)

// CompileJob tracks one compilation request. Preview jobs are superseded by
// newer previews for the same (document, doc type); full jobs never are.
type CompileJob struct {
	ID           string        `json:"id"`
	DocumentID   string        `json:"document_id"`
	DocType      DocType       `json:"doc_type"`
	Kind         CompileKind   `json:"kind"`
	SectionKey   string        `json:"section_key,omitempty"` // preview scope
	Status       CompileStatus `json:"status"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	Log          string        `json:"log,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	FinishedAt   time.Time     `json:"finished_at,omitempty"`
}

// CompileRequest is what the scheduler hands to the external compile engine.
type CompileRequest struct {
	JobID      string  `json:"job_id"`
	DocumentID string  `json:"document_id"`
	DocType    DocType `json:"doc_type"`
	Scope      string  `json:"scope"`   // "full" or "preview:<sectionKey>"
	Content    string  `json:"content"` // preview source, empty for full builds
}

// CompileResult is the engine's verdict. Failures are reported verbatim and
// never retried here; they are typically source errors.
type CompileResult struct {
	Status       CompileStatus `json:"status"`
	ArtifactPath string        `json:"artifact_path"`
	Log          string        `json:"log"`
}
