package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"coauthor/internal/models"

	"github.com/google/uuid"
)

type previewKey struct {
	documentID string
	docType    models.DocType
}

type previewEntry struct {
	timer      *time.Timer
	sectionKey string
	content    string
	currentJob string // latest preview job ID for this key
}

type queuedCompile struct {
	jobID string
	req   models.CompileRequest
}

// CompileSchedulerImpl debounces preview compiles, tracks explicit full
// compiles, and runs both on a fixed worker pool so bursts of edits across
// documents cannot exhaust the host. At most one non-terminal preview job
// exists per (document, doc type); a newer preview supersedes the older one
// and a superseded job's late engine result is discarded by job-id check.
// Full compiles are tracked independently and are never auto-superseded.
type CompileSchedulerImpl struct {
	engine CompileEngine

	jobs    chan queuedCompile
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	byID     map[string]*models.CompileJob
	previews map[previewKey]*previewEntry

	previewDelay time.Duration

	// Notify pushes job status transitions to interested listeners (the
	// websocket hub, in production wiring).
	Notify func(job models.CompileJob)
}

// NewCompileScheduler creates the scheduler and its worker pool. Start() must
// be called before jobs run.
func NewCompileScheduler(engine CompileEngine, workers, queueSize int, previewDelay time.Duration) *CompileSchedulerImpl {
	ctx, cancel := context.WithCancel(context.Background())

	return &CompileSchedulerImpl{
		engine:       engine,
		jobs:         make(chan queuedCompile, queueSize),
		workers:      workers,
		ctx:          ctx,
		cancel:       cancel,
		byID:         make(map[string]*models.CompileJob),
		previews:     make(map[previewKey]*previewEntry),
		previewDelay: previewDelay,
	}
}

// Start spawns the worker goroutines.
func (s *CompileSchedulerImpl) Start() {
	log.Printf("🔧 Starting compile worker pool with %d workers", s.workers)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *CompileSchedulerImpl) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case queued, ok := <-s.jobs:
			if !ok {
				return
			}
			s.run(queued)
		}
	}
}

// SchedulePreview debounces a preview compile for (document, doc type). Each
// call replaces the pending trigger and refreshes the content to build, so a
// burst of edits produces a single preview of the latest content.
func (s *CompileSchedulerImpl) SchedulePreview(documentID string, docType models.DocType, sectionKey, content string) {
	key := previewKey{documentID, docType}

	s.mu.Lock()
	entry, ok := s.previews[key]
	if !ok {
		entry = &previewEntry{}
		s.previews[key] = entry
	}
	entry.sectionKey = sectionKey
	entry.content = content
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(s.previewDelay, func() {
		s.enqueuePreview(key)
	})
	s.mu.Unlock()
}

func (s *CompileSchedulerImpl) enqueuePreview(key previewKey) {
	s.mu.Lock()
	entry, ok := s.previews[key]
	if !ok {
		s.mu.Unlock()
		return
	}

	// A new preview supersedes any not-yet-started or in-flight one.
	s.supersedeLocked(entry.currentJob)

	job := &models.CompileJob{
		ID:         uuid.NewString(),
		DocumentID: key.documentID,
		DocType:    key.docType,
		Kind:       models.CompilePreview,
		SectionKey: entry.sectionKey,
		Status:     models.CompileQueued,
		CreatedAt:  time.Now(),
	}
	s.byID[job.ID] = job
	entry.currentJob = job.ID

	req := models.CompileRequest{
		JobID:      job.ID,
		DocumentID: key.documentID,
		DocType:    key.docType,
		Scope:      "preview:" + entry.sectionKey,
		Content:    entry.content,
	}
	s.mu.Unlock()

	s.enqueue(queuedCompile{jobID: job.ID, req: req})
}

// CompileFull submits an explicit full build. Never debounced, never
// superseded by previews; tracked under its own job identity.
func (s *CompileSchedulerImpl) CompileFull(ctx context.Context, documentID string, docType models.DocType) (models.CompileJob, error) {
	job := &models.CompileJob{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		DocType:    docType,
		Kind:       models.CompileFull,
		Status:     models.CompileQueued,
		CreatedAt:  time.Now(),
	}

	s.mu.Lock()
	s.byID[job.ID] = job
	s.mu.Unlock()

	req := models.CompileRequest{
		JobID:      job.ID,
		DocumentID: documentID,
		DocType:    docType,
		Scope:      "full",
	}

	select {
	case s.jobs <- queuedCompile{jobID: job.ID, req: req}:
	case <-ctx.Done():
		return models.CompileJob{}, ctx.Err()
	case <-s.ctx.Done():
		return models.CompileJob{}, fmt.Errorf("compile scheduler is shutting down")
	}

	return *job, nil
}

// GetStatus returns a copy of the job's current state.
func (s *CompileSchedulerImpl) GetStatus(jobID string) (models.CompileJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byID[jobID]
	if !ok {
		return models.CompileJob{}, false
	}
	return *job, true
}

// CancelPreview drops the pending preview trigger and supersedes the current
// preview job for (document, doc type), if any.
func (s *CompileSchedulerImpl) CancelPreview(documentID string, docType models.DocType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.previews[previewKey{documentID, docType}]
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	s.supersedeLocked(entry.currentJob)
	entry.currentJob = ""
}

func (s *CompileSchedulerImpl) enqueue(queued queuedCompile) {
	select {
	case s.jobs <- queued:
	case <-s.ctx.Done():
	default:
		// Queue full: fail the job rather than block the debounce timer.
		s.mu.Lock()
		if job, ok := s.byID[queued.jobID]; ok && !job.Status.Terminal() {
			job.Status = models.CompileFailed
			job.Log = "compile queue full"
			job.FinishedAt = time.Now()
		}
		s.mu.Unlock()
		log.Printf("⚠️  Compile queue full, dropping job %s", queued.jobID)
	}
}

func (s *CompileSchedulerImpl) run(queued queuedCompile) {
	s.mu.Lock()
	job, ok := s.byID[queued.jobID]
	if !ok || job.Status != models.CompileQueued {
		// Superseded while waiting in the queue.
		s.mu.Unlock()
		return
	}
	job.Status = models.CompileRunning
	job.StartedAt = time.Now()
	snapshot := *job
	s.mu.Unlock()

	s.notify(snapshot)

	result, err := s.engine.Compile(s.ctx, queued.req)

	s.mu.Lock()
	job, ok = s.byID[queued.jobID]
	if !ok || job.Status != models.CompileRunning {
		// Superseded mid-flight: the late result is discarded. This is
		// discard-late-result, not true cancellation - the engine call was
		// never forcibly aborted.
		s.mu.Unlock()
		return
	}
	if err != nil {
		job.Status = models.CompileFailed
		job.Log = err.Error()
	} else {
		job.Status = result.Status
		job.ArtifactPath = result.ArtifactPath
		job.Log = result.Log
	}
	job.FinishedAt = time.Now()
	snapshot = *job
	s.mu.Unlock()

	s.notify(snapshot)
}

// supersedeLocked marks a job superseded if it is still non-terminal.
// Caller holds s.mu.
func (s *CompileSchedulerImpl) supersedeLocked(jobID string) {
	if jobID == "" {
		return
	}
	job, ok := s.byID[jobID]
	if !ok || job.Status.Terminal() {
		return
	}
	job.Status = models.CompileSuperseded
	job.FinishedAt = time.Now()
}

func (s *CompileSchedulerImpl) notify(job models.CompileJob) {
	if s.Notify != nil {
		s.Notify(job)
	}
}

// Shutdown stops accepting work and waits for workers to finish their
// current jobs.
func (s *CompileSchedulerImpl) Shutdown() {
	log.Println("🛑 Shutting down compile scheduler...")

	s.mu.Lock()
	for _, entry := range s.previews {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	log.Println("✓ Compile scheduler shutdown complete")
}
