package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"coauthor/internal/models"
	"coauthor/internal/repository"
	"coauthor/internal/services/collaboration"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests.
type Handler struct {
	docRepo     *repository.DocumentRepositoryImpl // Concrete type for now
	sectionRepo *repository.SectionRepositoryImpl  // Concrete type for now
	compiles    CompileService                     // Interface defined in this package
	presence    PresenceReader
	versions    VersionStore
	wsHandler   *collaboration.WebSocketHandler // WebSocket for real-time collab
}

func NewHandler(
	docRepo *repository.DocumentRepositoryImpl,
	sectionRepo *repository.SectionRepositoryImpl,
	compiles CompileService,
	presence PresenceReader,
	versions VersionStore,
	wsHandler *collaboration.WebSocketHandler,
) *Handler {
	return &Handler{
		docRepo:     docRepo,
		sectionRepo: sectionRepo,
		compiles:    compiles,
		presence:    presence,
		versions:    versions,
		wsHandler:   wsHandler,
	}
}

// Document handlers

func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req models.DocumentCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.DocType == "" {
		req.DocType = models.DocTypeLatex
	}

	created, err := h.docRepo.Create(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The version repo is created eagerly so the first commit never has to
	// bootstrap it.
	if err := h.versions.EnsureRepo(created.ID); err != nil {
		http.Error(w, "Document created but version store init failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	limit := 50 // default
	offset := 0

	if limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil {
			limit = parsedLimit
		}
	}
	if offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil {
			offset = parsedOffset
		}
	}

	documents, err := h.docRepo.List(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"documents": documents,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	doc, err := h.docRepo.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if err := h.docRepo.Delete(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Section handlers

func (h *Handler) ListSections(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	sections, err := h.sectionRepo.ListByDocument(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document_id": id,
		"sections":    sections,
	})
}

func (h *Handler) GetSection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	key := vars["key"]

	content, err := h.sectionRepo.ReadSection(r.Context(), id, key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document_id": id,
		"section_key": key,
		"content":     content,
	})
}

// UpdateSection writes section content outside a live editing session, e.g.
// from scripts or an import. Live edits go through the WebSocket instead so
// they pick up locks and debouncing.
func (h *Handler) UpdateSection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	key := vars["key"]

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.sectionRepo.WriteSection(r.Context(), id, key, req.Content); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document_id": id,
		"section_key": key,
		"saved":       true,
	})
}

// Presence handlers

func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	entries := h.presence.Snapshot(id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document_id": id,
		"presence":    entries,
		"count":       len(entries),
	})
}

// Compile handlers

func (h *Handler) CompileDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	doc, err := h.docRepo.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	job, err := h.compiles.CompileFull(r.Context(), doc.ID, doc.DocType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func (h *Handler) GetCompileStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["jobId"]

	job, ok := h.compiles.GetStatus(jobID)
	if !ok {
		http.Error(w, "Compile job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// Version control handlers

func (h *Handler) CommitDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var req struct {
		Author  string `json:"author"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Author == "" {
		req.Author = "anonymous"
	}
	if req.Message == "" {
		req.Message = "Snapshot"
	}

	sections, err := h.sectionRepo.ContentsByDocument(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	commit, err := h.versions.Commit(id, sections, req.Author, req.Message)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(commit)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	commits, err := h.versions.History(id, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document_id": id,
		"commits":     commits,
	})
}

func (h *Handler) GetCommit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	hash := vars["hash"]

	sections, err := h.versions.Checkout(id, hash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document_id": id,
		"hash":        hash,
		"sections":    sections,
	})
}

func (h *Handler) GetDiff(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		http.Error(w, "from and to query parameters are required", http.StatusBadRequest)
		return
	}

	deltas, err := h.versions.Diff(id, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document_id": id,
		"from":        from,
		"to":          to,
		"changes":     deltas,
	})
}

// WebSocket

func (h *Handler) HandleDocumentWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleDocumentConnection(w, r)
}
