package api

import (
	"net/http"

	"coauthor/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order: tracing first, then recovery, then CORS.
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Document endpoints
	api.HandleFunc("/documents", h.CreateDocument).Methods("POST")
	api.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	api.HandleFunc("/documents/{id}", h.GetDocument).Methods("GET")
	api.HandleFunc("/documents/{id}", h.DeleteDocument).Methods("DELETE")

	// Section endpoints
	api.HandleFunc("/documents/{id}/sections", h.ListSections).Methods("GET")
	api.HandleFunc("/documents/{id}/sections/{key}", h.GetSection).Methods("GET")
	api.HandleFunc("/documents/{id}/sections/{key}", h.UpdateSection).Methods("PUT")

	// Presence endpoint
	api.HandleFunc("/documents/{id}/presence", h.GetPresence).Methods("GET")

	// Compile endpoints
	api.HandleFunc("/documents/{id}/compile", h.CompileDocument).Methods("POST")
	api.HandleFunc("/compile/{jobId}", h.GetCompileStatus).Methods("GET")

	// Version control endpoints
	api.HandleFunc("/documents/{id}/commits", h.CommitDocument).Methods("POST")
	api.HandleFunc("/documents/{id}/commits", h.GetHistory).Methods("GET")
	api.HandleFunc("/documents/{id}/commits/{hash}", h.GetCommit).Methods("GET")
	api.HandleFunc("/documents/{id}/diff", h.GetDiff).Methods("GET")

	// Health check endpoint
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// WebSocket routes
	r.HandleFunc("/ws/document/{id}", h.HandleDocumentWebSocket)

	return r
}
