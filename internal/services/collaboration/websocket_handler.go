package collaboration

import (
	"context"
	"log"
	"net/http"

	"coauthor/internal/middleware"
	"coauthor/internal/models"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate origin against an allowlist once deployments leave
		// localhost
		return true
	},
}

// DocumentFetcher is the slice of the document repository the handler needs
// to reject connections to unknown documents and learn the doc type.
type DocumentFetcher interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
}

// WebSocketHandler upgrades document connections and assembles the
// per-connection coordinator.
type WebSocketHandler struct {
	sessionManager *SessionManager
	documents      DocumentFetcher

	presence    *PresenceRegistry
	locks       *SectionLockManager
	broadcaster *ChangeBroadcaster
	compiles    FullCompiler
}

func NewWebSocketHandler(
	sessionManager *SessionManager,
	documents DocumentFetcher,
	presence *PresenceRegistry,
	locks *SectionLockManager,
	broadcaster *ChangeBroadcaster,
	compiles FullCompiler,
) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
		documents:      documents,
		presence:       presence,
		locks:          locks,
		broadcaster:    broadcaster,
		compiles:       compiles,
	}
}

// HandleDocumentConnection handles a WebSocket connection for one document.
func (h *WebSocketHandler) HandleDocumentConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	documentID := vars["id"]

	// User identity comes from query params; proper auth sits in front of
	// this service.
	userID := r.URL.Query().Get("user_id")
	userName := r.URL.Query().Get("user_name")
	if userID == "" {
		userID = "anonymous"
	}
	if userName == "" {
		userName = "Anonymous"
	}

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("document.id", documentID),
		attribute.String("user.id", userID),
	)
	defer span.End()

	doc, err := h.documents.GetByID(ctx, documentID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		http.Error(w, "Document not found", http.StatusNotFound)
		return
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	connID := models.NewConnectionID()
	coord := NewSyncCoordinator(
		documentID, doc.DocType,
		userID, userName, connID,
		h.presence, h.locks, h.broadcaster, h.compiles,
	)

	conn := &Conn{
		ID:         connID,
		DocumentID: documentID,
		UserID:     userID,
		UserName:   userName,
		Sock:       sock,
		Send:       make(chan []byte, 256),
		Manager:    h.sessionManager,
		Coord:      coord,
	}

	coord.Connect()
	h.sessionManager.register <- conn

	// Separate pumps so a slow write never blocks reads.
	go conn.WritePump(ctx)
	go conn.ReadPump(ctx)

	log.Printf("✓ WebSocket connection established for document %s (user: %s, conn: %s)",
		documentID, userName, connID)
}
