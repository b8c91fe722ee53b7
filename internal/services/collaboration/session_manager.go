package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"coauthor/internal/middleware"
	"coauthor/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// SessionManager is the transport hub: it keeps one connection pool per
// document, fans messages out to rooms, and evicts dead connections. It is
// the "send to this connection" / "send to all connections on this document"
// primitive everything else builds on.
type SessionManager struct {
	documents  map[string]map[*Conn]bool // documentID -> set of connections
	register   chan *Conn
	unregister chan *Conn
	broadcast  chan *BroadcastMessage
	mu         sync.RWMutex

	presence *PresenceRegistry
	timings  Timings

	done chan struct{}
}

// Conn represents one active WebSocket connection.
type Conn struct {
	ID         string // time-ordered connection ID
	DocumentID string
	UserID     string
	UserName   string

	Sock    *websocket.Conn
	Send    chan []byte // Buffered channel for outbound messages
	Manager *SessionManager
	Coord   *SyncCoordinator

	lastActive atomic.Int64 // unix nanos, touched by the read pump

	sendMu sync.Mutex // guards Send against send-after-close
	closed bool
}

// BroadcastMessage is a frame addressed to a document room.
type BroadcastMessage struct {
	DocumentID string
	Message    []byte
	SenderID   string // connection to skip, if any
}

func NewSessionManager(presence *PresenceRegistry, timings Timings) *SessionManager {
	return &SessionManager{
		documents:  make(map[string]map[*Conn]bool),
		register:   make(chan *Conn, 16),
		unregister: make(chan *Conn, 16),
		broadcast:  make(chan *BroadcastMessage, 256),
		presence:   presence,
		timings:    timings,
		done:       make(chan struct{}),
	}
}

// WireBroadcaster points the change broadcaster's fan-out and persistence
// callbacks at this hub.
func (sm *SessionManager) WireBroadcaster(b *ChangeBroadcaster) {
	b.SendRemote = sm.DeliverChange
	b.OnPersisted = func(documentID, sectionKey, userID string) {
		sm.resolvePersist(documentID, userID, true)
	}
	b.OnPersistError = func(documentID, sectionKey, userID string, err error) {
		sm.resolvePersist(documentID, userID, false)
		sm.NotifyUser(documentID, userID, models.ServerMessage{
			Type:       models.MessageTypeSaveError,
			SectionKey: sectionKey,
			Error:      err.Error(),
		})
	}
}

// Start begins the hub event loop and the stale-connection sweep.
func (sm *SessionManager) Start() {
	log.Println("🔄 Starting WebSocket session manager...")

	go func() {
		for {
			select {
			case <-sm.done:
				return

			case conn := <-sm.register:
				sm.handleRegister(conn)

			case conn := <-sm.unregister:
				sm.handleUnregister(conn)

			case msg := <-sm.broadcast:
				sm.handleBroadcast(msg)
			}
		}
	}()

	go sm.cleanupLoop()
}

func (sm *SessionManager) handleRegister(conn *Conn) {
	sm.mu.Lock()
	if sm.documents[conn.DocumentID] == nil {
		sm.documents[conn.DocumentID] = make(map[*Conn]bool)
	}
	sm.documents[conn.DocumentID][conn] = true
	total := len(sm.documents[conn.DocumentID])
	sm.mu.Unlock()

	log.Printf("  Connection %s joined document %s (total: %d users)", conn.ID, conn.DocumentID, total)

	sm.BroadcastMessage(conn.DocumentID, models.ServerMessage{
		Type:     models.MessageTypeJoin,
		UserID:   conn.UserID,
		UserName: conn.UserName,
	}, conn.ID)
	sm.pushPresence(conn.DocumentID)
}

func (sm *SessionManager) handleUnregister(conn *Conn) {
	sm.mu.Lock()
	sessions, ok := sm.documents[conn.DocumentID]
	if !ok || !sessions[conn] {
		sm.mu.Unlock()
		return
	}
	delete(sessions, conn)
	conn.closeSend()
	if len(sessions) == 0 {
		delete(sm.documents, conn.DocumentID)
	}
	remaining := len(sessions)
	sm.mu.Unlock()

	log.Printf("  Connection %s left document %s (remaining: %d users)", conn.ID, conn.DocumentID, remaining)

	sm.BroadcastMessage(conn.DocumentID, models.ServerMessage{
		Type:     models.MessageTypeLeave,
		UserID:   conn.UserID,
		UserName: conn.UserName,
	}, "")
	sm.pushPresence(conn.DocumentID)
}

func (sm *SessionManager) handleBroadcast(msg *BroadcastMessage) {
	sm.mu.RLock()
	conns := make([]*Conn, 0, len(sm.documents[msg.DocumentID]))
	for conn := range sm.documents[msg.DocumentID] {
		conns = append(conns, conn)
	}
	sm.mu.RUnlock()

	for _, conn := range conns {
		if msg.SenderID != "" && conn.ID == msg.SenderID {
			continue
		}
		conn.queue(msg.Message)
	}
}

// queue hands a frame to the connection's write pump without blocking. A full
// buffer means the connection is slow or dead, so it is evicted.
func (c *Conn) queue(message []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.Send <- message:
	default:
		log.Printf("⚠️  Connection %s buffer full, closing connection", c.ID)
		select {
		case c.Manager.unregister <- c:
		default:
		}
	}
}

func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// BroadcastMessage sends a server frame to every connection on a document,
// optionally skipping the sender.
func (sm *SessionManager) BroadcastMessage(documentID string, msg models.ServerMessage, senderConnID string) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("⚠️  Failed to marshal %s message: %v", msg.Type, err)
		return
	}
	sm.broadcast <- &BroadcastMessage{
		DocumentID: documentID,
		Message:    payload,
		SenderID:   senderConnID,
	}
}

// DeliverChange routes a remote change through every other connection's
// acceptance policy. Delivery is asynchronous fire-and-forget: a slow
// receiver is evicted, never waited on.
func (sm *SessionManager) DeliverChange(change models.RemoteChange) {
	sm.mu.RLock()
	conns := make([]*Conn, 0, len(sm.documents[change.DocumentID]))
	for conn := range sm.documents[change.DocumentID] {
		conns = append(conns, conn)
	}
	sm.mu.RUnlock()

	for _, conn := range conns {
		msg, ok := conn.Coord.HandleRemote(change)
		if !ok {
			continue
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		conn.queue(payload)
	}
}

// NotifyUser sends a frame to every connection a user has on a document.
func (sm *SessionManager) NotifyUser(documentID, userID string, msg models.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	sm.mu.RLock()
	conns := make([]*Conn, 0, 1)
	for conn := range sm.documents[documentID] {
		if conn.UserID == userID {
			conns = append(conns, conn)
		}
	}
	sm.mu.RUnlock()

	for _, conn := range conns {
		conn.queue(payload)
	}
}

// NotifyJob pushes a compile status transition to the job's document room.
func (sm *SessionManager) NotifyJob(job models.CompileJob) {
	sm.BroadcastMessage(job.DocumentID, models.ServerMessage{
		Type: models.MessageTypeCompileStatus,
		Job:  &job,
	}, "")
}

func (sm *SessionManager) resolvePersist(documentID, userID string, saved bool) {
	sm.mu.RLock()
	conns := make([]*Conn, 0, 1)
	for conn := range sm.documents[documentID] {
		if conn.UserID == userID {
			conns = append(conns, conn)
		}
	}
	sm.mu.RUnlock()

	for _, conn := range conns {
		conn.Coord.OnPersistResult(saved)
	}
}

func (sm *SessionManager) pushPresence(documentID string) {
	sm.BroadcastMessage(documentID, models.ServerMessage{
		Type:     models.MessageTypePresence,
		Presence: sm.presence.Snapshot(documentID),
	}, "")
}

// cleanupLoop periodically evicts idle connections and sweeps stale presence.
func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sm.done:
			return
		case <-ticker.C:
			sm.cleanup()
		}
	}
}

func (sm *SessionManager) cleanup() {
	now := time.Now()

	sm.mu.RLock()
	var stale []*Conn
	for _, conns := range sm.documents {
		for conn := range conns {
			if now.Sub(conn.LastActive()) > sm.timings.PresenceTimeout {
				stale = append(stale, conn)
			}
		}
	}
	sm.mu.RUnlock()

	for _, conn := range stale {
		log.Printf("  Cleaning up inactive connection %s", conn.ID)
		sm.unregister <- conn
	}

	sm.presence.Sweep()
}

// Shutdown gracefully closes all connections.
func (sm *SessionManager) Shutdown() {
	log.Println("🛑 Shutting down session manager...")

	close(sm.done)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, conns := range sm.documents {
		for conn := range conns {
			conn.closeSend()
			conn.Sock.Close()
		}
	}
	sm.documents = make(map[string]map[*Conn]bool)

	log.Println("✓ Session manager shutdown complete")
}

// Conn methods

func (c *Conn) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive is the last time the read pump saw traffic from this client.
func (c *Conn) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// ReadPump reads frames from the WebSocket connection and dispatches them to
// the coordinator. Each connection runs its own read goroutine.
func (c *Conn) ReadPump(ctx context.Context) {
	defer func() {
		// Teardown (flush, lock release, presence) runs on this goroutine so
		// a slow storage write never stalls the hub event loop.
		c.Coord.Disconnect(context.Background())
		select {
		case c.Manager.unregister <- c:
		case <-c.Manager.done:
		}
		c.Sock.Close()
	}()

	c.touch()
	c.Sock.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Sock.SetPongHandler(func(string) error {
		c.Sock.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.touch()
		c.Coord.Heartbeat()
		return nil
	})

	for {
		_, message, err := c.Sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		c.touch()

		msgCtx, span := middleware.StartSpan(ctx, "WebSocket.ProcessMessage",
			attribute.String("connection.id", c.ID),
			attribute.String("document.id", c.DocumentID),
			attribute.Int("message.size", len(message)),
		)
		c.dispatch(msgCtx, message)
		span.End()
	}
}

func (c *Conn) dispatch(ctx context.Context, message []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(models.ServerMessage{Type: models.MessageTypeError, Error: "malformed message"})
		return
	}

	switch msg.Type {
	case models.MessageTypeEdit:
		if err := c.Coord.HandleEdit(msg.SectionKey, msg.Content); err != nil {
			var locked *ErrSectionLocked
			if errors.As(err, &locked) {
				c.reply(models.ServerMessage{
					Type:       models.MessageTypeLockDenied,
					SectionKey: msg.SectionKey,
					HolderID:   locked.HolderID,
					ReadOnly:   true,
				})
				return
			}
			c.reply(models.ServerMessage{Type: models.MessageTypeError, Error: err.Error()})
		}

	case models.MessageTypeSwitchSection:
		readOnly, err := c.Coord.SwitchSection(ctx, msg.SectionKey)
		if err != nil {
			middleware.AddSpanError(ctx, err)
			c.reply(models.ServerMessage{
				Type:       models.MessageTypeSaveError,
				SectionKey: msg.SectionKey,
				Error:      err.Error(),
			})
		}
		replyType := models.MessageTypeLockGranted
		holderID := c.UserID
		if readOnly {
			replyType = models.MessageTypeLockDenied
			holderID, _ = c.Coord.locks.Holder(c.DocumentID, msg.SectionKey)
		}
		c.reply(models.ServerMessage{
			Type:       replyType,
			SectionKey: msg.SectionKey,
			HolderID:   holderID,
			ReadOnly:   readOnly,
		})
		c.Manager.pushPresence(c.DocumentID)

	case models.MessageTypeHeartbeat:
		c.Coord.Heartbeat()

	case models.MessageTypeAcquireLock:
		if err := c.Coord.AcquireLock(msg.SectionKey); err != nil {
			var locked *ErrSectionLocked
			holder := ""
			if errors.As(err, &locked) {
				holder = locked.HolderID
			}
			c.reply(models.ServerMessage{
				Type:       models.MessageTypeLockDenied,
				SectionKey: msg.SectionKey,
				HolderID:   holder,
				ReadOnly:   true,
			})
			return
		}
		c.reply(models.ServerMessage{
			Type:       models.MessageTypeLockGranted,
			SectionKey: msg.SectionKey,
			HolderID:   c.UserID,
		})

	case models.MessageTypeReleaseLock:
		c.Coord.ReleaseLock(msg.SectionKey)

	case models.MessageTypeCompile:
		job, err := c.Coord.CompileFull(ctx)
		if err != nil {
			middleware.AddSpanError(ctx, err)
			c.reply(models.ServerMessage{Type: models.MessageTypeError, Error: err.Error()})
			return
		}
		c.reply(models.ServerMessage{Type: models.MessageTypeCompileStatus, Job: &job})

	default:
		c.reply(models.ServerMessage{Type: models.MessageTypeError, Error: "unknown message type"})
	}
}

func (c *Conn) reply(msg models.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.queue(payload)
}

// WritePump writes frames to the WebSocket connection. A separate goroutine
// per connection prevents blocking on slow clients.
func (c *Conn) WritePump(ctx context.Context) {
	ticker := time.NewTicker(54 * time.Second) // Ping interval
	defer func() {
		ticker.Stop()
		c.Sock.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed
				c.Sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Sock.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
