package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"coauthor/internal/api"
	"coauthor/internal/config"
	"coauthor/internal/db"
	"coauthor/internal/models"
	"coauthor/internal/repository"
	"coauthor/internal/services"
	"coauthor/internal/services/collaboration"
	"coauthor/internal/storage"
	"coauthor/internal/telemetry"
	"coauthor/internal/texd"
)

func main() {
	log.Println("🚀 Starting collaborative document server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Initialize Jaeger tracing first so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("coauthor", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Initialize GORM database
	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Repositories
	docRepo := repository.NewDocumentRepository(database.DB)
	sectionRepo := repository.NewSectionRepository(database.DB)

	// Per-document version store on disk
	gitStore := storage.NewGitStore(cfg.RepoDataDir)

	// Compile engine (external daemon or local commands) and the scheduler
	// worker pool in front of it
	var compiler services.CompileEngine
	if cfg.CompileEngine == "local" {
		compiler = texd.NewLocalEngine(cfg.CompileWorkDir, map[models.DocType][]string{
			models.DocTypeLatex:    strings.Fields(cfg.CompileLatexCmd),
			models.DocTypeMarkdown: strings.Fields(cfg.CompileMarkdownCmd),
		})
		log.Printf("✓ Local compile engine initialized (work dir: %s)", cfg.CompileWorkDir)
	} else {
		compiler = texd.NewClient(cfg.CompilerURL)
		log.Printf("✓ Compile daemon client initialized: %s", cfg.CompilerURL)
	}
	scheduler := services.NewCompileScheduler(
		compiler,
		cfg.CompileWorkers,
		cfg.CompileQueueSize,
		cfg.PreviewDebounce,
	)
	scheduler.Start()

	// Collaboration layer: presence, advisory section locks, debounced
	// change broadcasting, and the WebSocket hub that ties them together.
	timings := collaboration.Timings{
		BroadcastDebounce: cfg.BroadcastDebounce,
		PreviewDebounce:   cfg.PreviewDebounce,
		PersistDebounce:   cfg.PersistDebounce,
		PresenceTimeout:   cfg.PresenceTimeout,
		LockTimeout:       cfg.LockTimeout,
	}
	presence := collaboration.NewPresenceRegistry(cfg.PresenceTimeout)
	locks := collaboration.NewSectionLockManager(cfg.LockTimeout, presence)
	broadcaster := collaboration.NewChangeBroadcaster(timings, sectionRepo)
	broadcaster.RequestPreview = scheduler.SchedulePreview

	sessionManager := collaboration.NewSessionManager(presence, timings)
	sessionManager.WireBroadcaster(broadcaster)
	sessionManager.Start()

	// Push compile status transitions to the document's room
	scheduler.Notify = sessionManager.NotifyJob

	wsHandler := collaboration.NewWebSocketHandler(
		sessionManager, docRepo, presence, locks, broadcaster, scheduler,
	)

	// Handlers and routes
	handler := api.NewHandler(docRepo, sectionRepo, scheduler, presence, gitStore, wsHandler)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 API Endpoints:")
		log.Printf("   POST   /api/documents                     - Create document")
		log.Printf("   GET    /api/documents                     - List documents")
		log.Printf("   GET    /api/documents/:id/sections        - List sections")
		log.Printf("   PUT    /api/documents/:id/sections/:key   - Write section content")
		log.Printf("   GET    /api/documents/:id/presence        - Presence snapshot")
		log.Printf("   POST   /api/documents/:id/compile         - Full compile")
		log.Printf("   POST   /api/documents/:id/commits         - Commit snapshot")
		log.Printf("   WS     /ws/document/:id                   - Live co-authoring")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	// Give the server 30 seconds to finish existing requests
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Close WebSocket connections first so their final flushes can still
	// reach the scheduler and database, then stop the workers.
	sessionManager.Shutdown()
	scheduler.Shutdown()

	log.Println("✓ Server shutdown complete")
}
