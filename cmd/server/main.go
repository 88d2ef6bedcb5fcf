package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerline/site/internal/api"
	"github.com/ledgerline/site/internal/auth"
	"github.com/ledgerline/site/internal/chat"
	"github.com/ledgerline/site/internal/config"
	"github.com/ledgerline/site/internal/export"
	"github.com/ledgerline/site/internal/pages"
	"github.com/ledgerline/site/internal/pkg/logger"
	"github.com/ledgerline/site/internal/reconcile"
	"github.com/ledgerline/site/internal/signup"
	"github.com/ledgerline/site/internal/storage"
	"github.com/ledgerline/site/internal/store"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Ledgerline site server (cmd/server/main.go)               ║")
	log.Println("║  Signups, admin export, FAQ chat and legal pages           ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.ShouldRedact())

	if err := checkPortAvailable(cfg.Server.GetHost(), cfg.Server.Port); err != nil {
		log.Fatalf("Startup aborted: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Key-value store
	redisClient, err := store.Connect(ctx, cfg.Redis.URL, time.Duration(cfg.Redis.PingTimeoutSeconds)*time.Second)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	kv := store.NewRedis(redisClient)
	log.Println("Redis connected")

	// Export destination
	dest, err := storage.New(ctx, cfg.Export)
	if err != nil {
		log.Fatalf("Failed to initialize export storage: %v", err)
	}
	log.Printf("Export storage initialized (type: %s)", cfg.Export.Type)

	reconciler := reconcile.New(kv, reconcile.WithDenylist(cfg.Reconcile.Denylist...))
	if n := len(cfg.Reconcile.Denylist); n > 0 {
		log.Printf("Reconciler skips %d denylisted keys", n)
	}
	pipeline := export.NewPipeline(reconciler, export.New(dest))

	// Admin auth
	authManager := auth.NewAuthManager(cfg.Admin)
	authManager.CleanupExpiredSessions(ctx, 10*time.Minute)

	// Chat: the FAQ matcher always answers; Bedrock is optional
	var botOpts []chat.Option
	if cfg.Chat.Enabled {
		completer, err := chat.NewBedrockCompleter(ctx, cfg.Chat.Region, cfg.Chat.ModelID, cfg.Chat.MaxTokens)
		if err != nil {
			log.Printf("WARNING: Bedrock unavailable, chat uses FAQ only: %v", err)
		} else {
			botOpts = append(botOpts, chat.WithCompleter(completer))
			log.Printf("Chat LLM enabled (model: %s)", cfg.Chat.ModelID)
		}
	} else {
		log.Println("Chat LLM not configured, FAQ matching only")
	}
	bot := chat.NewBot(cfg.Site.CompanyName, botOpts...)

	renderer, err := pages.NewRenderer(cfg.Site)
	if err != nil {
		log.Fatalf("Failed to load page templates: %v", err)
	}

	handlers := api.NewHandlers(signup.NewRecorder(kv), reconciler, pipeline, bot, renderer)
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
		log.Printf("Metrics exposed at %s", metricsPath)
	}
	server := api.NewServer(cfg.Server, handlers, authManager, api.NewHealthChecker(redisClient, dest), metricsPath)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized, server is ready")

	<-done
	log.Println("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
