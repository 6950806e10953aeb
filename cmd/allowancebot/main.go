package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/moamoa/allowancebot/internal/api"
	"github.com/moamoa/allowancebot/internal/auth"
	"github.com/moamoa/allowancebot/internal/chatlog"
	"github.com/moamoa/allowancebot/internal/config"
	"github.com/moamoa/allowancebot/internal/kakao"
	"github.com/moamoa/allowancebot/internal/llm"
	"github.com/moamoa/allowancebot/internal/metrics"
	"github.com/moamoa/allowancebot/internal/repository/postgres"
	"github.com/moamoa/allowancebot/internal/service"
	"github.com/moamoa/allowancebot/pkg/logger"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.New(cfg.LogLevel)
	l.Info("Starting allowancebot...")

	// Database
	db, err := config.NewDatabase(cfg.DatabaseURL, l)
	if err != nil {
		l.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate("migrations"); err != nil {
		l.Fatalf("Failed to run migrations: %v", err)
	}

	// Repositories
	userRepo := postgres.NewUserRepository(db.DB)
	conversationRepo := postgres.NewConversationRepository(db.DB)
	utteranceRepo := postgres.NewUtteranceRepository(db.DB)
	ledgerRepo := postgres.NewLedgerRepository(db.DB)
	syncRepo := postgres.NewSyncRepository(db.DB)
	summaryRepo := postgres.NewSummaryRepository(db.DB)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// LLM collaborator
	chatter, err := llm.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, l)
	if err != nil {
		l.Fatalf("Failed to create LLM client: %v", err)
	}

	// Service layer
	svc := service.New(db.DB, l, chatter, chatlog.NewStore(0),
		userRepo, conversationRepo, utteranceRepo,
		ledgerRepo, syncRepo, summaryRepo,
	)

	m := metrics.New()
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.MagicTokenTTL)

	// Webhook router
	blocks := kakao.DefaultBlocks()
	if cfg.SelectChildrenBlockID != "" {
		blocks.SelectChildren = cfg.SelectChildrenBlockID
	}
	if cfg.ProposeBlockID != "" {
		blocks.Propose = cfg.ProposeBlockID
	}
	if cfg.ConfirmBlockID != "" {
		blocks.Confirm = cfg.ConfirmBlockID
	}
	if cfg.MonthEndBlockID != "" {
		blocks.MonthEnd = cfg.MonthEndBlockID
	}

	members := kakao.NewClient(cfg.RESTAPIKey, "", l)
	router := kakao.NewRouter(svc, members, m, tokens, l, blocks, cfg.BotSecret, cfg.FrontendURL)

	// HTTP server: webhook + web API on one listener
	apiServer := api.NewServer(svc, tokens, m, l)
	mux := http.NewServeMux()
	mux.Handle("/webhook", router.Handler())
	mux.Handle("/", apiServer.Handler())

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		l.Info("Received shutdown signal...")
		cancel()
	}()

	go func() {
		l.Infof("HTTP server listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Errorf("HTTP server error: %v", err)
		}
	}()

	l.Info("allowancebot started successfully")

	<-ctx.Done()

	l.Info("Shutting down HTTP server...")
	httpServer.Close()

	l.Info("allowancebot stopped")
}
