package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/suPer8Hu/knowledge-chat/internal/agent"
	"github.com/suPer8Hu/knowledge-chat/internal/ai"
	"github.com/suPer8Hu/knowledge-chat/internal/backup"
	"github.com/suPer8Hu/knowledge-chat/internal/chat"
	"github.com/suPer8Hu/knowledge-chat/internal/config"
	"github.com/suPer8Hu/knowledge-chat/internal/db"
	"github.com/suPer8Hu/knowledge-chat/internal/docs"
	"github.com/suPer8Hu/knowledge-chat/internal/embedding"
	"github.com/suPer8Hu/knowledge-chat/internal/httpapi"
	"github.com/suPer8Hu/knowledge-chat/internal/log"
	"github.com/suPer8Hu/knowledge-chat/internal/models"
	"github.com/suPer8Hu/knowledge-chat/internal/parser"
	"github.com/suPer8Hu/knowledge-chat/internal/vectorstore"
	"github.com/suPer8Hu/knowledge-chat/internal/vectorstore/memory"
	"github.com/suPer8Hu/knowledge-chat/internal/vectorstore/qdrant"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := log.New(log.Config{
		Level: logLevel(),
		JSON:  strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// databases
	userDB, err := db.Open(cfg.UserDBPath)
	if err != nil {
		logger.Error("open user db", "error", err)
		os.Exit(1)
	}
	if err := userDB.AutoMigrate(&models.User{}); err != nil {
		logger.Error("migrate user db", "error", err)
		os.Exit(1)
	}
	if err := db.SeedAdmin(userDB, cfg.DefaultAdminPassword); err != nil {
		logger.Error("seed admin", "error", err)
		os.Exit(1)
	}

	convDB, err := db.Open(cfg.ConversationDBPath)
	if err != nil {
		logger.Error("open conversation db", "error", err)
		os.Exit(1)
	}
	if err := chat.AutoMigrate(convDB); err != nil {
		logger.Error("migrate conversation db", "error", err)
		os.Exit(1)
	}

	// model clients
	provider := ai.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.Temperature)
	embedder := embedding.NewOpenAIClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)

	// vector store
	var store vectorstore.Store
	if cfg.QdrantURL != "" {
		store = qdrant.NewStore(qdrant.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
		}, embedder, logger)
	} else {
		logger.Warn("QDRANT_URL not set, using in-memory vector store")
		store = memory.NewStore(embedder)
	}

	// agent
	ag, err := agent.New(store, provider, agent.Options{
		PreambleFile: cfg.PreambleFile,
		TopK:         cfg.TopK,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("build agent", "error", err)
		os.Exit(1)
	}

	// document ingestion
	backups, err := backup.NewManager(cfg.BackupDir, cfg.BackupKeep, logger)
	if err != nil {
		logger.Error("init backups", "error", err)
		os.Exit(1)
	}
	docsSvc := docs.NewService(store, parser.New(logger), backups, ag, logger)
	if err := docsSvc.Preload(ctx, cfg.DocumentsDir); err != nil {
		logger.Warn("document preload failed", "error", err)
	}

	// chat
	history := chat.NewHistory(chat.HistoryOptions{
		MaxHistory:        cfg.MaxHistory,
		CompressThreshold: cfg.CompressThreshold,
		SummaryEnabled:    cfg.HistorySummaryEnabled,
		Summarize:         chat.ProviderSummarizer(provider, cfg.SummaryPrompt),
		Logger:            logger,
	})
	history.StartJanitor(ctx)
	chatRepo := chat.NewRepo(convDB)
	chatSvc := chat.NewService(ag, history, chatRepo, logger)

	// background maintenance
	go maintenanceLoop(ctx, chatRepo, backups, logger)

	router := httpapi.NewRouter(userDB, cfg, ag, chatSvc, chatRepo, docsSvc, logger)

	srv := &http.Server{
		Addr:    cfg.ServerHost,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server started", "addr", cfg.ServerHost)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// maintenanceLoop closes idle conversations and prunes old backups hourly.
func maintenanceLoop(ctx context.Context, repo *chat.Repo, backups *backup.Manager, logger log.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := repo.CloseIdle(ctx, 24*time.Hour)
			if err != nil {
				logger.Warn("close idle conversations failed", "error", err)
			} else if closed > 0 {
				logger.Info("closed idle conversations", "count", closed)
			}
			if err := backups.Prune(); err != nil {
				logger.Warn("backup pruning failed", "error", err)
			}
		}
	}
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
