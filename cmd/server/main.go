package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"orgai/services/chat-api/internal/config"
	"orgai/services/chat-api/internal/domain/chat"
	"orgai/services/chat-api/internal/domain/moderation"
	"orgai/services/chat-api/internal/domain/pricing"
	"orgai/services/chat-api/internal/domain/spend"
	"orgai/services/chat-api/internal/infrastructure/database"
	_ "orgai/services/chat-api/internal/infrastructure/database/dbschema"
	"orgai/services/chat-api/internal/infrastructure/database/repository/conversationrepo"
	"orgai/services/chat-api/internal/infrastructure/database/repository/reviewrepo"
	"orgai/services/chat-api/internal/infrastructure/database/repository/spendrepo"
	"orgai/services/chat-api/internal/infrastructure/inference"
	"orgai/services/chat-api/internal/infrastructure/logger"
	"orgai/services/chat-api/internal/infrastructure/metrics"
	"orgai/services/chat-api/internal/interfaces/httpserver"
	"orgai/services/chat-api/internal/interfaces/httpserver/chathandler"
	"orgai/services/chat-api/internal/interfaces/httpserver/conversationhandler"
	"orgai/services/chat-api/internal/interfaces/httpserver/presethandler"
	"orgai/services/chat-api/internal/interfaces/httpserver/reviewhandler"
	"orgai/services/chat-api/internal/interfaces/httpserver/spendhandler"
	"orgai/services/chat-api/internal/interfaces/httpserver/streamhub"
)

const shutdownGrace = 15 * time.Second

func main() {
	_ = godotenv.Load()

	bootLog := logger.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("load configuration")
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("configure logger")
	}

	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.CatalogFile).Msg("load catalog")
	}

	db, err := database.NewDB(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	if cfg.DBAutoMigration {
		if err := database.Migration(db); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}
	}

	client := inference.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.StreamTimeout, log)

	ledger := spend.NewLedger(spendrepo.NewSpendRepository(db))
	gate := moderation.NewGate(client, cfg.FlagThreshold, cfg.ReviewThreshold)
	store := conversationrepo.NewConversationRepository(db)
	queue := reviewrepo.NewReviewRepository(db)
	calculator := pricing.NewCalculator(catalog)
	hub := streamhub.NewHub()

	orchestrator := chat.NewOrchestrator(
		catalog, ledger, gate, store, queue, client, calculator, hub, cfg.TitleModel, log,
	)

	server := httpserver.NewHTTPServer(
		cfg,
		log,
		chathandler.NewChatHandler(orchestrator, hub, log),
		conversationhandler.NewConversationHandler(store),
		presethandler.NewPresetHandler(catalog),
		reviewhandler.NewReviewHandler(catalog, queue, ledger),
		spendhandler.NewSpendHandler(catalog, ledger),
	)
	metricsServer := metrics.NewServer(cfg.MetricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info().Str("port", cfg.HTTPPort).Msg("http server listening")
		return server.Start()
	})
	group.Go(func() error {
		log.Info().Str("port", cfg.MetricsPort).Msg("metrics server listening")
		return metricsServer.Start()
	})
	group.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown")
		}
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
