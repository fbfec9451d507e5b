package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/barterhub/barterhub/internal/api/http"
	appExchange "github.com/barterhub/barterhub/internal/application/exchange"
	appListing "github.com/barterhub/barterhub/internal/application/listing"
	"github.com/barterhub/barterhub/internal/application/matching"
	appProposal "github.com/barterhub/barterhub/internal/application/proposal"
	appUser "github.com/barterhub/barterhub/internal/application/user"
	"github.com/barterhub/barterhub/internal/config"
	domainListing "github.com/barterhub/barterhub/internal/domain/listing"
	domainProposal "github.com/barterhub/barterhub/internal/domain/proposal"
	domainTrade "github.com/barterhub/barterhub/internal/domain/trade"
	domainUser "github.com/barterhub/barterhub/internal/domain/user"
	"github.com/barterhub/barterhub/internal/infrastructure/clock"
	"github.com/barterhub/barterhub/internal/infrastructure/memstore"
	"github.com/barterhub/barterhub/internal/infrastructure/postgres"
	"github.com/barterhub/barterhub/internal/infrastructure/sse"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	var (
		listingRepo  domainListing.Repository
		proposalRepo domainProposal.Repository
		tradeRepo    domainTrade.Repository
		userRepo     domainUser.Repository
	)
	if cfg.UseMemstore {
		logger.Warn().Msg("using in-memory store; state is lost on restart")
		listingRepo = memstore.NewListingRepository()
		proposalRepo = memstore.NewProposalRepository()
		tradeRepo = memstore.NewTradeRepository()
		userRepo = memstore.NewUserRepository()
	} else {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool, "internal/migrations"); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		listingRepo = postgres.NewListingRepository(pool)
		proposalRepo = postgres.NewProposalRepository(pool)
		tradeRepo = postgres.NewTradeRepository(pool)
		userRepo = postgres.NewUserRepository(pool)
	}

	// infrastructure
	sseHub := sse.NewHub()
	defer sseHub.Stop()
	clk := clock.System{}

	index := matching.NewIndex()
	active, err := listingRepo.ListByStatus(ctx, domainListing.StatusActive, 0)
	if err != nil {
		log.Fatalf("index rebuild error: %v", err)
	}
	index.Rebuild(active)
	logger.Info().Int("listings", len(active)).Msg("preference index rebuilt")

	// services
	userSvc := appUser.NewService(userRepo, logger)
	matchingSvc := matching.NewService(listingRepo, userRepo, index, matching.Config{
		MaxCycleLen: cfg.MaxCycleLen,
		MaxResults:  cfg.MaxResults,
	}, logger)
	exchangeSvc := appExchange.NewService(listingRepo, proposalRepo, tradeRepo, index, sseHub, clk, logger)
	proposalSvc := appProposal.NewService(proposalRepo, listingRepo, userRepo, exchangeSvc, sseHub, clk, cfg.ProposalTTL, cfg.MaxCycleLen, logger)
	listingSvc := appListing.NewService(listingRepo, userRepo, index, proposalSvc, sseHub, logger)

	// background expiry sweep
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	proposalSvc.StartSweeper(sweepCtx, cfg.SweepInterval, cfg.SweepBatch)

	// API server
	apiServer := httpapi.NewServer(userSvc, listingSvc, matchingSvc, proposalSvc, exchangeSvc, sseHub)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
