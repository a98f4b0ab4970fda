// Package main is the entry point for the treasure-hunt prize service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"treasure-hunt/internal/auth"
	"treasure-hunt/internal/bot"
	"treasure-hunt/internal/config"
	"treasure-hunt/internal/geo"
	"treasure-hunt/internal/handler"
	"treasure-hunt/internal/middleware"
	"treasure-hunt/internal/notify"
	"treasure-hunt/internal/pkg/clock"
	"treasure-hunt/internal/pkg/db"
	"treasure-hunt/internal/repository"
	"treasure-hunt/internal/repository/memstore"
	"treasure-hunt/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	loc, err := cfg.Clock.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid clock timezone")
	}
	clk := clock.NewSystem(loc)
	evaluator := geo.NewEvaluator(cfg.Game.FadeStartMeters)
	retry := service.RetryPolicy{
		MaxAttempts: cfg.Game.ClaimMaxAttempts,
		BaseBackoff: cfg.Game.ClaimBaseBackoff,
		MaxBackoff:  cfg.Game.ClaimMaxBackoff,
	}

	// Winner notifications go through Telegram when it is enabled.
	var dispatcher notify.Dispatcher = notify.LogDispatcher{}
	var adminBot *bot.Bot
	tb, err := newTeleBot(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}
	if tb != nil {
		dispatcher = notify.NewTelegramDispatcher(tb)
	}

	eligibility := service.NewEligibilityService(store, clk)
	games := service.NewGameService(store, evaluator, retry)
	settlement := service.NewSettlementService(store, eligibility, evaluator, clk, retry)
	finalizer := service.NewFinalizerService(store, eligibility, dispatcher, clk, retry)
	finalizer.SetNotifyTimeout(cfg.Game.NotifyTimeout)
	finalizer.SetFinalizeWait(cfg.Game.FinalizeWait)
	accounts := service.NewAccountService(store)
	authManager := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	if tb != nil {
		adminBot, err = bot.New(&bot.Dependencies{
			Config:    cfg,
			TeleBot:   tb,
			Games:     games,
			Finalizer: finalizer,
			Accounts:  accounts,
			Auth:      authManager,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		go adminBot.Start()
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(middleware.Recovery(), middleware.RequestLogger())
	handler.RegisterRoutes(router, handler.NewHandler(handler.Services{
		Store:       store,
		Games:       games,
		Settlement:  settlement,
		Finalizer:   finalizer,
		Eligibility: eligibility,
		Accounts:    accounts,
	}), authManager)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if adminBot != nil {
		adminBot.Stop()
	}
	finalizer.Wait()
	log.Info().Msg("Server stopped gracefully")
}

// openStore connects the configured store and returns its closer.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory store; state is lost on restart")
		return memstore.New(), func() {}, nil
	}

	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.Migrate(ctx, pool.Pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repository.NewPostgresStore(pool.Pool), pool.Close, nil
}

func newTeleBot(cfg *config.Config) (*tele.Bot, error) {
	if !cfg.Telegram.Enabled {
		return nil, nil
	}
	return bot.NewTeleBot(&cfg.Telegram)
}
