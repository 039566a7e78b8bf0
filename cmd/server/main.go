// Command server runs the chatroom delivery service: the REST API, the
// websocket gateway and the background reconciliation loops.
//
// @title        Chatroom Delivery API
// @version      1.0
// @description  REST surface of the realtime chatroom delivery service. Live delivery uses the websocket endpoint.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/changefeed"
	"github.com/tbourn/go-chatroom-delivery/internal/config"
	httpapi "github.com/tbourn/go-chatroom-delivery/internal/http"
	"github.com/tbourn/go-chatroom-delivery/internal/observability"
	"github.com/tbourn/go-chatroom-delivery/internal/presence"
	"github.com/tbourn/go-chatroom-delivery/internal/realtime"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
	"github.com/tbourn/go-chatroom-delivery/internal/scheduler"
	"github.com/tbourn/go-chatroom-delivery/internal/services"
	"github.com/tbourn/go-chatroom-delivery/internal/sysutil"
)

// version is set with -ldflags "-X main.version=..." at release time.
var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, "go-chatroom-delivery"))
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.PebblePath)
	if err != nil {
		return err
	}
	layer := cache.NewLayer(store, services.RosterSource{DB: db}, cfg.Cache.RosterTTL, cfg.Cache.AckTTL)

	reg := presence.NewRegistry()
	router := services.NewMessageRouter(db, layer, reg, services.RouterOptions{
		IncludeSender:  cfg.Reconcile.IncludeSender,
		MaxBodyRunes:   cfg.Realtime.MaxBodyRunes,
		BackfillLimit:  cfg.Reconcile.BackfillLimit,
		PendingBatch:   cfg.Reconcile.PendingBatch,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	sched := &scheduler.Scheduler{
		Cache:           layer,
		Router:          router,
		Feed:            changefeed.NewPollingFeed(db, cfg.Reconcile.ChangeFeedInterval),
		Presence:        reg,
		RefreshInterval: cfg.Reconcile.RosterRefreshInterval,
		RefreshCron:     cfg.Reconcile.RosterRefreshCron,
		RetryInterval:   cfg.Reconcile.OfflineRetryInterval,
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	gateway := realtime.NewGateway(router, reg, realtime.Options{
		OriginPatterns:  cfg.Realtime.AllowedOrigins,
		WriteTimeout:    cfg.Realtime.WriteTimeout,
		OutboxSize:      cfg.Realtime.OutboxSize,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
		EventRPS:        cfg.Realtime.EventRPS,
		EventBurst:      cfg.Realtime.EventBurst,
	})

	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		Chatrooms: httpapi.NewChatroomService(db, layer),
		Router:    router,
		Presence:  reg,
		Gateway:   gateway,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("api", cfg.APIBasePath).
			Str("ws", cfg.Realtime.Path).
			Str("db", cfg.DBPath).
			Str("cache", cfg.Cache.Backend).
			Str("max_ws_message", humanize.IBytes(uint64(cfg.Realtime.MaxMessageBytes))).
			Str("max_header", humanize.IBytes(uint64(cfg.MaxHeaderBytes))).
			Str("version", version).
			Msg("chatroom delivery listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Websocket connections are hijacked, so http.Server.Shutdown does not
	// wait for them; the gateway closes its own.
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("websocket drain incomplete")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	sched.Stop()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown failed")
	}
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("cache close failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
	return serveErr
}
