package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/brokermate/messaging/internal/api"
	"github.com/brokermate/messaging/internal/broadcast"
	"github.com/brokermate/messaging/internal/channel"
	"github.com/brokermate/messaging/internal/config"
	"github.com/brokermate/messaging/internal/dispatch"
	"github.com/brokermate/messaging/internal/ledger"
	"github.com/brokermate/messaging/internal/model"
	"github.com/brokermate/messaging/internal/retry"
	"github.com/brokermate/messaging/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	slog.Info("messaging engine starting",
		"addr", cfg.Server.Address,
		"redis", cfg.Redis.Enabled,
		"poll_interval", cfg.Broadcast.PollInterval.String(),
	)

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		slog.Error("postgres open failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	led := ledger.NewPostgres(db)
	resolver := ledger.NewPostgresAudience(db)

	adapter := channel.NewGateway(endpointsFromConfig(cfg.Channels))
	health := session.NewMonitor()
	retries := retry.NewScheduler()
	defer retries.CancelAll()

	dispatcher := dispatch.NewDispatcher(adapter, led, retries, health)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		dispatcher.WithSentCache(ledger.NewRedisSentCache(rdb, cfg.Redis.TTL))
	}

	engine := broadcast.NewEngine(dispatcher, adapter, led, led, resolver, broadcast.Config{
		Delays:       delaysFromConfig(cfg.Channels),
		PollInterval: cfg.Broadcast.PollInterval,
	})

	handler := api.NewHandler(dispatcher, engine, led, health)
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(handler)),
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "err", err)
	}
}

func endpointsFromConfig(c config.ChannelsConfig) map[model.Channel]channel.Endpoint {
	return map[model.Channel]channel.Endpoint{
		model.ChannelBotAPI:   {URL: c.BotAPI.GatewayURL},
		model.ChannelPersonal: {URL: c.Personal.GatewayURL},
		model.ChannelBridgeA:  {URL: c.BridgeA.GatewayURL, ManualConfirmation: true},
		model.ChannelBridgeB:  {URL: c.BridgeB.GatewayURL, ManualConfirmation: true},
	}
}

func delaysFromConfig(c config.ChannelsConfig) map[model.Channel]time.Duration {
	return map[model.Channel]time.Duration{
		model.ChannelBotAPI:   c.BotAPI.PacingDelay,
		model.ChannelPersonal: c.Personal.PacingDelay,
		model.ChannelBridgeA:  c.BridgeA.PacingDelay,
		model.ChannelBridgeB:  c.BridgeB.PacingDelay,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
