package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/robokitlabs/orderflow/internal/database"
	"github.com/robokitlabs/orderflow/internal/order/application"
	orderhttp "github.com/robokitlabs/orderflow/internal/order/infrastructure/http"
	orderkafka "github.com/robokitlabs/orderflow/internal/order/infrastructure/kafka"
	orderpg "github.com/robokitlabs/orderflow/internal/order/infrastructure/postgres"
	payapp "github.com/robokitlabs/orderflow/internal/payment/application"
	"github.com/robokitlabs/orderflow/internal/payment/infrastructure/cardgate"
	paypg "github.com/robokitlabs/orderflow/internal/payment/infrastructure/postgres"
	"github.com/robokitlabs/orderflow/internal/payment/infrastructure/walletpay"
	"github.com/robokitlabs/orderflow/internal/reconciler"
	webhookhttp "github.com/robokitlabs/orderflow/internal/reconciler/http"
	reconcilerpg "github.com/robokitlabs/orderflow/internal/reconciler/postgres"
	"github.com/robokitlabs/orderflow/pkg/config"
	"github.com/robokitlabs/orderflow/pkg/idempotency"
	"github.com/robokitlabs/orderflow/pkg/logging"
	"github.com/robokitlabs/orderflow/pkg/outbox"
	"github.com/robokitlabs/orderflow/pkg/ratelimit"
	"github.com/robokitlabs/orderflow/pkg/shutdown"
	"github.com/robokitlabs/orderflow/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logging.New("order-service", cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "order-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	if err := database.Migrate(cfg.PostgresURL); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	writer := orderkafka.NewWriter([]string{cfg.KafkaAddr})
	defer writer.Close()

	providers := payapp.NewRegistry(
		cardgate.New(log, cfg.CardgateBaseURL, cfg.CardgateAPIKey, cfg.CardgateWebhookSecret, cfg.ProviderTimeout),
		walletpay.New(log, cfg.WalletpayBaseURL, cfg.WalletpayAPIKey, cfg.WalletpayWebhookSecret, cfg.ProviderTimeout),
	)

	orders := orderpg.NewRepository(log, pool)
	intents := paypg.NewRepository(log, pool)
	store := orderpg.NewOutboxStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, cfg.OrderTopic)
	relay := outbox.NewRelay(log, store, dispatch, "order-service-relay")

	svc := application.NewService(log, orders, intents, providers)

	dedup := idempotency.NewStore(rdb, cfg.WebhookReplayWindow)
	conflicts := reconcilerpg.NewConflictStore(pool)
	rec := reconciler.New(log, providers, dedup, intents, svc, conflicts)

	limiter := ratelimit.New(rdb, cfg.CheckoutRateLimit, time.Minute)

	r := chi.NewRouter()
	r.Use(limiter.Middleware)
	r.Mount("/", orderhttp.NewHandler(log, svc).Routes())
	r.Mount("/payments", webhookhttp.NewHandler(log, rec).Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("order-service shutdown complete")
}
