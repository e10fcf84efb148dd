package main

import (
	"context"
	"errors"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/robokitlabs/orderflow/internal/notify"
	"github.com/robokitlabs/orderflow/internal/order/application"
	orderpg "github.com/robokitlabs/orderflow/internal/order/infrastructure/postgres"
	payapp "github.com/robokitlabs/orderflow/internal/payment/application"
	"github.com/robokitlabs/orderflow/internal/payment/infrastructure/cardgate"
	paypg "github.com/robokitlabs/orderflow/internal/payment/infrastructure/postgres"
	"github.com/robokitlabs/orderflow/internal/payment/infrastructure/walletpay"
	"github.com/robokitlabs/orderflow/pkg/config"
	"github.com/robokitlabs/orderflow/pkg/idempotency"
	"github.com/robokitlabs/orderflow/pkg/logging"
	"github.com/robokitlabs/orderflow/pkg/shutdown"
	"github.com/robokitlabs/orderflow/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logging.New("fulfillment-worker", cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "fulfillment-worker", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	providers := payapp.NewRegistry(
		cardgate.New(log, cfg.CardgateBaseURL, cfg.CardgateAPIKey, cfg.CardgateWebhookSecret, cfg.ProviderTimeout),
		walletpay.New(log, cfg.WalletpayBaseURL, cfg.WalletpayAPIKey, cfg.WalletpayWebhookSecret, cfg.ProviderTimeout),
	)

	orders := orderpg.NewRepository(log, pool)
	intents := paypg.NewRepository(log, pool)
	svc := application.NewService(log, orders, intents, providers)

	notifier := notify.NewHTTPNotifier(cfg.NotifierURL, cfg.ProviderTimeout)
	fulfillment := notify.NewHTTPFulfillment(cfg.FulfillmentURL, cfg.ProviderTimeout)
	idem := idempotency.NewStore(rdb, cfg.WebhookReplayWindow)

	consumer := notify.NewConsumer(log, []string{cfg.KafkaAddr}, cfg.OrderTopic, "fulfillment-worker",
		notifier, fulfillment, svc, idem)

	log.Info("fulfillment worker consuming", "topic", cfg.OrderTopic)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("fulfillment worker shutdown complete")
}
