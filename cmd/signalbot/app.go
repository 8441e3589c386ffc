package main

import (
	"context"
	"fmt"
	"log/slog"

	"futures-signal-engine/config"
	"futures-signal-engine/internal/exchange"
	"futures-signal-engine/internal/exchange/binance"
	"futures-signal-engine/internal/execution"
	"futures-signal-engine/internal/gateway"
	"futures-signal-engine/internal/metrics"
	"futures-signal-engine/internal/model"
	"futures-signal-engine/internal/notification"
	"futures-signal-engine/internal/position"
	"futures-signal-engine/internal/scheduler"
	"futures-signal-engine/internal/store/redis"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const paperSlippageBps = 5

// app holds the wired components shared by the subcommands.
type app struct {
	cfg      *config.Config
	market   *binance.Client
	exchange *exchange.Guarded
	tracker  *position.Tracker
	pipeline *execution.Pipeline
	metrics  *metrics.Metrics
	health   *metrics.HealthStatus
	hub      *gateway.Hub
	rdb      *goredis.Client
	lock     *redis.Lock
}

// newApp wires the exchange stack, the position tracker and the pipeline
// observers. The position is restored from Redis when STATE_PERSIST is set.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	a.market = binance.NewClient(binance.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Testnet:   cfg.Testnet,
		RateLimit: cfg.ExchangeRateLimit,
	})

	var ex model.Exchange = a.market
	if cfg.DryRun {
		balance := decimal.NewFromFloat(cfg.PaperBalance)
		ex = execution.NewPaperExchange(a.market, balance, paperSlippageBps)
		slog.Warn("DRY_RUN enabled, orders are simulated", "paper_balance", balance.String())
	}
	ex = exchange.NewFilterCache(ex, cfg.FilterCacheTTL)

	a.metrics = metrics.NewMetrics(prometheus.NewRegistry())
	a.health = metrics.NewHealthStatus(cfg.Strategy.Symbol, cfg.DryRun)

	breaker := exchange.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerReset)
	breaker.OnStateChange = func(from, to exchange.BreakerState) {
		slog.Warn("exchange circuit breaker transition", "from", from.String(), "to", to.String())
		a.metrics.BreakerStateChanged(from, to)
		a.health.BreakerStateChanged(from, to)
	}
	a.exchange = exchange.NewGuarded(ex, breaker)

	var persister position.Persister
	if cfg.RedisAddr != "" {
		rdb, err := redis.Connect(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		if cfg.StatePersist {
			persister = redis.NewPositionStore(rdb)
		}
		if cfg.LockEnabled {
			a.lock = redis.NewLock(rdb)
		}
	}

	a.tracker = position.NewTracker(cfg.Strategy.Symbol, persister)
	if persister != nil {
		st, err := a.tracker.Restore(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("restore position: %w", err)
		}
		slog.Info("position restored", "symbol", st.Symbol, "side", string(st.Side))
	}

	a.hub = gateway.NewHub(200)
	a.pipeline = execution.NewPipeline(a.exchange, a.tracker, cfg.QuoteAsset,
		a.metrics,
		a.health,
		a.hub,
		execution.NewAlertObserver(a.notifier()),
	)
	return a, nil
}

// scheduler guards every cycle, including one-shot ones, with the local
// single-flight guard and, when enabled, the Redis lock. Under the lock the
// tracker is reloaded from Redis first so replicas never open twice.
func (a *app) scheduler(params scheduler.ParamsFunc) *scheduler.Scheduler {
	cfg := scheduler.Config{
		Interval: a.cfg.TickInterval,
		Params:   params,
		LockTTL:  a.cfg.LockTTL,
		Skips:    a.metrics,
	}
	if a.lock != nil {
		cfg.Locker = a.lock
		cfg.State = a.tracker
	}
	return scheduler.New(a.pipeline, cfg)
}

func (a *app) notifier() notification.Notifier {
	multi := notification.Multi{notification.NewLogNotifier()}
	if a.cfg.TelegramBotToken != "" && a.cfg.TelegramChatID != "" {
		multi = append(multi, notification.NewTelegramNotifier(a.cfg.TelegramBotToken, a.cfg.TelegramChatID))
	}
	if a.cfg.WebhookURL != "" {
		multi = append(multi, notification.NewWebhookNotifier(a.cfg.WebhookURL, "signalbot:"+a.cfg.Strategy.Symbol))
	}
	return multi
}

// Close releases the Redis connection and disconnects WS clients.
func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			slog.Warn("redis close failed", "error", err)
		}
		a.rdb = nil
	}
}
