package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"hype-hunter/internal/adapters/repo"
	"hype-hunter/internal/adapters/signals"
	"hype-hunter/internal/domain"
	"hype-hunter/internal/infra/cache"
	"hype-hunter/internal/infra/config"
	"hype-hunter/internal/infra/db"
	applog "hype-hunter/internal/infra/log"
	"hype-hunter/internal/infra/metrics"
	"hype-hunter/internal/infra/queue"
	alertsusecase "hype-hunter/internal/usecase/alerts"
	hypeusecase "hype-hunter/internal/usecase/hype"
)

// recomputeWindow ограничивает пересчёт хайп-скора недавними товарами:
// по давно заведённым карточкам сигналы всё равно не обновляются.
const recomputeWindow = 30 * 24 * time.Hour

const recomputeBatch = 200

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "scheduler")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("scheduler: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	var alertQueue domain.AlertQueue
	if cfg.RabbitURL != "" {
		rabbitQueue, err := queue.NewRabbitAlertQueue(cfg.RabbitURL, cfg.Queues.Alerts)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbitQueue.Close()
		alertQueue = rabbitQueue
	} else {
		alertQueue = queue.NewRedisAlertQueue(redisClient, cfg.Queues.Alerts)
	}

	providers := signals.NewStoreSignals(repoAdapter, repoAdapter, repoAdapter)
	hypeService := hypeusecase.NewService(repoAdapter, repoAdapter, providers, providers, providers, providers, providers,
		domain.HypeWeights{
			Social:   cfg.Hype.SocialWeight,
			Resale:   cfg.Hype.ResaleWeight,
			Trends:   cfg.Hype.TrendsWeight,
			Scarcity: cfg.Hype.ScarcityWeight,
			Brand:    cfg.Hype.BrandWeight,
		}, logger.With().Str("component", "hype").Logger())

	dispatcher := alertsusecase.NewService(alertsusecase.Deps{
		Products:   repoAdapter,
		Stock:      repoAdapter,
		Retailers:  repoAdapter,
		Provenance: repoAdapter,
		Users:      repoAdapter,
		Alerts:     repoAdapter,
		Queue:      alertQueue,
		Cache:      cache.NewRedis(redisClient),
		Trends:     hypeService,
	}, alertsusecase.Config{
		PriceDropThreshold: cfg.Alerts.PriceDropThreshold,
		DedupWindow:        cfg.Alerts.DedupWindow,
		TrendWindow:        cfg.Hype.TrendWindow,
		DigestHour:         cfg.Alerts.DigestHour,
	}, logger.With().Str("component", "alerts").Logger())

	logger.Info().Dur("recompute_every", cfg.Hype.RecomputeEvery).Msg("scheduler: старт")

	go runDigestLoop(ctx, logger, dispatcher)
	runRecomputeLoop(ctx, logger, repoAdapter, hypeService, cfg.Hype.RecomputeEvery)

	logger.Info().Msg("scheduler: остановка")
}

// runDigestLoop раз в час ставит дайджесты получателям, у которых наступил
// их локальный час отправки. Суточный замок в кэше делает повторные тики
// безвредными.
func runDigestLoop(ctx context.Context, logger zerolog.Logger, dispatcher *alertsusecase.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if err := dispatcher.EnqueueDigests(ctx, time.Now()); err != nil {
			logger.Error().Err(err).Msg("scheduler: постановка дайджестов не удалась")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runRecomputeLoop периодически пересчитывает хайп-скор недавних товаров.
func runRecomputeLoop(ctx context.Context, logger zerolog.Logger, products domain.ProductRepo, hypeService *hypeusecase.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		recomputeRecent(ctx, logger, products, hypeService)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func recomputeRecent(ctx context.Context, logger zerolog.Logger, products domain.ProductRepo, hypeService *hypeusecase.Service) {
	recent, err := products.ListDiscoveredSince(ctx, time.Now().UTC().Add(-recomputeWindow), recomputeBatch)
	if err != nil {
		logger.Error().Err(err).Msg("scheduler: выборка товаров для пересчёта не удалась")
		return
	}
	for _, product := range recent {
		if ctx.Err() != nil {
			return
		}
		if _, err := hypeService.Recompute(ctx, product.ID); err != nil {
			logger.Warn().Err(err).Str("product_id", product.ID).Msg("scheduler: пересчёт хайп-скора не удался")
		}
	}
	logger.Info().Int("count", len(recent)).Msg("scheduler: пересчёт хайп-скора завершён")
}
