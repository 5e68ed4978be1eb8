package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"hype-hunter/internal/adapters/repo"
	"hype-hunter/internal/adapters/signals"
	"hype-hunter/internal/adapters/telegram"
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

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "alerter")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("alerter: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("alerter: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	var alertQueue domain.AlertQueue
	if cfg.RabbitURL != "" {
		rabbitQueue, err := queue.NewRabbitAlertQueue(cfg.RabbitURL, cfg.Queues.Alerts)
		if err != nil {
			logger.Fatal().Err(err).Msg("alerter: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbitQueue.Close()
		alertQueue = rabbitQueue
	} else {
		alertQueue = queue.NewRedisAlertQueue(redisClient, cfg.Queues.Alerts)
	}

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("alerter: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("alerter: не удалось создать бота")
	}
	notifier := telegram.NewNotifier(botAPI, logger.With().Str("component", "telegram").Logger())

	providers := signals.NewStoreSignals(repoAdapter, repoAdapter, repoAdapter)
	hypeService := hypeusecase.NewService(repoAdapter, repoAdapter, providers, providers, providers, providers, providers,
		hypeWeights(cfg), logger.With().Str("component", "hype").Logger())

	dispatcher := alertsusecase.NewService(alertsusecase.Deps{
		Products:   repoAdapter,
		Stock:      repoAdapter,
		Retailers:  repoAdapter,
		Provenance: repoAdapter,
		Users:      repoAdapter,
		Alerts:     repoAdapter,
		Queue:      alertQueue,
		Cache:      cache.NewRedis(redisClient),
		Notifier:   notifier,
		Trends:     hypeService,
	}, alertsusecase.Config{
		PriceDropThreshold: cfg.Alerts.PriceDropThreshold,
		DedupWindow:        cfg.Alerts.DedupWindow,
		TrendWindow:        cfg.Hype.TrendWindow,
		DigestHour:         cfg.Alerts.DigestHour,
	}, logger.With().Str("component", "alerts").Logger())

	logger.Info().Str("queue", cfg.Queues.Alerts).Msg("alerter: старт")
	runWorker(ctx, logger, alertQueue, dispatcher)
	logger.Info().Msg("alerter: остановка")
}

type delivery struct {
	job domain.AlertJob
	ack domain.AlertAckFunc
}

// runWorker читает очередь и доставляет уведомления. Задачи одного чата
// обрабатываются строго последовательно, разных чатов — параллельно,
// чтобы медленный получатель не задерживал остальных.
func runWorker(ctx context.Context, logger zerolog.Logger, alertQueue domain.AlertQueue, dispatcher *alertsusecase.Service) {
	var wg sync.WaitGroup
	lanes := make(map[string]chan delivery)

	for {
		job, ack, err := alertQueue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				break
			}
			logger.Error().Err(err).Msg("alerter: ошибка чтения очереди")
			continue
		}

		lane, ok := lanes[job.ChatID]
		if !ok {
			lane = make(chan delivery, 16)
			lanes[job.ChatID] = lane
			wg.Add(1)
			go func(lane chan delivery) {
				defer wg.Done()
				for d := range lane {
					err := dispatcher.Deliver(ctx, d.job)
					if err != nil {
						logger.Error().Err(err).Str("job_id", d.job.ID).Msg("alerter: доставка не удалась")
					}
					if d.ack != nil {
						if ackErr := d.ack(err == nil); ackErr != nil {
							logger.Warn().Err(ackErr).Str("job_id", d.job.ID).Msg("alerter: не удалось подтвердить задачу")
						}
					}
				}
			}(lane)
		}

		select {
		case lane <- delivery{job: job, ack: ack}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()
}

func hypeWeights(cfg config.AppConfig) domain.HypeWeights {
	return domain.HypeWeights{
		Social:   cfg.Hype.SocialWeight,
		Resale:   cfg.Hype.ResaleWeight,
		Trends:   cfg.Hype.TrendsWeight,
		Scarcity: cfg.Hype.ScarcityWeight,
		Brand:    cfg.Hype.BrandWeight,
	}
}
