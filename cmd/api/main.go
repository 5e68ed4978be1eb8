package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"hype-hunter/internal/adapters/repo"
	"hype-hunter/internal/adapters/signals"
	"hype-hunter/internal/domain"
	"hype-hunter/internal/infra/cache"
	"hype-hunter/internal/infra/config"
	"hype-hunter/internal/infra/db"
	httpinfra "hype-hunter/internal/infra/http"
	applog "hype-hunter/internal/infra/log"
	"hype-hunter/internal/infra/metrics"
	"hype-hunter/internal/infra/queue"
	alertsusecase "hype-hunter/internal/usecase/alerts"
	hypeusecase "hype-hunter/internal/usecase/hype"
	ingestusecase "hype-hunter/internal/usecase/ingest"
	stockusecase "hype-hunter/internal/usecase/stock"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("api: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	dedupCache := cache.NewRedis(redisClient)

	var alertQueue domain.AlertQueue
	if cfg.RabbitURL != "" {
		rabbitQueue, err := queue.NewRabbitAlertQueue(cfg.RabbitURL, cfg.Queues.Alerts)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbitQueue.Close()
		alertQueue = rabbitQueue
	} else {
		alertQueue = queue.NewRedisAlertQueue(redisClient, cfg.Queues.Alerts)
	}

	dispatcher := alertsusecase.NewService(alertsusecase.Deps{
		Products:   repoAdapter,
		Stock:      repoAdapter,
		Retailers:  repoAdapter,
		Provenance: repoAdapter,
		Users:      repoAdapter,
		Alerts:     repoAdapter,
		Queue:      alertQueue,
		Cache:      dedupCache,
	}, alertsusecase.Config{
		PriceDropThreshold: cfg.Alerts.PriceDropThreshold,
		DedupWindow:        cfg.Alerts.DedupWindow,
		TrendWindow:        cfg.Hype.TrendWindow,
		DigestHour:         cfg.Alerts.DigestHour,
	}, logger.With().Str("component", "alerts").Logger())

	ingestService := ingestusecase.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, dispatcher,
		logger.With().Str("component", "ingest").Logger(), cfg.Ingest.CandidateLimit)
	stockService := stockusecase.NewService(repoAdapter, repoAdapter, dispatcher,
		logger.With().Str("component", "stock").Logger())

	providers := signals.NewStoreSignals(repoAdapter, repoAdapter, repoAdapter)
	hypeService := hypeusecase.NewService(repoAdapter, repoAdapter, providers, providers, providers, providers, providers,
		domain.HypeWeights{
			Social:   cfg.Hype.SocialWeight,
			Resale:   cfg.Hype.ResaleWeight,
			Trends:   cfg.Hype.TrendsWeight,
			Scarcity: cfg.Hype.ScarcityWeight,
			Brand:    cfg.Hype.BrandWeight,
		}, logger.With().Str("component", "hype").Logger())

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	server.Router.Route("/api/v1", func(r chi.Router) {
		r.Post("/discoveries", handleDiscoveries(ingestService, cfg.Ingest.AutoApproveThreshold))
		r.Post("/stock-items/{id}/observations", handleObservation(stockService))
		r.Post("/retailers/{id}/observations", handleRetailerObservation(stockService))
		r.Post("/products/{id}/signals", handleSocialSignal(hypeService))
		r.Post("/products/{id}/prices", handlePriceHistory(hypeService))
	})

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен с ошибкой")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// discoveriesRequest — пакет находок одного скрейпера.
type discoveriesRequest struct {
	ScraperID   string                   `json:"scraper_id"`
	SourceName  string                   `json:"source_name"`
	SourceURL   string                   `json:"source_url,omitempty"`
	SourceType  domain.SourceType        `json:"source_type,omitempty"`
	Discoveries []domain.DiscoveryResult `json:"discoveries"`
}

func handleDiscoveries(svc *ingestusecase.Service, autoApprove int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req discoveriesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "некорректное тело запроса")
			return
		}
		if req.ScraperID == "" {
			writeError(w, http.StatusBadRequest, "scraper_id обязателен")
			return
		}

		sourceID, err := svc.EnsureSource(r.Context(), req.ScraperID, req.SourceName, req.SourceURL, req.SourceType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "не удалось определить источник")
			return
		}
		report, err := svc.SaveDiscoveries(r.Context(), req.Discoveries, ingestusecase.Options{
			SourceID:             sourceID,
			SourceName:           req.SourceName,
			AutoApproveThreshold: autoApprove,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "не удалось обработать пакет")
			return
		}
		writeJSON(w, report)
	}
}

// observationRequest — результат опроса наличия от адаптера магазина.
type observationRequest struct {
	Status       domain.StockStatus        `json:"status"`
	Sizes        []domain.SizeAvailability `json:"sizes"`
	Price        *float64                  `json:"price,omitempty"`
	DurationMS   int64                     `json:"duration_ms,omitempty"`
	ErrorMessage string                    `json:"error_message,omitempty"`
}

func (req observationRequest) observation() domain.StockObservation {
	obs := domain.StockObservation{
		Status:   req.Status,
		Sizes:    req.Sizes,
		Price:    req.Price,
		Duration: time.Duration(req.DurationMS) * time.Millisecond,
	}
	if req.ErrorMessage != "" {
		obs.Err = errors.New(req.ErrorMessage)
	}
	return obs
}

func handleObservation(svc *stockusecase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req observationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "некорректное тело запроса")
			return
		}
		diff, err := svc.RecordObservation(r.Context(), chi.URLParam(r, "id"), req.observation())
		writeObservationResult(w, diff, err)
	}
}

// retailerObservationRequest — наблюдение адаптера, знающего страницу
// товара в магазине, а не наш идентификатор снимка.
type retailerObservationRequest struct {
	URL string `json:"url"`
	observationRequest
}

func handleRetailerObservation(svc *stockusecase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req retailerObservationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "некорректное тело запроса")
			return
		}
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, "url обязателен")
			return
		}
		diff, err := svc.RecordObservationByURL(r.Context(), chi.URLParam(r, "id"), req.URL, req.observation())
		writeObservationResult(w, diff, err)
	}
}

func writeObservationResult(w http.ResponseWriter, diff domain.StockDiff, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "снимок наличия не найден")
			return
		}
		writeError(w, http.StatusInternalServerError, "не удалось применить наблюдение")
		return
	}
	writeJSON(w, map[string]any{
		"status_changed": diff.StatusChanged,
		"sizes_changed":  diff.SizesChanged,
		"price_changed":  diff.PriceChanged,
	})
}

// socialSignalRequest — срез соц-упоминаний товара от коллектора.
type socialSignalRequest struct {
	TwitterMentions int      `json:"twitter_mentions"`
	RedditMentions  int      `json:"reddit_mentions"`
	TikTokMentions  int      `json:"tiktok_mentions"`
	AvgSentiment    *float64 `json:"avg_sentiment,omitempty"`
}

func handleSocialSignal(svc *hypeusecase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req socialSignalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "некорректное тело запроса")
			return
		}
		err := svc.RecordSocialSignal(r.Context(), domain.SocialSignal{
			ProductID:       chi.URLParam(r, "id"),
			TwitterMentions: req.TwitterMentions,
			RedditMentions:  req.RedditMentions,
			TikTokMentions:  req.TikTokMentions,
			AvgSentiment:    req.AvgSentiment,
		})
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "товар не найден")
				return
			}
			writeError(w, http.StatusInternalServerError, "не удалось сохранить сигнал")
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

// priceHistoryRequest — ценовая точка от коллектора ресейл-площадок.
type priceHistoryRequest struct {
	RetailPrice      *float64 `json:"retail_price,omitempty"`
	StockXPrice      *float64 `json:"stockx_price,omitempty"`
	GoatPrice        *float64 `json:"goat_price,omitempty"`
	AvgResalePrice   *float64 `json:"avg_resale_price,omitempty"`
	ResalePremiumPct *float64 `json:"resale_premium_pct,omitempty"`
}

func handlePriceHistory(svc *hypeusecase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req priceHistoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "некорректное тело запроса")
			return
		}
		err := svc.RecordPriceHistory(r.Context(), domain.PriceHistory{
			ProductID:        chi.URLParam(r, "id"),
			RetailPrice:      req.RetailPrice,
			StockXPrice:      req.StockXPrice,
			GoatPrice:        req.GoatPrice,
			AvgResalePrice:   req.AvgResalePrice,
			ResalePremiumPct: req.ResalePremiumPct,
		})
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "товар не найден")
				return
			}
			writeError(w, http.StatusInternalServerError, "не удалось сохранить ценовую точку")
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
