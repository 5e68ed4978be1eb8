package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Telegram struct {
		Token string `envconfig:"TG_BOT_TOKEN"`
	} `envconfig:""`

	Ingest struct {
		AutoApproveThreshold int `envconfig:"INGEST_AUTO_APPROVE_THRESHOLD" default:"85"`
		CandidateLimit       int `envconfig:"INGEST_CANDIDATE_LIMIT" default:"10"`
	} `envconfig:""`

	Alerts struct {
		PriceDropThreshold float64       `envconfig:"ALERT_PRICE_DROP_THRESHOLD" default:"0.1"`
		DedupWindow        time.Duration `envconfig:"ALERT_DEDUP_WINDOW" default:"6h"`
		DigestHour         int           `envconfig:"ALERT_DIGEST_HOUR" default:"9"`
	} `envconfig:""`

	Hype struct {
		SocialWeight   float64       `envconfig:"HYPE_WEIGHT_SOCIAL" default:"0.2"`
		ResaleWeight   float64       `envconfig:"HYPE_WEIGHT_RESALE" default:"0.2"`
		TrendsWeight   float64       `envconfig:"HYPE_WEIGHT_TRENDS" default:"0.2"`
		ScarcityWeight float64       `envconfig:"HYPE_WEIGHT_SCARCITY" default:"0.2"`
		BrandWeight    float64       `envconfig:"HYPE_WEIGHT_BRAND" default:"0.2"`
		RecomputeEvery time.Duration `envconfig:"HYPE_RECOMPUTE_EVERY" default:"6h"`
		TrendWindow    time.Duration `envconfig:"HYPE_TREND_WINDOW" default:"168h"`
	} `envconfig:""`

	Queues struct {
		Alerts string `envconfig:"ALERT_QUEUE_KEY" default:"alert_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
