package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound возвращается хранилищем, когда записи нет. Это нормальный
// результат, а не исключительная ситуация.
var ErrNotFound = errors.New("запись не найдена")

// ErrDuplicate возвращается хранилищем при нарушении уникального ключа.
// Для идемпотентных созданий трактуется как «уже существует».
var ErrDuplicate = errors.New("запись уже существует")

// BrandRepo управляет брендами.
type BrandRepo interface {
	GetBrand(ctx context.Context, id string) (Brand, error)
	GetBrandBySlug(ctx context.Context, slug string) (Brand, error)
	CreateBrand(ctx context.Context, brand Brand) (Brand, error)
}

// SourceRepo управляет источниками находок.
type SourceRepo interface {
	GetSourceByScraperID(ctx context.Context, scraperID string) (Source, error)
	CreateSource(ctx context.Context, source Source) (Source, error)
	// RecordScrapeResult обновляет счётчик подряд идущих сбоев и отметку
	// последнего успешного прогона.
	RecordScrapeResult(ctx context.Context, sourceID string, ok bool) error
}

// ProductRepo управляет карточками товаров.
type ProductRepo interface {
	// SearchProductsByName ищет кандидатов по подстроке нормализованного имени.
	SearchProductsByName(ctx context.Context, fragment string, limit int) ([]Product, error)
	CreateProduct(ctx context.Context, product Product) (Product, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	UpdateProductHype(ctx context.Context, productID string, score int, at time.Time) error
	// ListDiscoveredSince возвращает одобренные товары, заведённые после since,
	// по убыванию хайп-скора.
	ListDiscoveredSince(ctx context.Context, since time.Time, limit int) ([]Product, error)
	ListReleasingBetween(ctx context.Context, from, to time.Time) ([]Product, error)
}

// ProvenanceRepo хранит связи «источник — товар».
type ProvenanceRepo interface {
	// LinkProductSource создаёт связь, если её ещё нет. Повторный вызов — no-op.
	LinkProductSource(ctx context.Context, link ProductSource) error
	ListProductSourceNames(ctx context.Context, productID string) ([]string, error)
}

// RetailerRepo управляет магазинами.
type RetailerRepo interface {
	GetRetailer(ctx context.Context, id string) (Retailer, error)
	RecordCheckResult(ctx context.Context, retailerID string, ok bool) error
}

// StockRepo управляет снимками наличия и журналом опросов.
type StockRepo interface {
	GetStockItem(ctx context.Context, id string) (StockItem, error)
	GetStockItemByURL(ctx context.Context, retailerID, url string) (StockItem, error)
	ListStockItemsForProduct(ctx context.Context, productID string) ([]StockItem, error)
	// UpdateStockSnapshot перезаписывает мутабельный снимок текущего состояния.
	UpdateStockSnapshot(ctx context.Context, item StockItem) error
	// AppendStockCheck добавляет событие опроса в append-only журнал.
	AppendStockCheck(ctx context.Context, check StockCheck) (StockCheck, error)
}

// HypeRepo хранит временные ряды сигналов.
type HypeRepo interface {
	AppendHypeScore(ctx context.Context, score HypeScore) (HypeScore, error)
	// LatestHypeScoreBefore возвращает последнюю запись строго до before.
	LatestHypeScoreBefore(ctx context.Context, productID string, before time.Time) (HypeScore, error)
	AppendPriceHistory(ctx context.Context, point PriceHistory) error
	LatestPriceHistory(ctx context.Context, productID string) (PriceHistory, error)
	AppendSocialSignal(ctx context.Context, signal SocialSignal) error
	LatestSocialSignal(ctx context.Context, productID string) (SocialSignal, error)
}

// AlertRepo хранит отправленные уведомления.
type AlertRepo interface {
	CreateAlert(ctx context.Context, alert Alert) (Alert, error)
}

// Watcher — получатель со своей записью списка наблюдения.
type Watcher struct {
	Prefs UserPreferences
	Item  WatchlistItem
}

// UserRepo выдаёт получателей уведомлений. Настройки принадлежат дашборду,
// ядро их не мутирует.
type UserRepo interface {
	ListWatchers(ctx context.Context, productID string) ([]Watcher, error)
	ListInstantRecipients(ctx context.Context) ([]UserPreferences, error)
	ListDigestRecipients(ctx context.Context) ([]UserPreferences, error)
	GetPreferences(ctx context.Context, userID string) (UserPreferences, error)
}

// Notifier — транспорт уведомлений: доставляет готовый текст получателю.
// Возвращает идентификатор сообщения у транспорта.
type Notifier interface {
	Send(ctx context.Context, chatID, text string) (string, error)
}

// Cache используется для простых TTL-хранилищ (окна дедупликации, суточные замки).
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

// SocialProvider нормализует социальный сигнал товара к 0..100.
type SocialProvider interface {
	SocialComponent(ctx context.Context, productID string) (float64, *SocialRawStats, error)
}

// ResaleProvider нормализует ресейл-сигнал товара к 0..100.
type ResaleProvider interface {
	ResaleComponent(ctx context.Context, productID string) (float64, *ResaleRawStats, error)
}

// TrendsProvider нормализует поисковый тренд товара к 0..100.
type TrendsProvider interface {
	TrendsComponent(ctx context.Context, productID string) (float64, error)
}

// ScarcityProvider оценивает дефицит по снимкам наличия, 0..100.
type ScarcityProvider interface {
	ScarcityComponent(ctx context.Context, productID string) (float64, error)
}

// BrandHeatProvider оценивает «горячесть» бренда товара, 0..100.
type BrandHeatProvider interface {
	BrandComponent(ctx context.Context, product Product) (float64, error)
}
