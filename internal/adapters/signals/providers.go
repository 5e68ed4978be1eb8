// Package signals реализует поставщиков компонент хайп-скора поверх
// временных рядов хранилища. Внешние коллекторы (соцсети, ресейл, тренды)
// лишь пополняют ряды; нормализация к 0..100 живёт здесь.
package signals

import (
	"context"
	"errors"
	"math"
	"time"

	"hype-hunter/internal/domain"
)

// StoreSignals реализует все пять поставщиков компонент.
type StoreSignals struct {
	hype   domain.HypeRepo
	stock  domain.StockRepo
	brands domain.BrandRepo
}

var _ domain.SocialProvider = (*StoreSignals)(nil)
var _ domain.ResaleProvider = (*StoreSignals)(nil)
var _ domain.TrendsProvider = (*StoreSignals)(nil)
var _ domain.ScarcityProvider = (*StoreSignals)(nil)
var _ domain.BrandHeatProvider = (*StoreSignals)(nil)

// NewStoreSignals создаёт поставщиков поверх хранилища.
func NewStoreSignals(hype domain.HypeRepo, stock domain.StockRepo, brands domain.BrandRepo) *StoreSignals {
	return &StoreSignals{hype: hype, stock: stock, brands: brands}
}

// SocialComponent нормализует последние соц-упоминания логарифмической шкалой:
// 10^4 суммарных упоминаний соответствуют 100 баллам.
func (s *StoreSignals) SocialComponent(ctx context.Context, productID string) (float64, *domain.SocialRawStats, error) {
	signal, err := s.hype.LatestSocialSignal(ctx, productID)
	if err != nil {
		return 0, nil, err
	}
	raw := &domain.SocialRawStats{
		Twitter: signal.TwitterMentions,
		Reddit:  signal.RedditMentions,
		TikTok:  signal.TikTokMentions,
	}
	total := signal.TwitterMentions + signal.RedditMentions + signal.TikTokMentions
	if total <= 0 {
		return 0, raw, nil
	}
	score := math.Log10(float64(total)+1) * 25
	return math.Min(score, 100), raw, nil
}

// ResaleComponent оценивает премию ресейла над ритейлом: премия 100%
// и выше даёт 100 баллов.
func (s *StoreSignals) ResaleComponent(ctx context.Context, productID string) (float64, *domain.ResaleRawStats, error) {
	point, err := s.hype.LatestPriceHistory(ctx, productID)
	if err != nil {
		return 0, nil, err
	}
	raw := &domain.ResaleRawStats{}
	if point.StockXPrice != nil {
		raw.StockX = *point.StockXPrice
	}
	if point.GoatPrice != nil {
		raw.Goat = *point.GoatPrice
	}
	if point.RetailPrice != nil {
		raw.Retail = *point.RetailPrice
	}
	if point.ResalePremiumPct == nil {
		return 0, raw, nil
	}
	premium := *point.ResalePremiumPct
	if premium <= 0 {
		return 0, raw, nil
	}
	return math.Min(premium, 100), raw, nil
}

// TrendsComponent читает последнюю компоненту трендов из предыдущей записи
// ряда: поисковый коллектор пишет её при своём прогоне.
func (s *StoreSignals) TrendsComponent(ctx context.Context, productID string) (float64, error) {
	latest, err := s.hype.LatestHypeScoreBefore(ctx, productID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return latest.Components.Trends, nil
}

// ScarcityComponent оценивает дефицит по снимкам наличия: чем меньше доля
// доступных размеров по магазинам, тем выше балл.
func (s *StoreSignals) ScarcityComponent(ctx context.Context, productID string) (float64, error) {
	items, err := s.stock.ListStockItemsForProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		// Товар нигде не отслеживается: дефицит неизвестен, не завышаем.
		return 50, nil
	}
	var total, available float64
	for _, item := range items {
		if len(item.Sizes) == 0 {
			total++
			if item.Status == domain.StockInStock {
				available++
			}
			continue
		}
		for _, size := range item.Sizes {
			total++
			if size.InStock {
				available++
			}
		}
	}
	if total == 0 {
		return 50, nil
	}
	return (1 - available/total) * 100, nil
}

// BrandComponent возвращает «горячесть» бренда товара.
func (s *StoreSignals) BrandComponent(ctx context.Context, product domain.Product) (float64, error) {
	if product.BrandID == nil {
		return 0, nil
	}
	brand, err := s.brands.GetBrand(ctx, *product.BrandID)
	if err != nil {
		return 0, err
	}
	return float64(brand.HeatScore), nil
}
