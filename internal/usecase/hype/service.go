package hype

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"hype-hunter/internal/domain"
	"hype-hunter/internal/infra/metrics"
)

// Service агрегирует взвешенные компоненты в единый хайп-скор.
// Каждый поставщик нормализует свой сигнал к 0..100 самостоятельно.
type Service struct {
	products domain.ProductRepo
	scores   domain.HypeRepo
	social   domain.SocialProvider
	resale   domain.ResaleProvider
	trends   domain.TrendsProvider
	scarcity domain.ScarcityProvider
	brand    domain.BrandHeatProvider
	weights  domain.HypeWeights
	log      zerolog.Logger
}

// NewService создаёт агрегатор.
func NewService(products domain.ProductRepo, scores domain.HypeRepo, social domain.SocialProvider, resale domain.ResaleProvider, trends domain.TrendsProvider, scarcity domain.ScarcityProvider, brand domain.BrandHeatProvider, weights domain.HypeWeights, logger zerolog.Logger) *Service {
	return &Service{products: products, scores: scores, social: social, resale: resale, trends: trends, scarcity: scarcity, brand: brand, weights: weights, log: logger}
}

// Recompute пересчитывает хайп-скор товара: пишет одну строку временного ряда
// с сырой разбивкой компонент и обновляет кэш на карточке. Временной ряд —
// источник истины, кэш лишь ускоряет чтение. Недоступный поставщик даёт
// нулевую компоненту, а не ошибку пересчёта.
func (s *Service) Recompute(ctx context.Context, productID string) (domain.HypeScore, error) {
	start := time.Now()
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return domain.HypeScore{}, fmt.Errorf("карточка товара: %w", err)
	}

	components := s.collect(ctx, product)
	total := s.weights.Total(components)

	score, err := s.scores.AppendHypeScore(ctx, domain.HypeScore{
		ProductID:  product.ID,
		TotalScore: total,
		Components: components,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.HypeScore{}, fmt.Errorf("запись временного ряда: %w", err)
	}

	if err := s.products.UpdateProductHype(ctx, product.ID, total, score.RecordedAt); err != nil {
		// Кэш догонит при следующем пересчёте.
		s.log.Warn().Err(err).Str("product", product.ID).Msg("хайп: не удалось обновить кэш карточки")
	}

	metrics.HypeRecomputeSeconds.Observe(time.Since(start).Seconds())
	return score, nil
}

// RecordSocialSignal сохраняет точку ряда соц-упоминаний. Вызывается
// ингрессом коллекторов; компонент Social читает последнюю точку ряда.
func (s *Service) RecordSocialSignal(ctx context.Context, signal domain.SocialSignal) error {
	if _, err := s.products.GetProduct(ctx, signal.ProductID); err != nil {
		return fmt.Errorf("карточка товара: %w", err)
	}
	if err := s.scores.AppendSocialSignal(ctx, signal); err != nil {
		return fmt.Errorf("запись соц-сигнала: %w", err)
	}
	return nil
}

// RecordPriceHistory сохраняет ценовую точку. Премию ресейла досчитывает
// по средней ресейл-цене (или StockX), если коллектор её не передал.
func (s *Service) RecordPriceHistory(ctx context.Context, point domain.PriceHistory) error {
	if _, err := s.products.GetProduct(ctx, point.ProductID); err != nil {
		return fmt.Errorf("карточка товара: %w", err)
	}
	if point.ResalePremiumPct == nil && point.RetailPrice != nil && *point.RetailPrice > 0 {
		resale := point.AvgResalePrice
		if resale == nil {
			resale = point.StockXPrice
		}
		if resale != nil {
			premium := (*resale - *point.RetailPrice) / *point.RetailPrice * 100
			point.ResalePremiumPct = &premium
		}
	}
	if err := s.scores.AppendPriceHistory(ctx, point); err != nil {
		return fmt.Errorf("запись ценовой точки: %w", err)
	}
	return nil
}

func (s *Service) collect(ctx context.Context, product domain.Product) domain.HypeComponents {
	var components domain.HypeComponents

	if s.social != nil {
		value, raw, err := s.social.SocialComponent(ctx, product.ID)
		if err != nil {
			s.logComponentError(product.ID, "social", err)
		} else {
			components.Social = clamp(value)
			components.SocialRaw = raw
		}
	}
	if s.resale != nil {
		value, raw, err := s.resale.ResaleComponent(ctx, product.ID)
		if err != nil {
			s.logComponentError(product.ID, "resale", err)
		} else {
			components.Resale = clamp(value)
			components.ResaleRaw = raw
		}
	}
	if s.trends != nil {
		value, err := s.trends.TrendsComponent(ctx, product.ID)
		if err != nil {
			s.logComponentError(product.ID, "trends", err)
		} else {
			components.Trends = clamp(value)
		}
	}
	if s.scarcity != nil {
		value, err := s.scarcity.ScarcityComponent(ctx, product.ID)
		if err != nil {
			s.logComponentError(product.ID, "scarcity", err)
		} else {
			components.Scarcity = clamp(value)
		}
	}
	if s.brand != nil {
		value, err := s.brand.BrandComponent(ctx, product)
		if err != nil {
			s.logComponentError(product.ID, "brand", err)
		} else {
			components.Brand = clamp(value)
		}
	}
	return components
}

func (s *Service) logComponentError(productID, component string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	s.log.Warn().Err(err).Str("product", productID).Str("component", component).Msg("хайп: поставщик компоненты недоступен")
}

// TrendDelta возвращает изменение хайп-скора относительно записи window назад.
// Используется дайджестом для раздела «растущие».
func (s *Service) TrendDelta(ctx context.Context, productID string, window time.Duration) (int, error) {
	latest, err := s.scores.LatestHypeScoreBefore(ctx, productID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	previous, err := s.scores.LatestHypeScoreBefore(ctx, productID, latest.RecordedAt.Add(-window))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return latest.TotalScore, nil
		}
		return 0, err
	}
	return latest.TotalScore - previous.TotalScore, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
