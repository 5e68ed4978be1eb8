package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"hype-hunter/internal/domain"
	"hype-hunter/internal/infra/metrics"
)

// ChangeHandler получает результат опроса, на котором что-то изменилось.
// Диспетчер уведомлений подписывается сюда: «стоит ли слать» выводится
// только из флагов конкретной проверки, а не из повторного сканирования
// исторических снимков.
type ChangeHandler interface {
	HandleStockChange(ctx context.Context, item domain.StockItem, diff domain.StockDiff)
}

// Service сравнивает свежие наблюдения со снимками наличия.
type Service struct {
	stock     domain.StockRepo
	retailers domain.RetailerRepo
	handler   ChangeHandler
	log       zerolog.Logger
}

// NewService создаёт сервис опросов. handler может быть nil.
func NewService(stock domain.StockRepo, retailers domain.RetailerRepo, handler ChangeHandler, logger zerolog.Logger) *Service {
	return &Service{stock: stock, retailers: retailers, handler: handler, log: logger}
}

// RecordObservation применяет свежее наблюдение к снимку (product, retailer, URL).
// Строка журнала stock_checks пишется всегда, по одной на попытку опроса;
// снимок обновляется на месте только когда что-то изменилось. Неудачный опрос
// (Err заполнен) даёт строку журнала с error_message, флаги изменений false
// и инкремент счётчика сбоев магазина.
func (s *Service) RecordObservation(ctx context.Context, stockItemID string, obs domain.StockObservation) (domain.StockDiff, error) {
	item, err := s.stock.GetStockItem(ctx, stockItemID)
	if err != nil {
		return domain.StockDiff{}, fmt.Errorf("снимок наличия: %w", err)
	}

	now := time.Now().UTC()

	if obs.Err != nil {
		check := domain.StockCheck{
			StockItemID:   item.ID,
			Status:        item.Status,
			Price:         item.Price,
			CheckedAt:     now,
			CheckDuration: obs.Duration,
			ErrorMessage:  obs.Err.Error(),
		}
		if _, err := s.stock.AppendStockCheck(ctx, check); err != nil {
			return domain.StockDiff{}, fmt.Errorf("журнал опросов: %w", err)
		}
		if err := s.retailers.RecordCheckResult(ctx, item.RetailerID, false); err != nil {
			s.log.Warn().Err(err).Str("retailer", item.RetailerID).Msg("опрос: не удалось обновить счётчик сбоев")
		}
		metrics.ObserveStockCheck("error", false)
		return domain.StockDiff{}, nil
	}

	diff := Diff(item, obs)

	check := domain.StockCheck{
		StockItemID:   item.ID,
		Status:        obs.Status,
		Sizes:         obs.Sizes,
		Price:         obs.Price,
		StatusChanged: diff.StatusChanged,
		SizesChanged:  diff.SizesChanged,
		PriceChanged:  diff.PriceChanged,
		CheckedAt:     now,
		CheckDuration: obs.Duration,
	}
	if _, err := s.stock.AppendStockCheck(ctx, check); err != nil {
		return domain.StockDiff{}, fmt.Errorf("журнал опросов: %w", err)
	}

	item.LastChecked = &now
	if diff.Changed() {
		item.Status = obs.Status
		item.Sizes = obs.Sizes
		item.Price = obs.Price
		if diff.StatusChanged {
			item.LastStatusChange = &now
		}
	}
	if err := s.stock.UpdateStockSnapshot(ctx, item); err != nil {
		return domain.StockDiff{}, fmt.Errorf("обновление снимка: %w", err)
	}

	if err := s.retailers.RecordCheckResult(ctx, item.RetailerID, true); err != nil {
		s.log.Warn().Err(err).Str("retailer", item.RetailerID).Msg("опрос: не удалось сбросить счётчик сбоев")
	}

	metrics.ObserveStockCheck(string(obs.Status), diff.Changed())

	if diff.Changed() && s.handler != nil {
		s.handler.HandleStockChange(ctx, item, diff)
	}
	return diff, nil
}

// RecordObservationByURL применяет наблюдение к снимку, найденному по паре
// (магазин, URL). Адаптеры магазинов знают страницу товара, а не наш id.
func (s *Service) RecordObservationByURL(ctx context.Context, retailerID, url string, obs domain.StockObservation) (domain.StockDiff, error) {
	item, err := s.stock.GetStockItemByURL(ctx, retailerID, url)
	if err != nil {
		return domain.StockDiff{}, fmt.Errorf("снимок наличия по URL: %w", err)
	}
	return s.RecordObservation(ctx, item.ID, obs)
}

// Diff сравнивает снимок с наблюдением по трём полям.
func Diff(item domain.StockItem, obs domain.StockObservation) domain.StockDiff {
	return domain.StockDiff{
		StatusChanged: obs.Status != item.Status,
		SizesChanged:  !sameSizes(item.Sizes, obs.Sizes),
		PriceChanged:  !samePrice(item.Price, obs.Price),
		PrevStatus:    item.Status,
		PrevPrice:     item.Price,
	}
}

// sameSizes сравнивает наборы размеров по значению пар (uk, in_stock);
// порядок не важен, добавление, удаление и переворот in_stock — изменение.
func sameSizes(a, b []domain.SizeAvailability) bool {
	if len(a) != len(b) {
		return false
	}
	type key struct {
		uk      float64
		inStock bool
	}
	counts := make(map[key]int, len(a))
	for _, size := range a {
		counts[key{size.UK, size.InStock}]++
	}
	for _, size := range b {
		k := key{size.UK, size.InStock}
		counts[k]--
		if counts[k] < 0 {
			return false
		}
	}
	return true
}

// samePrice трактует nil как отличный от любого числа.
func samePrice(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
