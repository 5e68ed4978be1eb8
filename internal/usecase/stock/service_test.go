package stock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hype-hunter/internal/domain"
)

type memStock struct {
	item     domain.StockItem
	checks   []domain.StockCheck
	snapshot *domain.StockItem
}

func (m *memStock) GetStockItem(_ context.Context, id string) (domain.StockItem, error) {
	if id != m.item.ID {
		return domain.StockItem{}, domain.ErrNotFound
	}
	return m.item, nil
}

func (m *memStock) GetStockItemByURL(_ context.Context, retailerID, url string) (domain.StockItem, error) {
	if retailerID != m.item.RetailerID || url != m.item.URL {
		return domain.StockItem{}, domain.ErrNotFound
	}
	return m.item, nil
}

func (m *memStock) ListStockItemsForProduct(_ context.Context, _ string) ([]domain.StockItem, error) {
	return []domain.StockItem{m.item}, nil
}

func (m *memStock) UpdateStockSnapshot(_ context.Context, item domain.StockItem) error {
	m.snapshot = &item
	return nil
}

func (m *memStock) AppendStockCheck(_ context.Context, check domain.StockCheck) (domain.StockCheck, error) {
	m.checks = append(m.checks, check)
	return check, nil
}

type memRetailers struct {
	results []bool
}

func (m *memRetailers) GetRetailer(_ context.Context, _ string) (domain.Retailer, error) {
	return domain.Retailer{}, domain.ErrNotFound
}

func (m *memRetailers) RecordCheckResult(_ context.Context, _ string, ok bool) error {
	m.results = append(m.results, ok)
	return nil
}

type captureHandler struct {
	items []domain.StockItem
	diffs []domain.StockDiff
}

func (c *captureHandler) HandleStockChange(_ context.Context, item domain.StockItem, diff domain.StockDiff) {
	c.items = append(c.items, item)
	c.diffs = append(c.diffs, diff)
}

func ptr(v float64) *float64 { return &v }

func baseItem() domain.StockItem {
	return domain.StockItem{
		ID:         "item-1",
		ProductID:  "product-1",
		RetailerID: "retailer-1",
		URL:        "https://shop.example/air-max-1",
		Status:     domain.StockOutOfStock,
		Sizes:      []domain.SizeAvailability{{UK: 9, InStock: false}},
		Price:      ptr(150),
	}
}

func TestRecordObservationRestock(t *testing.T) {
	store := &memStock{item: baseItem()}
	retailers := &memRetailers{}
	handler := &captureHandler{}
	service := NewService(store, retailers, handler, zerolog.Nop())

	obs := domain.StockObservation{
		Status: domain.StockInStock,
		Sizes:  []domain.SizeAvailability{{UK: 9, InStock: true}},
		Price:  ptr(150),
	}
	diff, err := service.RecordObservation(context.Background(), "item-1", obs)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !diff.StatusChanged || !diff.SizesChanged || diff.PriceChanged {
		t.Fatalf("неожиданный дифф: %+v", diff)
	}
	if !diff.IsRestock(domain.StockInStock) {
		t.Fatalf("переход out_of_stock -> in_stock должен считаться рестоком")
	}

	if store.snapshot == nil || store.snapshot.Status != domain.StockInStock {
		t.Fatalf("снимок должен обновиться на месте: %+v", store.snapshot)
	}
	if store.snapshot.LastStatusChange == nil || store.snapshot.LastChecked == nil {
		t.Fatalf("смена статуса должна проставить отметки времени")
	}
	if len(store.checks) != 1 || !store.checks[0].StatusChanged {
		t.Fatalf("ожидали одну строку журнала с флагом статуса: %+v", store.checks)
	}
	if len(handler.diffs) != 1 {
		t.Fatalf("обработчик изменений должен вызваться один раз")
	}
	if len(retailers.results) != 1 || !retailers.results[0] {
		t.Fatalf("успешный опрос должен сбросить счётчик сбоев магазина")
	}
}

func TestRecordObservationNoChange(t *testing.T) {
	store := &memStock{item: baseItem()}
	handler := &captureHandler{}
	service := NewService(store, &memRetailers{}, handler, zerolog.Nop())

	obs := domain.StockObservation{
		Status: domain.StockOutOfStock,
		Sizes:  []domain.SizeAvailability{{UK: 9, InStock: false}},
		Price:  ptr(150),
	}
	diff, err := service.RecordObservation(context.Background(), "item-1", obs)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if diff.Changed() {
		t.Fatalf("без изменений дифф должен быть пустым: %+v", diff)
	}
	if len(store.checks) != 1 {
		t.Fatalf("строка журнала пишется на каждый опрос, получили %d", len(store.checks))
	}
	if store.snapshot == nil || store.snapshot.LastChecked == nil {
		t.Fatalf("last_checked обновляется и без изменений")
	}
	if store.snapshot.Status != domain.StockOutOfStock || store.snapshot.LastStatusChange != nil {
		t.Fatalf("поля снимка не должны меняться без диффа: %+v", store.snapshot)
	}
	if len(handler.diffs) != 0 {
		t.Fatalf("обработчик не должен вызываться без изменений")
	}
}

func TestRecordObservationSizesReordered(t *testing.T) {
	item := baseItem()
	item.Sizes = []domain.SizeAvailability{{UK: 8, InStock: true}, {UK: 9, InStock: false}}
	store := &memStock{item: item}
	service := NewService(store, &memRetailers{}, nil, zerolog.Nop())

	obs := domain.StockObservation{
		Status: domain.StockOutOfStock,
		Sizes:  []domain.SizeAvailability{{UK: 9, InStock: false}, {UK: 8, InStock: true}},
		Price:  ptr(150),
	}
	diff, err := service.RecordObservation(context.Background(), "item-1", obs)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if diff.SizesChanged {
		t.Fatalf("перестановка размеров не является изменением")
	}
}

func TestRecordObservationFailedFetch(t *testing.T) {
	store := &memStock{item: baseItem()}
	retailers := &memRetailers{}
	handler := &captureHandler{}
	service := NewService(store, retailers, handler, zerolog.Nop())

	obs := domain.StockObservation{
		Err:      errors.New("таймаут магазина"),
		Duration: 3 * time.Second,
	}
	diff, err := service.RecordObservation(context.Background(), "item-1", obs)
	if err != nil {
		t.Fatalf("неудачный опрос не ошибка сервиса: %v", err)
	}
	if diff.Changed() {
		t.Fatalf("неудачный опрос не даёт изменений: %+v", diff)
	}
	if len(store.checks) != 1 {
		t.Fatalf("неудачный опрос тоже попадает в журнал")
	}
	check := store.checks[0]
	if check.ErrorMessage != "таймаут магазина" || check.StatusChanged {
		t.Fatalf("строка журнала должна нести текст ошибки без флагов: %+v", check)
	}
	if check.Status != domain.StockOutOfStock {
		t.Fatalf("при сбое в журнал идёт текущий статус снимка, получили %s", check.Status)
	}
	if store.snapshot != nil {
		t.Fatalf("снимок не должен трогаться при сбое")
	}
	if len(retailers.results) != 1 || retailers.results[0] {
		t.Fatalf("сбой должен инкрементировать счётчик магазина")
	}
	if len(handler.diffs) != 0 {
		t.Fatalf("обработчик не должен вызываться при сбое")
	}
}

func TestRecordObservationUnknownItem(t *testing.T) {
	store := &memStock{item: baseItem()}
	service := NewService(store, &memRetailers{}, nil, zerolog.Nop())
	if _, err := service.RecordObservation(context.Background(), "missing", domain.StockObservation{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func TestRecordObservationByURL(t *testing.T) {
	store := &memStock{item: baseItem()}
	retailers := &memRetailers{}
	service := NewService(store, retailers, nil, zerolog.Nop())

	obs := domain.StockObservation{
		Status: domain.StockInStock,
		Sizes:  []domain.SizeAvailability{{UK: 9, InStock: true}},
		Price:  ptr(150),
	}
	diff, err := service.RecordObservationByURL(context.Background(), "retailer-1", "https://shop.example/air-max-1", obs)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !diff.StatusChanged {
		t.Fatalf("наблюдение по URL должно пройти обычный дифф: %+v", diff)
	}
	if len(store.checks) != 1 {
		t.Fatalf("ожидали одну строку журнала, получили %d", len(store.checks))
	}

	if _, err := service.RecordObservationByURL(context.Background(), "retailer-1", "https://shop.example/unknown", obs); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("неизвестный URL должен давать ErrNotFound, получили %v", err)
	}
}

func TestDiffPriceSemantics(t *testing.T) {
	item := baseItem()

	diff := Diff(item, domain.StockObservation{Status: item.Status, Sizes: item.Sizes, Price: ptr(120)})
	if !diff.PriceChanged {
		t.Fatalf("смена цены должна попадать в дифф")
	}
	if !diff.IsPriceDrop(ptr(120), 0.1) {
		t.Fatalf("падение 150 -> 120 превышает порог 10%%")
	}
	if diff.IsPriceDrop(ptr(149), 0.1) {
		t.Fatalf("падение меньше порога не должно считаться price drop")
	}

	diff = Diff(item, domain.StockObservation{Status: item.Status, Sizes: item.Sizes, Price: nil})
	if !diff.PriceChanged {
		t.Fatalf("пропажа цены отличается от любого числа")
	}
	if diff.IsPriceDrop(nil, 0.1) {
		t.Fatalf("nil не может быть падением цены")
	}
}
