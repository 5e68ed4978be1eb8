package alerts

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hype-hunter/internal/domain"
)

type memQueue struct {
	jobs []domain.AlertJob
}

func (m *memQueue) Enqueue(_ context.Context, job domain.AlertJob) error {
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *memQueue) Receive(_ context.Context) (domain.AlertJob, domain.AlertAckFunc, error) {
	return domain.AlertJob{}, nil, domain.ErrNotFound
}

type memCache struct {
	keys map[string]bool
}

func newMemCache() *memCache { return &memCache{keys: map[string]bool{}} }

func (m *memCache) Once(key string, _ time.Duration, fn func() error) error {
	if m.keys[key] {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	m.keys[key] = true
	return nil
}

func (m *memCache) Set(_ string, _ []byte, _ time.Duration) error { return nil }
func (m *memCache) Get(_ string) ([]byte, error)                  { return nil, domain.ErrNotFound }

type stubStores struct {
	products   map[string]domain.Product
	items      map[string]domain.StockItem
	retailers  map[string]domain.Retailer
	watchers   []domain.Watcher
	recipients []domain.UserPreferences
	digest     []domain.UserPreferences
	prefs      map[string]domain.UserPreferences
	discovered []domain.Product
	releases   []domain.Product
	sources    []string
	alerts     []domain.Alert
}

func (s *stubStores) SearchProductsByName(_ context.Context, _ string, _ int) ([]domain.Product, error) {
	return nil, nil
}

func (s *stubStores) CreateProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	return p, nil
}

func (s *stubStores) GetProduct(_ context.Context, id string) (domain.Product, error) {
	if p, ok := s.products[id]; ok {
		return p, nil
	}
	return domain.Product{}, domain.ErrNotFound
}

func (s *stubStores) UpdateProductHype(_ context.Context, _ string, _ int, _ time.Time) error {
	return nil
}

func (s *stubStores) ListDiscoveredSince(_ context.Context, _ time.Time, limit int) ([]domain.Product, error) {
	if len(s.discovered) > limit {
		return s.discovered[:limit], nil
	}
	return s.discovered, nil
}

func (s *stubStores) ListReleasingBetween(_ context.Context, _, _ time.Time) ([]domain.Product, error) {
	return s.releases, nil
}

func (s *stubStores) GetStockItem(_ context.Context, id string) (domain.StockItem, error) {
	if item, ok := s.items[id]; ok {
		return item, nil
	}
	return domain.StockItem{}, domain.ErrNotFound
}

func (s *stubStores) GetStockItemByURL(_ context.Context, _, _ string) (domain.StockItem, error) {
	return domain.StockItem{}, domain.ErrNotFound
}

func (s *stubStores) ListStockItemsForProduct(_ context.Context, _ string) ([]domain.StockItem, error) {
	return nil, nil
}

func (s *stubStores) UpdateStockSnapshot(_ context.Context, _ domain.StockItem) error { return nil }

func (s *stubStores) AppendStockCheck(_ context.Context, check domain.StockCheck) (domain.StockCheck, error) {
	return check, nil
}

func (s *stubStores) GetRetailer(_ context.Context, id string) (domain.Retailer, error) {
	if r, ok := s.retailers[id]; ok {
		return r, nil
	}
	return domain.Retailer{}, domain.ErrNotFound
}

func (s *stubStores) RecordCheckResult(_ context.Context, _ string, _ bool) error { return nil }

func (s *stubStores) LinkProductSource(_ context.Context, _ domain.ProductSource) error { return nil }

func (s *stubStores) ListProductSourceNames(_ context.Context, _ string) ([]string, error) {
	return s.sources, nil
}

func (s *stubStores) ListWatchers(_ context.Context, _ string) ([]domain.Watcher, error) {
	return s.watchers, nil
}

func (s *stubStores) ListInstantRecipients(_ context.Context) ([]domain.UserPreferences, error) {
	return s.recipients, nil
}

func (s *stubStores) ListDigestRecipients(_ context.Context) ([]domain.UserPreferences, error) {
	return s.digest, nil
}

func (s *stubStores) GetPreferences(_ context.Context, userID string) (domain.UserPreferences, error) {
	if p, ok := s.prefs[userID]; ok {
		return p, nil
	}
	return domain.UserPreferences{}, domain.ErrNotFound
}

func (s *stubStores) CreateAlert(_ context.Context, alert domain.Alert) (domain.Alert, error) {
	s.alerts = append(s.alerts, alert)
	return alert, nil
}

type memNotifier struct {
	chats []string
	texts []string
}

func (m *memNotifier) Send(_ context.Context, chatID, text string) (string, error) {
	m.chats = append(m.chats, chatID)
	m.texts = append(m.texts, text)
	return "msg-1", nil
}

type fixedTrends struct {
	deltas map[string]int
}

func (f *fixedTrends) TrendDelta(_ context.Context, productID string, _ time.Duration) (int, error) {
	if delta, ok := f.deltas[productID]; ok {
		return delta, nil
	}
	return 0, domain.ErrNotFound
}

func instantPrefs(userID, chatID string) domain.UserPreferences {
	return domain.UserPreferences{
		UserID:         userID,
		TelegramChatID: chatID,
		Timezone:       "UTC",
		Settings:       domain.AlertSettings{InstantAlerts: true},
	}
}

func watcher(userID, chatID, productID string) domain.Watcher {
	return domain.Watcher{
		Prefs: instantPrefs(userID, chatID),
		Item:  domain.WatchlistItem{UserID: userID, ProductID: productID, AlertOnRestock: true, AlertOnPriceDrop: true},
	}
}

func newTestDispatcher(stores *stubStores, queue *memQueue, cacheStore *memCache, notifier *memNotifier, trends TrendSource) *Service {
	deps := Deps{
		Products:   stores,
		Stock:      stores,
		Retailers:  stores,
		Provenance: stores,
		Users:      stores,
		Alerts:     stores,
		Queue:      queue,
		Cache:      cacheStore,
		Trends:     trends,
	}
	if notifier != nil {
		deps.Notifier = notifier
	}
	cfg := Config{PriceDropThreshold: 0.1, DedupWindow: 6 * time.Hour, TrendWindow: 7 * 24 * time.Hour, DigestHour: 9}
	return NewService(deps, cfg, zerolog.Nop())
}

func restockScenario() (*stubStores, domain.StockItem, domain.StockDiff) {
	item := domain.StockItem{
		ID:         "item-1",
		ProductID:  "product-1",
		RetailerID: "retailer-1",
		Status:     domain.StockInStock,
		Sizes:      []domain.SizeAvailability{{UK: 9, InStock: true}},
		Price:      price(150),
	}
	stores := &stubStores{
		products: map[string]domain.Product{
			"product-1": {ID: "product-1", Name: "Nike Air Max 1", Category: domain.CategorySneakers, HypeScore: 80, Status: domain.ProductApproved},
		},
		items:     map[string]domain.StockItem{"item-1": item},
		retailers: map[string]domain.Retailer{"retailer-1": {ID: "retailer-1", Name: "Size?"}},
		watchers:  []domain.Watcher{watcher("user-1", "100500", "product-1")},
		prefs:     map[string]domain.UserPreferences{"user-1": instantPrefs("user-1", "100500")},
	}
	diff := domain.StockDiff{StatusChanged: true, PrevStatus: domain.StockOutOfStock}
	return stores, item, diff
}

func TestHandleStockChangeRestock(t *testing.T) {
	stores, item, diff := restockScenario()
	queue := &memQueue{}
	service := newTestDispatcher(stores, queue, newMemCache(), nil, nil)

	service.HandleStockChange(context.Background(), item, diff)

	if len(queue.jobs) != 1 {
		t.Fatalf("ожидали одну задачу, получили %d", len(queue.jobs))
	}
	job := queue.jobs[0]
	if job.Type != domain.AlertRestock || job.StockItemID != "item-1" || job.ChatID != "100500" {
		t.Fatalf("неожиданная задача: %+v", job)
	}
}

func TestHandleStockChangeDeduplicates(t *testing.T) {
	stores, item, diff := restockScenario()
	queue := &memQueue{}
	service := newTestDispatcher(stores, queue, newMemCache(), nil, nil)

	service.HandleStockChange(context.Background(), item, diff)
	service.HandleStockChange(context.Background(), item, diff)

	if len(queue.jobs) != 1 {
		t.Fatalf("окно дедупликации должно подавить повтор, получили %d задач", len(queue.jobs))
	}
}

func TestHandleStockChangeFilters(t *testing.T) {
	makeService := func(mutate func(*stubStores)) *memQueue {
		stores, item, diff := restockScenario()
		mutate(stores)
		queue := &memQueue{}
		service := newTestDispatcher(stores, queue, newMemCache(), nil, nil)
		service.HandleStockChange(context.Background(), item, diff)
		return queue
	}

	queue := makeService(func(s *stubStores) {
		w := s.watchers[0]
		w.Prefs.Settings.MinHypeScore = 90
		s.watchers[0] = w
	})
	if len(queue.jobs) != 0 {
		t.Fatalf("хайп ниже порога получателя должен подавлять уведомление")
	}

	queue = makeService(func(s *stubStores) {
		w := s.watchers[0]
		w.Prefs.Settings.Categories = []domain.ProductCategory{domain.CategoryToys}
		s.watchers[0] = w
	})
	if len(queue.jobs) != 0 {
		t.Fatalf("чужая категория должна подавлять уведомление")
	}

	queue = makeService(func(s *stubStores) {
		w := s.watchers[0]
		w.Prefs.Settings.QuietHours = &domain.QuietHours{Start: "00:00", End: "23:59"}
		s.watchers[0] = w
	})
	if len(queue.jobs) != 0 {
		t.Fatalf("окно тишины должно подавлять мгновенные уведомления")
	}

	queue = makeService(func(s *stubStores) {
		w := s.watchers[0]
		w.Item.AlertOnRestock = false
		s.watchers[0] = w
	})
	if len(queue.jobs) != 0 {
		t.Fatalf("выключенный флаг рестока должен подавлять уведомление")
	}

	queue = makeService(func(s *stubStores) {
		p := s.products["product-1"]
		p.Status = domain.ProductPendingReview
		s.products["product-1"] = p
	})
	if len(queue.jobs) != 0 {
		t.Fatalf("неодобренный товар не должен давать уведомлений")
	}
}

func TestHandleStockChangeSizeFilter(t *testing.T) {
	stores, item, diff := restockScenario()
	size := 10.0
	w := stores.watchers[0]
	w.Prefs.Settings.SizeFilter = true
	w.Prefs.Sizes.SneakersUK = &size
	stores.watchers[0] = w
	queue := &memQueue{}
	service := newTestDispatcher(stores, queue, newMemCache(), nil, nil)

	service.HandleStockChange(context.Background(), item, diff)
	if len(queue.jobs) != 0 {
		t.Fatalf("нет нужного размера в наличии, уведомление не должно уходить")
	}

	item.Sizes = append(item.Sizes, domain.SizeAvailability{UK: 10, InStock: true})
	service.HandleStockChange(context.Background(), item, diff)
	if len(queue.jobs) != 1 {
		t.Fatalf("появился нужный размер, уведомление должно уйти")
	}
}

func TestHandleStockChangePriceDrop(t *testing.T) {
	stores, item, _ := restockScenario()
	queue := &memQueue{}
	service := newTestDispatcher(stores, queue, newMemCache(), nil, nil)

	item.Price = price(120)
	diff := domain.StockDiff{PriceChanged: true, PrevStatus: domain.StockInStock, PrevPrice: price(150)}
	service.HandleStockChange(context.Background(), item, diff)

	if len(queue.jobs) != 1 {
		t.Fatalf("падение на 20%% должно давать уведомление, получили %d задач", len(queue.jobs))
	}
	job := queue.jobs[0]
	if job.Type != domain.AlertPriceDrop || *job.OldPrice != 150 || *job.NewPrice != 120 {
		t.Fatalf("неожиданная задача: %+v", job)
	}
}

func TestHandleStockChangeSmallDropBelowThreshold(t *testing.T) {
	stores, item, _ := restockScenario()
	queue := &memQueue{}
	service := newTestDispatcher(stores, queue, newMemCache(), nil, nil)

	item.Price = price(145)
	diff := domain.StockDiff{PriceChanged: true, PrevStatus: domain.StockInStock, PrevPrice: price(150)}
	service.HandleStockChange(context.Background(), item, diff)
	if len(queue.jobs) != 0 {
		t.Fatalf("падение меньше порога не должно давать уведомлений")
	}
}

func TestHandleStockChangeTargetPriceCrossed(t *testing.T) {
	stores, item, _ := restockScenario()
	w := stores.watchers[0]
	w.Item.TargetPrice = price(148)
	stores.watchers[0] = w
	queue := &memQueue{}
	service := newTestDispatcher(stores, queue, newMemCache(), nil, nil)

	item.Price = price(145)
	diff := domain.StockDiff{PriceChanged: true, PrevStatus: domain.StockInStock, PrevPrice: price(150)}
	service.HandleStockChange(context.Background(), item, diff)
	if len(queue.jobs) != 1 {
		t.Fatalf("пересечение целевой цены должно давать уведомление")
	}
}

func TestNotifyDiscovery(t *testing.T) {
	stores, _, _ := restockScenario()
	stores.recipients = []domain.UserPreferences{
		instantPrefs("user-1", "100500"),
		func() domain.UserPreferences {
			p := instantPrefs("user-2", "100501")
			p.Settings.Categories = []domain.ProductCategory{domain.CategoryToys}
			return p
		}(),
	}
	queue := &memQueue{}
	service := newTestDispatcher(stores, queue, newMemCache(), nil, nil)

	err := service.NotifyDiscovery(context.Background(), stores.products["product-1"])
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(queue.jobs) != 1 || queue.jobs[0].UserID != "user-1" {
		t.Fatalf("находка должна уйти только подходящему получателю: %+v", queue.jobs)
	}
	if queue.jobs[0].Type != domain.AlertDiscovery {
		t.Fatalf("неожиданный тип задачи: %s", queue.jobs[0].Type)
	}
}

func TestDeliverRestock(t *testing.T) {
	stores, _, _ := restockScenario()
	notifier := &memNotifier{}
	service := newTestDispatcher(stores, &memQueue{}, newMemCache(), notifier, nil)

	job := domain.AlertJob{
		ID:          "job-1",
		Type:        domain.AlertRestock,
		UserID:      "user-1",
		ChatID:      "100500",
		ProductID:   "product-1",
		StockItemID: "item-1",
	}
	if err := service.Deliver(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(notifier.texts) != 1 || !strings.Contains(notifier.texts[0], "RESTOCK") {
		t.Fatalf("текст рестока должен отправиться: %v", notifier.texts)
	}
	if len(stores.alerts) != 1 {
		t.Fatalf("отправка должна записаться в журнал уведомлений")
	}
	alert := stores.alerts[0]
	if alert.Type != domain.AlertRestock || alert.StockItemID == nil || *alert.StockItemID != "item-1" {
		t.Fatalf("неожиданная запись журнала: %+v", alert)
	}
	if alert.TelegramMessageID != "msg-1" {
		t.Fatalf("id сообщения транспорта должен сохраняться: %+v", alert)
	}
}

func TestDeliverMissingSubjectDropsJob(t *testing.T) {
	stores, _, _ := restockScenario()
	notifier := &memNotifier{}
	service := newTestDispatcher(stores, &memQueue{}, newMemCache(), notifier, nil)

	job := domain.AlertJob{ID: "job-1", Type: domain.AlertRestock, ChatID: "100500", StockItemID: "gone"}
	if err := service.Deliver(context.Background(), job); err != nil {
		t.Fatalf("исчезнувший предмет не должен возвращать задачу в очередь: %v", err)
	}
	if len(notifier.texts) != 0 {
		t.Fatalf("нечего отправлять по исчезнувшему предмету")
	}
}

func TestDeliverUsesFreshChatBinding(t *testing.T) {
	stores, _, _ := restockScenario()
	stores.prefs["user-1"] = instantPrefs("user-1", "100501")
	notifier := &memNotifier{}
	service := newTestDispatcher(stores, &memQueue{}, newMemCache(), notifier, nil)

	job := domain.AlertJob{
		ID:          "job-1",
		Type:        domain.AlertRestock,
		UserID:      "user-1",
		ChatID:      "100500",
		ProductID:   "product-1",
		StockItemID: "item-1",
	}
	if err := service.Deliver(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(notifier.chats) != 1 || notifier.chats[0] != "100501" {
		t.Fatalf("отправка должна идти в актуальный чат получателя: %v", notifier.chats)
	}
}

func TestDeliverRecipientGoneDropsJob(t *testing.T) {
	stores, _, _ := restockScenario()
	delete(stores.prefs, "user-1")
	notifier := &memNotifier{}
	service := newTestDispatcher(stores, &memQueue{}, newMemCache(), notifier, nil)

	job := domain.AlertJob{
		ID:          "job-1",
		Type:        domain.AlertRestock,
		UserID:      "user-1",
		ChatID:      "100500",
		ProductID:   "product-1",
		StockItemID: "item-1",
	}
	if err := service.Deliver(context.Background(), job); err != nil {
		t.Fatalf("исчезнувший получатель не должен возвращать задачу в очередь: %v", err)
	}
	if len(notifier.texts) != 0 {
		t.Fatalf("нечего отправлять исчезнувшему получателю")
	}
	if len(stores.alerts) != 0 {
		t.Fatalf("без отправки не должно быть записи в журнале")
	}
}

func TestDeliverEmptyDigestSkipped(t *testing.T) {
	stores, _, _ := restockScenario()
	notifier := &memNotifier{}
	service := newTestDispatcher(stores, &memQueue{}, newMemCache(), notifier, nil)

	job := domain.AlertJob{ID: "job-1", Type: domain.AlertDigest, UserID: "user-1", Date: time.Now().UTC()}
	if err := service.Deliver(context.Background(), job); err != nil {
		t.Fatalf("пустой дайджест не должен возвращать задачу в очередь: %v", err)
	}
	if len(notifier.texts) != 0 {
		t.Fatalf("пустой дайджест не отправляется")
	}
	if len(stores.alerts) != 0 {
		t.Fatalf("без отправки не должно быть записи в журнале")
	}
}

func TestBuildDigest(t *testing.T) {
	stores, _, _ := restockScenario()
	stores.discovered = []domain.Product{
		{ID: "product-1", Name: "Nike Air Max 1", HypeScore: 80},
		{ID: "product-2", Name: "Jordan 4", HypeScore: 60},
	}
	stores.releases = []domain.Product{{ID: "product-3", Name: "New Balance 991"}}
	trends := &fixedTrends{deltas: map[string]int{"product-1": 15, "product-2": -5}}
	service := newTestDispatcher(stores, &memQueue{}, newMemCache(), nil, trends)

	content, err := service.BuildDigest(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(content.TopDiscoveries) != 2 {
		t.Fatalf("ожидали 2 находки, получили %d", len(content.TopDiscoveries))
	}
	if len(content.Trending) != 1 || content.Trending[0].Product.ID != "product-1" {
		t.Fatalf("в тренды попадают только растущие: %+v", content.Trending)
	}
	if len(content.ReleasesTomorrow) != 1 {
		t.Fatalf("ожидали один релиз на завтра")
	}
}

func TestEnqueueDigests(t *testing.T) {
	stores, _, _ := restockScenario()
	now := time.Date(2026, 8, 31, 9, 5, 0, 0, time.UTC)
	prefs := instantPrefs("user-1", "100500")
	prefs.Settings.DailyDigest = true
	stores.digest = []domain.UserPreferences{prefs}
	queue := &memQueue{}
	service := newTestDispatcher(stores, queue, newMemCache(), nil, nil)

	if err := service.EnqueueDigests(context.Background(), now); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(queue.jobs) != 1 || queue.jobs[0].Type != domain.AlertDigest {
		t.Fatalf("в час отправки дайджест должен встать в очередь: %+v", queue.jobs)
	}

	// Повторный тик того же часа ловится суточным замком.
	if err := service.EnqueueDigests(context.Background(), now.Add(10*time.Minute)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("суточный замок должен подавить повтор, получили %d задач", len(queue.jobs))
	}

	// Не тот час — без задач.
	if err := service.EnqueueDigests(context.Background(), now.Add(3*time.Hour)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("вне часа отправки дайджест не ставится")
	}
}
