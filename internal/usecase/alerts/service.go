package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hype-hunter/internal/domain"
	"hype-hunter/internal/infra/metrics"
)

// errEmptyDigest означает, что за сутки не набралось ни одного раздела.
var errEmptyDigest = errors.New("дайджест пуст")

// TrendSource отдаёт изменение хайп-скора товара за окно тренда.
type TrendSource interface {
	TrendDelta(ctx context.Context, productID string, window time.Duration) (int, error)
}

// Config — пороги и окна диспетчера уведомлений.
type Config struct {
	// PriceDropThreshold — минимальная доля снижения цены (0..1).
	PriceDropThreshold float64
	// DedupWindow — окно, в котором повторное уведомление того же типа
	// тому же получателю о том же предмете подавляется.
	DedupWindow time.Duration
	// TrendWindow — окно сравнения хайп-скора для раздела «Растут».
	TrendWindow time.Duration
	// DigestHour — час отправки дайджеста по умолчанию, если пользователь
	// не задал свой.
	DigestHour int
}

// Deps — зависимости диспетчера.
type Deps struct {
	Products   domain.ProductRepo
	Stock      domain.StockRepo
	Retailers  domain.RetailerRepo
	Provenance domain.ProvenanceRepo
	Users      domain.UserRepo
	Alerts     domain.AlertRepo
	Queue      domain.AlertQueue
	Cache      domain.Cache
	Notifier   domain.Notifier
	Trends     TrendSource
}

// Service решает, кому и о чём слать, ставит задачи в очередь и доставляет их.
// Решение о сигнале выводится только из флагов конкретного изменения плюс
// настроек получателя; журнал проверок задним числом не сканируется.
type Service struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
}

// NewService создаёт диспетчер уведомлений.
func NewService(deps Deps, cfg Config, logger zerolog.Logger) *Service {
	return &Service{deps: deps, cfg: cfg, log: logger}
}

// HandleStockChange раздаёт задачи на уведомления по итогам опроса,
// на котором что-то изменилось. Вызывается сервисом опросов синхронно,
// поэтому ошибки отдельных получателей не прерывают обход.
func (s *Service) HandleStockChange(ctx context.Context, item domain.StockItem, diff domain.StockDiff) {
	product, err := s.deps.Products.GetProduct(ctx, item.ProductID)
	if err != nil {
		s.log.Error().Err(err).Str("product_id", item.ProductID).Msg("не удалось загрузить товар для уведомления")
		return
	}
	if product.Status != domain.ProductApproved {
		return
	}

	watchers, err := s.deps.Users.ListWatchers(ctx, item.ProductID)
	if err != nil {
		s.log.Error().Err(err).Str("product_id", item.ProductID).Msg("не удалось получить список наблюдателей")
		return
	}

	now := time.Now().UTC()
	for _, watcher := range watchers {
		if diff.IsRestock(item.Status) && s.shouldSendRestock(watcher, product, item, now) {
			s.enqueueOnce(ctx, domain.AlertJob{
				ID:          uuid.NewString(),
				Type:        domain.AlertRestock,
				UserID:      watcher.Prefs.UserID,
				ChatID:      watcher.Prefs.TelegramChatID,
				ProductID:   product.ID,
				StockItemID: item.ID,
				RequestedAt: now,
			})
		}
		if s.shouldSendPriceDrop(watcher, product, item, diff, now) {
			s.enqueueOnce(ctx, domain.AlertJob{
				ID:          uuid.NewString(),
				Type:        domain.AlertPriceDrop,
				UserID:      watcher.Prefs.UserID,
				ChatID:      watcher.Prefs.TelegramChatID,
				ProductID:   product.ID,
				StockItemID: item.ID,
				OldPrice:    diff.PrevPrice,
				NewPrice:    item.Price,
				RequestedAt: now,
			})
		}
	}
}

// NotifyDiscovery раздаёт уведомления о новом одобренном товаре всем
// подходящим получателям мгновенных уведомлений.
func (s *Service) NotifyDiscovery(ctx context.Context, product domain.Product) error {
	if product.Status != domain.ProductApproved {
		return nil
	}
	recipients, err := s.deps.Users.ListInstantRecipients(ctx)
	if err != nil {
		return fmt.Errorf("получатели мгновенных уведомлений: %w", err)
	}
	now := time.Now().UTC()
	for _, prefs := range recipients {
		if !s.eligible(prefs, product, now) {
			continue
		}
		s.enqueueOnce(ctx, domain.AlertJob{
			ID:          uuid.NewString(),
			Type:        domain.AlertDiscovery,
			UserID:      prefs.UserID,
			ChatID:      prefs.TelegramChatID,
			ProductID:   product.ID,
			RequestedAt: now,
		})
	}
	return nil
}

func (s *Service) shouldSendRestock(w domain.Watcher, product domain.Product, item domain.StockItem, now time.Time) bool {
	if !w.Item.AlertOnRestock || !s.eligible(w.Prefs, product, now) {
		return false
	}
	if !w.Prefs.Settings.SizeFilter {
		return true
	}
	size, ok := w.Prefs.Sizes.SizeFor(product.Category)
	if !ok {
		return true
	}
	for _, avail := range item.Sizes {
		if avail.InStock && avail.UK == size {
			return true
		}
	}
	// Магазин не отдал разбивку по размерам — лучше ложное срабатывание,
	// чем пропущенный ресток.
	return len(item.Sizes) == 0
}

func (s *Service) shouldSendPriceDrop(w domain.Watcher, product domain.Product, item domain.StockItem, diff domain.StockDiff, now time.Time) bool {
	if !w.Item.AlertOnPriceDrop || !diff.PriceChanged || item.Price == nil {
		return false
	}
	if !s.eligible(w.Prefs, product, now) {
		return false
	}
	if diff.IsPriceDrop(item.Price, s.cfg.PriceDropThreshold) {
		return true
	}
	// Пересечение целевой цены сверху вниз тоже считается событием,
	// даже если процент падения меньше порога.
	if w.Item.TargetPrice != nil && diff.PrevPrice != nil {
		return *diff.PrevPrice > *w.Item.TargetPrice && *item.Price <= *w.Item.TargetPrice
	}
	return false
}

// eligible проверяет общие для всех мгновенных уведомлений фильтры получателя.
func (s *Service) eligible(prefs domain.UserPreferences, product domain.Product, now time.Time) bool {
	settings := prefs.Settings
	if !settings.InstantAlerts || prefs.TelegramChatID == "" {
		return false
	}
	if !settings.WantsCategory(product.Category) {
		return false
	}
	if product.HypeScore < settings.MinHypeScore {
		return false
	}
	return !settings.InQuietHours(s.localTime(prefs, now))
}

func (s *Service) localTime(prefs domain.UserPreferences, now time.Time) time.Time {
	if prefs.Timezone == "" {
		return now
	}
	loc, err := time.LoadLocation(prefs.Timezone)
	if err != nil {
		s.log.Warn().Str("timezone", prefs.Timezone).Str("user_id", prefs.UserID).Msg("неизвестный часовой пояс, используем UTC")
		return now
	}
	return now.In(loc)
}

// enqueueOnce ставит задачу в очередь не чаще раза за окно дедупликации.
// Ключ — получатель, тип и предмет уведомления.
func (s *Service) enqueueOnce(ctx context.Context, job domain.AlertJob) {
	subject := job.StockItemID
	if subject == "" {
		subject = job.ProductID
	}
	key := fmt.Sprintf("alert:%s:%s:%s", job.Type, job.UserID, subject)
	err := s.deps.Cache.Once(key, s.cfg.DedupWindow, func() error {
		return s.deps.Queue.Enqueue(ctx, job)
	})
	if err != nil {
		s.log.Error().Err(err).
			Str("type", string(job.Type)).
			Str("user_id", job.UserID).
			Msg("не удалось поставить уведомление в очередь")
	}
}

// Deliver собирает текст и отправляет одно уведомление из очереди.
// Ошибка означает, что задачу стоит вернуть в очередь.
func (s *Service) Deliver(ctx context.Context, job domain.AlertJob) error {
	text, err := s.render(ctx, job)
	if err != nil {
		if errors.Is(err, errEmptyDigest) {
			s.log.Info().Str("job_id", job.ID).Str("user_id", job.UserID).Msg("дайджест пуст, отправка пропущена")
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			// Предмет уведомления исчез, повторять бессмысленно.
			s.log.Warn().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("предмет уведомления не найден, задача отброшена")
			return nil
		}
		return err
	}

	chatID, err := s.deliveryChat(ctx, job)
	if err != nil {
		return err
	}
	if chatID == "" {
		s.log.Warn().Str("job_id", job.ID).Str("user_id", job.UserID).Msg("получатель отвязал чат, задача отброшена")
		return nil
	}

	messageID, err := s.deps.Notifier.Send(ctx, chatID, text)
	if err != nil {
		metrics.AlertSendErrors.Inc()
		return fmt.Errorf("отправка уведомления %s: %w", job.ID, err)
	}
	metrics.AlertsSentTotal.WithLabelValues(string(job.Type)).Inc()

	alert := domain.Alert{
		ID:                uuid.NewString(),
		UserID:            job.UserID,
		Type:              job.Type,
		Message:           text,
		TelegramMessageID: messageID,
		SentAt:            time.Now().UTC(),
	}
	if job.ProductID != "" {
		alert.ProductID = &job.ProductID
	}
	if job.StockItemID != "" {
		alert.StockItemID = &job.StockItemID
	}
	if _, err := s.deps.Alerts.CreateAlert(ctx, alert); err != nil {
		// Сообщение уже у получателя, отзыв невозможен. Фиксируем потерю журнала.
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("уведомление отправлено, но не записано в журнал")
	}
	return nil
}

// deliveryChat перечитывает привязку чата перед отправкой: пока задача
// ждала в очереди, получатель мог сменить чат или удалить настройки.
// Пустой результат означает, что слать некуда.
func (s *Service) deliveryChat(ctx context.Context, job domain.AlertJob) (string, error) {
	prefs, err := s.deps.Users.GetPreferences(ctx, job.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("настройки получателя %s: %w", job.UserID, err)
	}
	return prefs.TelegramChatID, nil
}

func (s *Service) render(ctx context.Context, job domain.AlertJob) (string, error) {
	switch job.Type {
	case domain.AlertRestock:
		item, err := s.deps.Stock.GetStockItem(ctx, job.StockItemID)
		if err != nil {
			return "", fmt.Errorf("снимок наличия %s: %w", job.StockItemID, err)
		}
		product, err := s.deps.Products.GetProduct(ctx, item.ProductID)
		if err != nil {
			return "", fmt.Errorf("товар %s: %w", item.ProductID, err)
		}
		retailer, err := s.deps.Retailers.GetRetailer(ctx, item.RetailerID)
		if err != nil {
			return "", fmt.Errorf("магазин %s: %w", item.RetailerID, err)
		}
		return FormatRestockAlert(product, item, retailer), nil

	case domain.AlertPriceDrop:
		if job.OldPrice == nil || job.NewPrice == nil {
			return "", fmt.Errorf("задача %s: нет цен для уведомления о снижении", job.ID)
		}
		item, err := s.deps.Stock.GetStockItem(ctx, job.StockItemID)
		if err != nil {
			return "", fmt.Errorf("снимок наличия %s: %w", job.StockItemID, err)
		}
		product, err := s.deps.Products.GetProduct(ctx, item.ProductID)
		if err != nil {
			return "", fmt.Errorf("товар %s: %w", item.ProductID, err)
		}
		retailer, err := s.deps.Retailers.GetRetailer(ctx, item.RetailerID)
		if err != nil {
			return "", fmt.Errorf("магазин %s: %w", item.RetailerID, err)
		}
		return FormatPriceDropAlert(product, retailer, *job.OldPrice, *job.NewPrice), nil

	case domain.AlertDiscovery:
		product, err := s.deps.Products.GetProduct(ctx, job.ProductID)
		if err != nil {
			return "", fmt.Errorf("товар %s: %w", job.ProductID, err)
		}
		sources, err := s.deps.Provenance.ListProductSourceNames(ctx, product.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("product_id", product.ID).Msg("не удалось получить источники товара")
		}
		return FormatDiscoveryAlert(product, sources), nil

	case domain.AlertDigest:
		content, err := s.BuildDigest(ctx, job.Date)
		if err != nil {
			return "", fmt.Errorf("сборка дайджеста: %w", err)
		}
		if content.Empty() {
			return "", errEmptyDigest
		}
		return FormatDigest(content), nil
	}
	return "", fmt.Errorf("неизвестный тип уведомления %q", job.Type)
}
