package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hype-hunter/internal/domain"
	"hype-hunter/internal/infra/metrics"
)

var _ domain.AlertRepo = (*Postgres)(nil)
var _ domain.UserRepo = (*Postgres)(nil)

// CreateAlert записывает отправленное уведомление.
func (p *Postgres) CreateAlert(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.SentAt.IsZero() {
		alert.SentAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO alerts (id, user_id, product_id, stock_item_id, type, message, telegram_message_id, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''), $8)
`, alert.ID, alert.UserID, alert.ProductID, alert.StockItemID, alert.Type, alert.Message, alert.TelegramMessageID, alert.SentAt)
	metrics.ObserveNetworkRequest("postgres", "alerts_insert", "alerts", start, err)
	if err != nil {
		return domain.Alert{}, err
	}
	return alert, nil
}

const preferencesColumns = `id, user_id, telegram_chat_id, timezone, sizes, alert_settings, created_at, updated_at`

// ListWatchers возвращает получателей, наблюдающих за товаром, вместе с их
// записями списка наблюдения.
func (p *Postgres) ListWatchers(ctx context.Context, productID string) ([]domain.Watcher, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT w.id, w.user_id, w.product_id, w.alert_on_restock, w.alert_on_price_drop, w.target_price, w.notes, w.added_at,
       up.id, up.user_id, up.telegram_chat_id, up.timezone, up.sizes, up.alert_settings, up.created_at, up.updated_at
FROM watchlist w
JOIN user_preferences up ON up.user_id = w.user_id
WHERE w.product_id=$1 AND up.telegram_chat_id IS NOT NULL
`, productID)
	metrics.ObserveNetworkRequest("postgres", "watchlist_list_watchers", "watchlist", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watchers []domain.Watcher
	for rows.Next() {
		var (
			item        domain.WatchlistItem
			targetPrice sql.NullFloat64
			notes       sql.NullString
			prefs       domain.UserPreferences
			chatID      sql.NullString
			timezone    sql.NullString
			sizesRaw    []byte
			settingsRaw []byte
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.ProductID, &item.AlertOnRestock, &item.AlertOnPriceDrop, &targetPrice, &notes, &item.AddedAt,
			&prefs.ID, &prefs.UserID, &chatID, &timezone, &sizesRaw, &settingsRaw, &prefs.CreatedAt, &prefs.UpdatedAt); err != nil {
			return nil, err
		}
		if targetPrice.Valid {
			v := targetPrice.Float64
			item.TargetPrice = &v
		}
		if notes.Valid {
			item.Notes = notes.String
		}
		if err := fillPreferences(&prefs, chatID, timezone, sizesRaw, settingsRaw); err != nil {
			return nil, err
		}
		watchers = append(watchers, domain.Watcher{Prefs: prefs, Item: item})
	}
	return watchers, rows.Err()
}

// ListInstantRecipients возвращает получателей с включёнными мгновенными
// уведомлениями. Фильтры по категориям и хайп-скору применяет диспетчер.
func (p *Postgres) ListInstantRecipients(ctx context.Context) ([]domain.UserPreferences, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+preferencesColumns+`
FROM user_preferences
WHERE telegram_chat_id IS NOT NULL AND (alert_settings->>'instant_alerts')::boolean IS TRUE
`)
	metrics.ObserveNetworkRequest("postgres", "user_preferences_instant_recipients", "user_preferences", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []domain.UserPreferences
	for rows.Next() {
		prefs, err := scanPreferences(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, prefs)
	}
	return recipients, rows.Err()
}

// ListDigestRecipients возвращает получателей с включённым суточным дайджестом.
func (p *Postgres) ListDigestRecipients(ctx context.Context) ([]domain.UserPreferences, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+preferencesColumns+`
FROM user_preferences
WHERE telegram_chat_id IS NOT NULL AND (alert_settings->>'daily_digest')::boolean IS TRUE
`)
	metrics.ObserveNetworkRequest("postgres", "user_preferences_digest_recipients", "user_preferences", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []domain.UserPreferences
	for rows.Next() {
		prefs, err := scanPreferences(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, prefs)
	}
	return recipients, rows.Err()
}

// GetPreferences возвращает настройки получателя.
func (p *Postgres) GetPreferences(ctx context.Context, userID string) (domain.UserPreferences, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+preferencesColumns+` FROM user_preferences WHERE user_id=$1`, userID)
	metrics.ObserveNetworkRequest("postgres", "user_preferences_get", "user_preferences", start, err)
	if err != nil {
		return domain.UserPreferences{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.UserPreferences{}, err
		}
		return domain.UserPreferences{}, domain.ErrNotFound
	}
	return scanPreferences(rows)
}

type prefsScanner interface {
	Scan(dest ...any) error
}

func scanPreferences(row prefsScanner) (domain.UserPreferences, error) {
	var (
		prefs       domain.UserPreferences
		chatID      sql.NullString
		timezone    sql.NullString
		sizesRaw    []byte
		settingsRaw []byte
	)
	if err := row.Scan(&prefs.ID, &prefs.UserID, &chatID, &timezone, &sizesRaw, &settingsRaw, &prefs.CreatedAt, &prefs.UpdatedAt); err != nil {
		return domain.UserPreferences{}, err
	}
	if err := fillPreferences(&prefs, chatID, timezone, sizesRaw, settingsRaw); err != nil {
		return domain.UserPreferences{}, err
	}
	return prefs, nil
}

func fillPreferences(prefs *domain.UserPreferences, chatID, timezone sql.NullString, sizesRaw, settingsRaw []byte) error {
	if chatID.Valid {
		prefs.TelegramChatID = chatID.String
	}
	if timezone.Valid {
		prefs.Timezone = timezone.String
	}
	if len(sizesRaw) > 0 {
		if err := json.Unmarshal(sizesRaw, &prefs.Sizes); err != nil {
			return fmt.Errorf("unmarshal sizes: %w", err)
		}
	}
	if len(settingsRaw) > 0 {
		if err := json.Unmarshal(settingsRaw, &prefs.Settings); err != nil {
			return fmt.Errorf("unmarshal alert settings: %w", err)
		}
	}
	return nil
}
