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

var _ domain.StockRepo = (*Postgres)(nil)

const stockItemColumns = `id, product_id, retailer_id, url, retailer_sku, status, sizes, price, last_checked, last_status_change, is_monitored, check_priority, created_at, updated_at`

// GetStockItem возвращает снимок наличия по id.
func (p *Postgres) GetStockItem(ctx context.Context, id string) (domain.StockItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+stockItemColumns+` FROM stock_items WHERE id=$1`, id)
	item, err := scanStockItem(row)
	metrics.ObserveNetworkRequest("postgres", "stock_items_get", "stock_items", start, err)
	if err != nil {
		return domain.StockItem{}, mapPgError(err)
	}
	return item, nil
}

// GetStockItemByURL возвращает снимок по паре (магазин, URL).
func (p *Postgres) GetStockItemByURL(ctx context.Context, retailerID, url string) (domain.StockItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+stockItemColumns+` FROM stock_items WHERE retailer_id=$1 AND url=$2`, retailerID, url)
	item, err := scanStockItem(row)
	metrics.ObserveNetworkRequest("postgres", "stock_items_get_by_url", "stock_items", start, err)
	if err != nil {
		return domain.StockItem{}, mapPgError(err)
	}
	return item, nil
}

// ListStockItemsForProduct возвращает все отслеживаемые снимки товара.
func (p *Postgres) ListStockItemsForProduct(ctx context.Context, productID string) ([]domain.StockItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+stockItemColumns+` FROM stock_items WHERE product_id=$1 AND is_monitored`, productID)
	metrics.ObserveNetworkRequest("postgres", "stock_items_list_for_product", "stock_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateStockSnapshot перезаписывает мутабельный снимок текущего состояния.
func (p *Postgres) UpdateStockSnapshot(ctx context.Context, item domain.StockItem) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	sizes, err := json.Marshal(item.Sizes)
	if err != nil {
		return fmt.Errorf("marshal sizes: %w", err)
	}
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
UPDATE stock_items
SET status=$2, sizes=$3, price=$4, last_checked=$5, last_status_change=$6, updated_at=now()
WHERE id=$1
`, item.ID, item.Status, sizes, item.Price, item.LastChecked, item.LastStatusChange)
	metrics.ObserveNetworkRequest("postgres", "stock_items_update", "stock_items", start, err)
	return err
}

// AppendStockCheck добавляет событие опроса в append-only журнал.
func (p *Postgres) AppendStockCheck(ctx context.Context, check domain.StockCheck) (domain.StockCheck, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if check.ID == "" {
		check.ID = uuid.NewString()
	}
	if check.CheckedAt.IsZero() {
		check.CheckedAt = time.Now().UTC()
	}
	var sizes any
	if check.Sizes != nil {
		payload, err := json.Marshal(check.Sizes)
		if err != nil {
			return domain.StockCheck{}, fmt.Errorf("marshal sizes: %w", err)
		}
		sizes = payload
	}
	var durationMS any
	if check.CheckDuration > 0 {
		durationMS = check.CheckDuration.Milliseconds()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO stock_checks (id, stock_item_id, status, sizes, price, status_changed, sizes_changed, price_changed, checked_at, check_duration_ms, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11,''))
`, check.ID, check.StockItemID, check.Status, sizes, check.Price, check.StatusChanged, check.SizesChanged, check.PriceChanged, check.CheckedAt, durationMS, check.ErrorMessage)
	metrics.ObserveNetworkRequest("postgres", "stock_checks_insert", "stock_checks", start, err)
	if err != nil {
		return domain.StockCheck{}, err
	}
	return check, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockItem(row rowScanner) (domain.StockItem, error) {
	var (
		item             domain.StockItem
		retailerSKU      sql.NullString
		sizesRaw         []byte
		price            sql.NullFloat64
		lastChecked      sql.NullTime
		lastStatusChange sql.NullTime
	)
	err := row.Scan(&item.ID, &item.ProductID, &item.RetailerID, &item.URL, &retailerSKU, &item.Status, &sizesRaw, &price, &lastChecked, &lastStatusChange, &item.IsMonitored, &item.CheckPriority, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return domain.StockItem{}, err
	}
	if retailerSKU.Valid {
		item.RetailerSKU = retailerSKU.String
	}
	if len(sizesRaw) > 0 {
		if err := json.Unmarshal(sizesRaw, &item.Sizes); err != nil {
			return domain.StockItem{}, fmt.Errorf("unmarshal sizes: %w", err)
		}
	}
	if price.Valid {
		v := price.Float64
		item.Price = &v
	}
	if lastChecked.Valid {
		ts := lastChecked.Time
		item.LastChecked = &ts
	}
	if lastStatusChange.Valid {
		ts := lastStatusChange.Time
		item.LastStatusChange = &ts
	}
	return item, nil
}
