package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hype-hunter/internal/domain"
	"hype-hunter/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.BrandRepo = (*Postgres)(nil)
var _ domain.SourceRepo = (*Postgres)(nil)
var _ domain.ProductRepo = (*Postgres)(nil)
var _ domain.ProvenanceRepo = (*Postgres)(nil)
var _ domain.RetailerRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// mapPgError переводит ошибки драйвера в ошибки домена.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrDuplicate
	}
	return err
}

// GetBrand возвращает бренд по id.
func (p *Postgres) GetBrand(ctx context.Context, id string) (domain.Brand, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		brand   domain.Brand
		logoURL sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, name, slug, logo_url, heat_score, created_at, updated_at
FROM brands WHERE id=$1
`, id).Scan(&brand.ID, &brand.Name, &brand.Slug, &logoURL, &brand.HeatScore, &brand.CreatedAt, &brand.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "brands_get", "brands", start, err)
	if err != nil {
		return domain.Brand{}, mapPgError(err)
	}
	if logoURL.Valid {
		brand.LogoURL = logoURL.String
	}
	return brand, nil
}

// GetBrandBySlug возвращает бренд по уникальному slug.
func (p *Postgres) GetBrandBySlug(ctx context.Context, slug string) (domain.Brand, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		brand   domain.Brand
		logoURL sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, name, slug, logo_url, heat_score, created_at, updated_at
FROM brands WHERE slug=$1
`, slug).Scan(&brand.ID, &brand.Name, &brand.Slug, &logoURL, &brand.HeatScore, &brand.CreatedAt, &brand.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "brands_get_by_slug", "brands", start, err)
	if err != nil {
		return domain.Brand{}, mapPgError(err)
	}
	if logoURL.Valid {
		brand.LogoURL = logoURL.String
	}
	return brand, nil
}

// CreateBrand вставляет бренд. При гонке по slug возвращает domain.ErrDuplicate.
func (p *Postgres) CreateBrand(ctx context.Context, brand domain.Brand) (domain.Brand, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if brand.ID == "" {
		brand.ID = uuid.NewString()
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO brands (id, name, slug, logo_url, heat_score)
VALUES ($1, $2, $3, NULLIF($4,''), $5)
RETURNING created_at, updated_at
`, brand.ID, brand.Name, brand.Slug, brand.LogoURL, brand.HeatScore).Scan(&brand.CreatedAt, &brand.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "brands_insert", "brands", start, err)
	if err != nil {
		return domain.Brand{}, mapPgError(err)
	}
	return brand, nil
}

// GetSourceByScraperID возвращает источник по идентификатору скрейпера.
func (p *Postgres) GetSourceByScraperID(ctx context.Context, scraperID string) (domain.Source, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		source     domain.Source
		url        sql.NullString
		scraper    sql.NullString
		lastScrape sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, name, type, url, scraper_id, check_interval_minutes, is_active, reliability_score, last_successful_scrape, consecutive_failures, created_at, updated_at
FROM sources WHERE scraper_id=$1
`, scraperID).Scan(&source.ID, &source.Name, &source.Type, &url, &scraper, &source.CheckIntervalMinutes, &source.IsActive, &source.ReliabilityScore, &lastScrape, &source.ConsecutiveFailures, &source.CreatedAt, &source.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "sources_get_by_scraper", "sources", start, err)
	if err != nil {
		return domain.Source{}, mapPgError(err)
	}
	if url.Valid {
		source.URL = url.String
	}
	if scraper.Valid {
		source.ScraperID = scraper.String
	}
	if lastScrape.Valid {
		ts := lastScrape.Time
		source.LastSuccessfulScrape = &ts
	}
	return source, nil
}

// CreateSource вставляет источник. При гонке по scraper_id возвращает domain.ErrDuplicate.
func (p *Postgres) CreateSource(ctx context.Context, source domain.Source) (domain.Source, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if source.ID == "" {
		source.ID = uuid.NewString()
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO sources (id, name, type, url, scraper_id, check_interval_minutes, is_active, reliability_score)
VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), $6, $7, $8)
RETURNING created_at, updated_at
`, source.ID, source.Name, source.Type, source.URL, source.ScraperID, source.CheckIntervalMinutes, source.IsActive, source.ReliabilityScore).Scan(&source.CreatedAt, &source.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "sources_insert", "sources", start, err)
	if err != nil {
		return domain.Source{}, mapPgError(err)
	}
	return source, nil
}

// RecordScrapeResult обновляет счётчик сбоев источника.
func (p *Postgres) RecordScrapeResult(ctx context.Context, sourceID string, ok bool) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var query string
	if ok {
		query = `UPDATE sources SET consecutive_failures=0, last_successful_scrape=now(), updated_at=now() WHERE id=$1`
	} else {
		query = `UPDATE sources SET consecutive_failures=consecutive_failures+1, updated_at=now() WHERE id=$1`
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, query, sourceID)
	metrics.ObserveNetworkRequest("postgres", "sources_record_scrape", "sources", start, err)
	return err
}

// SearchProductsByName ищет кандидатов по подстроке имени без учёта регистра.
// Кавычки вырезаются и в запросе, и в имени, иначе карточка с расцветкой
// в кавычках не нашла бы саму себя по нормализованному фрагменту.
func (p *Postgres) SearchProductsByName(ctx context.Context, fragment string, limit int) ([]domain.Product, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+productColumns+`
FROM products WHERE translate(name, '''"‘’“”', '') ILIKE '%' || translate($1, '''"‘’“”', '') || '%'
LIMIT $2
`, fragment, limit)
	metrics.ObserveNetworkRequest("postgres", "products_search_by_name", "products", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

// CreateProduct вставляет карточку товара и возвращает её с заполненным id.
func (p *Postgres) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO products (id, name, brand_id, collaborator, category, sku, description, image_url, release_date, retail_price, hype_score, confidence_score, is_limited_edition, status, approved_at)
VALUES ($1, $2, $3, NULLIF($4,''), $5, NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), $9, $10, $11, $12, $13, $14, $15)
RETURNING created_at, updated_at
`, product.ID, product.Name, product.BrandID, product.Collaborator, product.Category, product.SKU, product.Description, product.ImageURL, product.ReleaseDate, product.RetailPrice, product.HypeScore, product.ConfidenceScore, product.IsLimitedEdition, product.Status, product.ApprovedAt).Scan(&product.CreatedAt, &product.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "products_insert", "products", start, err)
	if err != nil {
		return domain.Product{}, mapPgError(err)
	}
	return product, nil
}

// GetProduct возвращает карточку по id.
func (p *Postgres) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "products_get", "products", start, err)
	if err != nil {
		return domain.Product{}, err
	}
	defer rows.Close()
	products, err := scanProducts(rows)
	if err != nil {
		return domain.Product{}, err
	}
	if len(products) == 0 {
		return domain.Product{}, domain.ErrNotFound
	}
	return products[0], nil
}

// UpdateProductHype обновляет кэшированный хайп-скор карточки.
func (p *Postgres) UpdateProductHype(ctx context.Context, productID string, score int, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE products SET hype_score=$2, hype_score_updated_at=$3, updated_at=now() WHERE id=$1
`, productID, score, at)
	metrics.ObserveNetworkRequest("postgres", "products_update_hype", "products", start, err)
	return err
}

// ListDiscoveredSince возвращает одобренные товары, заведённые после since.
func (p *Postgres) ListDiscoveredSince(ctx context.Context, since time.Time, limit int) ([]domain.Product, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+productColumns+`
FROM products
WHERE status='approved' AND created_at >= $1
ORDER BY hype_score DESC, created_at DESC
LIMIT $2
`, since, limit)
	metrics.ObserveNetworkRequest("postgres", "products_list_discovered", "products", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

// ListReleasingBetween возвращает товары с датой релиза в интервале [from, to).
func (p *Postgres) ListReleasingBetween(ctx context.Context, from, to time.Time) ([]domain.Product, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+productColumns+`
FROM products
WHERE status='approved' AND release_date >= $1 AND release_date < $2
ORDER BY hype_score DESC
`, from, to)
	metrics.ObserveNetworkRequest("postgres", "products_list_releasing", "products", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

// LinkProductSource создаёт связь «источник — товар», если её ещё нет.
func (p *Postgres) LinkProductSource(ctx context.Context, link domain.ProductSource) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	var raw any
	if len(link.RawData) > 0 {
		raw = link.RawData
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO product_sources (id, product_id, source_id, external_url, raw_data)
VALUES ($1, $2, $3, NULLIF($4,''), $5)
ON CONFLICT (product_id, source_id) DO NOTHING
`, link.ID, link.ProductID, link.SourceID, link.ExternalURL, raw)
	metrics.ObserveNetworkRequest("postgres", "product_sources_link", "product_sources", start, err)
	return err
}

// ListProductSourceNames возвращает имена источников, наблюдавших товар.
func (p *Postgres) ListProductSourceNames(ctx context.Context, productID string) ([]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT s.name
FROM product_sources ps
JOIN sources s ON s.id = ps.source_id
WHERE ps.product_id=$1
ORDER BY ps.discovered_at
`, productID)
	metrics.ObserveNetworkRequest("postgres", "product_sources_names", "product_sources", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetRetailer возвращает магазин по id.
func (p *Postgres) GetRetailer(ctx context.Context, id string) (domain.Retailer, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		retailer  domain.Retailer
		lastCheck sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, name, slug, base_url, scraper_id, check_interval_minutes, priority, is_active, last_successful_check, consecutive_failures, created_at, updated_at
FROM retailers WHERE id=$1
`, id).Scan(&retailer.ID, &retailer.Name, &retailer.Slug, &retailer.BaseURL, &retailer.ScraperID, &retailer.CheckIntervalMinutes, &retailer.Priority, &retailer.IsActive, &lastCheck, &retailer.ConsecutiveFailures, &retailer.CreatedAt, &retailer.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "retailers_get", "retailers", start, err)
	if err != nil {
		return domain.Retailer{}, mapPgError(err)
	}
	if lastCheck.Valid {
		ts := lastCheck.Time
		retailer.LastSuccessfulCheck = &ts
	}
	return retailer, nil
}

// RecordCheckResult обновляет счётчик сбоев магазина.
func (p *Postgres) RecordCheckResult(ctx context.Context, retailerID string, ok bool) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var query string
	if ok {
		query = `UPDATE retailers SET consecutive_failures=0, last_successful_check=now(), updated_at=now() WHERE id=$1`
	} else {
		query = `UPDATE retailers SET consecutive_failures=consecutive_failures+1, updated_at=now() WHERE id=$1`
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, query, retailerID)
	metrics.ObserveNetworkRequest("postgres", "retailers_record_check", "retailers", start, err)
	return err
}

const productColumns = `id, name, brand_id, collaborator, category, sku, description, image_url, release_date, retail_price, hype_score, hype_score_updated_at, confidence_score, is_limited_edition, status, approved_at, created_at, updated_at`

func scanProducts(rows pgx.Rows) ([]domain.Product, error) {
	var products []domain.Product
	for rows.Next() {
		var (
			product      domain.Product
			brandID      sql.NullString
			collaborator sql.NullString
			sku          sql.NullString
			description  sql.NullString
			imageURL     sql.NullString
			releaseDate  sql.NullTime
			retailPrice  sql.NullFloat64
			hypeUpdated  sql.NullTime
			confidence   sql.NullInt64
			approvedAt   sql.NullTime
		)
		if err := rows.Scan(&product.ID, &product.Name, &brandID, &collaborator, &product.Category, &sku, &description, &imageURL, &releaseDate, &retailPrice, &product.HypeScore, &hypeUpdated, &confidence, &product.IsLimitedEdition, &product.Status, &approvedAt, &product.CreatedAt, &product.UpdatedAt); err != nil {
			return nil, err
		}
		if brandID.Valid {
			id := brandID.String
			product.BrandID = &id
		}
		if collaborator.Valid {
			product.Collaborator = collaborator.String
		}
		if sku.Valid {
			product.SKU = sku.String
		}
		if description.Valid {
			product.Description = description.String
		}
		if imageURL.Valid {
			product.ImageURL = imageURL.String
		}
		if releaseDate.Valid {
			ts := releaseDate.Time
			product.ReleaseDate = &ts
		}
		if retailPrice.Valid {
			price := retailPrice.Float64
			product.RetailPrice = &price
		}
		if hypeUpdated.Valid {
			ts := hypeUpdated.Time
			product.HypeScoreUpdatedAt = &ts
		}
		if confidence.Valid {
			score := int(confidence.Int64)
			product.ConfidenceScore = &score
		}
		if approvedAt.Valid {
			ts := approvedAt.Time
			product.ApprovedAt = &ts
		}
		products = append(products, product)
	}
	return products, rows.Err()
}
