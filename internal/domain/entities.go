package domain

import "time"

// ProductCategory задаёт категорию каталога.
type ProductCategory string

const (
	CategorySneakers      ProductCategory = "sneakers"
	CategoryFootballBoots ProductCategory = "football_boots"
	CategoryStreetwear    ProductCategory = "streetwear"
	CategoryToys          ProductCategory = "toys"
	CategoryCollectibles  ProductCategory = "collectibles"
)

// ProductStatus описывает состояние модерации товара.
type ProductStatus string

const (
	ProductPendingReview ProductStatus = "pending_review"
	ProductApproved      ProductStatus = "approved"
	ProductRejected      ProductStatus = "rejected"
	ProductArchived      ProductStatus = "archived"
)

// SourceType описывает тип внешнего источника находок.
type SourceType string

const (
	SourceCalendar SourceType = "calendar"
	SourceSocial   SourceType = "social"
	SourceResale   SourceType = "resale"
	SourceTrends   SourceType = "trends"
	SourceRetailer SourceType = "retailer"
)

// Brand описывает бренд каталога. Slug уникален независимо от регистра имени.
type Brand struct {
	ID        string
	Name      string
	Slug      string
	LogoURL   string
	HeatScore int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Source описывает внешний канал, поставляющий находки.
type Source struct {
	ID                   string
	Name                 string
	Type                 SourceType
	URL                  string
	ScraperID            string
	CheckIntervalMinutes int
	IsActive             bool
	ReliabilityScore     int
	LastSuccessfulScrape *time.Time
	ConsecutiveFailures  int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Product — каноническая карточка товара. Ровно одна строка на реальный товар:
// повторный прогон инжеста по тому же или похожему имени не создаёт дубликат.
type Product struct {
	ID                 string
	Name               string
	BrandID            *string
	Collaborator       string
	Category           ProductCategory
	SKU                string
	Description        string
	ImageURL           string
	ReleaseDate        *time.Time
	RetailPrice        *float64
	HypeScore          int
	HypeScoreUpdatedAt *time.Time
	ConfidenceScore    *int
	IsLimitedEdition   bool
	Status             ProductStatus
	ApprovedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProductSource — связь «источник наблюдал товар». Не более одной строки
// на пару (product_id, source_id).
type ProductSource struct {
	ID           string
	ProductID    string
	SourceID     string
	ExternalURL  string
	RawData      []byte
	DiscoveredAt time.Time
}

// Retailer описывает отслеживаемый магазин.
type Retailer struct {
	ID                   string
	Name                 string
	Slug                 string
	BaseURL              string
	ScraperID            string
	CheckIntervalMinutes int
	Priority             int
	IsActive             bool
	LastSuccessfulCheck  *time.Time
	ConsecutiveFailures  int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DiscoveryResult — нормализованная находка, которую присылает внешний адаптер.
type DiscoveryResult struct {
	Name             string          `json:"name"`
	Brand            string          `json:"brand"`
	Collaborator     string          `json:"collaborator,omitempty"`
	Category         ProductCategory `json:"category"`
	SKU              string          `json:"sku,omitempty"`
	ImageURL         string          `json:"image_url,omitempty"`
	ReleaseDate      *time.Time      `json:"release_date,omitempty"`
	RetailPrice      *float64        `json:"retail_price,omitempty"`
	ConfidenceScore  int             `json:"confidence_score"`
	IsLimitedEdition bool            `json:"is_limited_edition"`
	SourceURL        string          `json:"source_url"`
	RawData          []byte          `json:"raw_data,omitempty"`
}

// IngestReport — итог обработки пакета находок. Возвращается всегда,
// даже если часть позиций завершилась ошибкой.
type IngestReport struct {
	New      int           `json:"new"`
	Existing int           `json:"existing"`
	Errors   int           `json:"errors"`
	Details  IngestDetails `json:"details"`
}

// IngestDetails перечисляет обработанные позиции по исходам.
type IngestDetails struct {
	NewProducts      []string `json:"newProducts"`
	ExistingProducts []string `json:"existingProducts"`
	ErrorMessages    []string `json:"errorMessages"`
}
