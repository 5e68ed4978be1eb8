package domain

import "time"

// StockStatus описывает доступность товара у магазина.
type StockStatus string

const (
	StockInStock    StockStatus = "in_stock"
	StockOutOfStock StockStatus = "out_of_stock"
	StockPreorder   StockStatus = "preorder"
	StockComingSoon StockStatus = "coming_soon"
	StockUnknown    StockStatus = "unknown"
)

// SizeAvailability — доступность одного размера.
type SizeAvailability struct {
	UK       float64  `json:"uk"`
	US       *float64 `json:"us,omitempty"`
	EU       *float64 `json:"eu,omitempty"`
	InStock  bool     `json:"in_stock"`
	Quantity *int     `json:"quantity,omitempty"`
}

// StockItem — последний известный снимок наличия для тройки
// (товар, магазин, URL). Мутируется на месте при каждом опросе.
type StockItem struct {
	ID               string
	ProductID        string
	RetailerID       string
	URL              string
	RetailerSKU      string
	Status           StockStatus
	Sizes            []SizeAvailability
	Price            *float64
	LastChecked      *time.Time
	LastStatusChange *time.Time
	IsMonitored      bool
	CheckPriority    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StockCheck — неизменяемое событие опроса. Одна строка на попытку,
// включая неудачные (тогда заполнен ErrorMessage).
type StockCheck struct {
	ID            string
	StockItemID   string
	Status        StockStatus
	Sizes         []SizeAvailability
	Price         *float64
	StatusChanged bool
	SizesChanged  bool
	PriceChanged  bool
	CheckedAt     time.Time
	CheckDuration time.Duration
	ErrorMessage  string
}

// StockObservation — свежие данные опроса от адаптера магазина.
type StockObservation struct {
	Status   StockStatus        `json:"status"`
	Sizes    []SizeAvailability `json:"sizes"`
	Price    *float64           `json:"price,omitempty"`
	Duration time.Duration      `json:"-"`
	Err      error              `json:"-"`
}

// StockDiff — какие поля снимка изменились по итогам опроса.
type StockDiff struct {
	StatusChanged bool
	SizesChanged  bool
	PriceChanged  bool
	PrevStatus    StockStatus
	PrevPrice     *float64
}

// Changed сообщает, изменилось ли хоть одно поле.
func (d StockDiff) Changed() bool {
	return d.StatusChanged || d.SizesChanged || d.PriceChanged
}

// IsRestock распознаёт переход «не было в наличии → появилось».
func (d StockDiff) IsRestock(current StockStatus) bool {
	if !d.StatusChanged || current != StockInStock {
		return false
	}
	switch d.PrevStatus {
	case StockOutOfStock, StockComingSoon, StockUnknown:
		return true
	}
	return false
}

// IsPriceDrop распознаёт снижение цены не меньше чем на threshold (доля 0..1).
func (d StockDiff) IsPriceDrop(current *float64, threshold float64) bool {
	if !d.PriceChanged || current == nil || d.PrevPrice == nil {
		return false
	}
	old := *d.PrevPrice
	if old <= 0 || *current >= old {
		return false
	}
	return (old-*current)/old >= threshold
}
