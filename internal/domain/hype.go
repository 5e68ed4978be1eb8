package domain

import "time"

// HypeComponents — нормализованные к 0..100 составляющие хайп-скора.
type HypeComponents struct {
	Social    float64         `json:"social"`
	Resale    float64         `json:"resale"`
	Trends    float64         `json:"trends"`
	Scarcity  float64         `json:"scarcity"`
	Brand     float64         `json:"brand"`
	SocialRaw *SocialRawStats `json:"social_raw,omitempty"`
	ResaleRaw *ResaleRawStats `json:"resale_raw,omitempty"`
}

// SocialRawStats — сырая разбивка социального сигнала для объяснимости.
type SocialRawStats struct {
	Twitter int `json:"twitter"`
	Reddit  int `json:"reddit"`
	TikTok  int `json:"tiktok"`
}

// ResaleRawStats — сырая разбивка ресейл-сигнала.
type ResaleRawStats struct {
	StockX float64 `json:"stockx"`
	Goat   float64 `json:"goat"`
	Retail float64 `json:"retail"`
}

// HypeWeights — веса компонент. Конфигурация, а не бизнес-логика ядра.
type HypeWeights struct {
	Social   float64
	Resale   float64
	Trends   float64
	Scarcity float64
	Brand    float64
}

// DefaultHypeWeights — документированное равное распределение.
func DefaultHypeWeights() HypeWeights {
	return HypeWeights{Social: 0.2, Resale: 0.2, Trends: 0.2, Scarcity: 0.2, Brand: 0.2}
}

// Total вычисляет итоговый балл 0..100 по взвешенной сумме компонент.
func (w HypeWeights) Total(c HypeComponents) int {
	sum := w.Social + w.Resale + w.Trends + w.Scarcity + w.Brand
	if sum <= 0 {
		return 0
	}
	raw := (w.Social*c.Social + w.Resale*c.Resale + w.Trends*c.Trends + w.Scarcity*c.Scarcity + w.Brand*c.Brand) / sum
	if raw < 0 {
		return 0
	}
	if raw > 100 {
		return 100
	}
	return int(raw + 0.5)
}

// HypeScore — точка временного ряда хайп-скора. Никогда не обновляется на месте;
// кэш Product.HypeScore — лишь оптимизация чтения.
type HypeScore struct {
	ID         string
	ProductID  string
	TotalScore int
	Components HypeComponents
	RecordedAt time.Time
}

// PriceHistory — точка временного ряда цен (ритейл и ресейл-площадки).
type PriceHistory struct {
	ID               string
	ProductID        string
	RetailPrice      *float64
	StockXPrice      *float64
	GoatPrice        *float64
	AvgResalePrice   *float64
	ResalePremiumPct *float64
	RecordedAt       time.Time
}

// SocialSignal — точка временного ряда соц-упоминаний.
type SocialSignal struct {
	ID              string
	ProductID       string
	TwitterMentions int
	RedditMentions  int
	TikTokMentions  int
	AvgSentiment    *float64
	RecordedAt      time.Time
}
