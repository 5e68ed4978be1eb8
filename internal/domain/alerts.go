package domain

import (
	"strconv"
	"strings"
	"time"
)

// AlertType описывает повод уведомления.
type AlertType string

const (
	AlertRestock   AlertType = "restock"
	AlertDiscovery AlertType = "discovery"
	AlertPriceDrop AlertType = "price_drop"
	AlertDigest    AlertType = "digest"
	AlertCustom    AlertType = "custom"
)

// Alert — отправленное уведомление. Создаётся ровно один раз на отправку.
type Alert struct {
	ID                string
	UserID            string
	ProductID         *string
	StockItemID       *string
	Type              AlertType
	Message           string
	TelegramMessageID string
	SentAt            time.Time
	ClickedAt         *time.Time
}

// QuietHours — окно тишины в локальном времени пользователя ("HH:MM").
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// AlertSettings — пользовательские настройки уведомлений. Мутируются
// дашбордом, ядро их только читает.
type AlertSettings struct {
	MinHypeScore  int               `json:"min_hype_score,omitempty"`
	Categories    []ProductCategory `json:"categories,omitempty"`
	QuietHours    *QuietHours       `json:"quiet_hours,omitempty"`
	SizeFilter    bool              `json:"size_filter,omitempty"`
	InstantAlerts bool              `json:"instant_alerts,omitempty"`
	DailyDigest   bool              `json:"daily_digest,omitempty"`
	DigestTime    string            `json:"digest_time,omitempty"`
}

// InQuietHours сообщает, попадает ли момент в окно тишины. Окно может
// переходить через полночь ("23:00" — "08:00").
func (s AlertSettings) InQuietHours(t time.Time) bool {
	if s.QuietHours == nil {
		return false
	}
	start, okStart := parseClock(s.QuietHours.Start)
	end, okEnd := parseClock(s.QuietHours.End)
	if !okStart || !okEnd || start == end {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// WantsCategory проверяет категорию против фильтра. Пустой фильтр
// означает «все категории».
func (s AlertSettings) WantsCategory(category ProductCategory) bool {
	if len(s.Categories) == 0 {
		return true
	}
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

func parseClock(raw string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// UserSizes — размеры пользователя по категориям.
type UserSizes struct {
	SneakersUK      *float64 `json:"sneakers_uk,omitempty"`
	FootballBootsUK *float64 `json:"football_boots_uk,omitempty"`
}

// SizeFor возвращает размер UK для категории, если он задан.
func (u UserSizes) SizeFor(category ProductCategory) (float64, bool) {
	switch category {
	case CategorySneakers, CategoryStreetwear:
		if u.SneakersUK != nil {
			return *u.SneakersUK, true
		}
	case CategoryFootballBoots:
		if u.FootballBootsUK != nil {
			return *u.FootballBootsUK, true
		}
	}
	return 0, false
}

// UserPreferences — получатель уведомлений и его настройки.
type UserPreferences struct {
	ID             string
	UserID         string
	TelegramChatID string
	Timezone       string
	Sizes          UserSizes
	Settings       AlertSettings
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WatchlistItem — товар в списке наблюдения пользователя.
type WatchlistItem struct {
	ID               string
	UserID           string
	ProductID        string
	AlertOnRestock   bool
	AlertOnPriceDrop bool
	TargetPrice      *float64
	Notes            string
	AddedAt          time.Time
}
