package domain

import (
	"context"
	"time"
)

// AlertJob — задача на доставку уведомления. Ставится в очередь стороной,
// обнаружившей изменение, и обрабатывается воркером доставки.
type AlertJob struct {
	ID          string    `json:"job_id"`
	Type        AlertType `json:"type"`
	UserID      string    `json:"user_id"`
	ChatID      string    `json:"chat_id"`
	ProductID   string    `json:"product_id,omitempty"`
	StockItemID string    `json:"stock_item_id,omitempty"`
	OldPrice    *float64  `json:"old_price,omitempty"`
	NewPrice    *float64  `json:"new_price,omitempty"`
	Date        time.Time `json:"date,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// AlertAckFunc подтверждает обработку задачи или возвращает её в очередь.
type AlertAckFunc func(success bool) error

// AlertQueue — очередь задач на доставку уведомлений.
type AlertQueue interface {
	Enqueue(ctx context.Context, job AlertJob) error
	Receive(ctx context.Context) (AlertJob, AlertAckFunc, error)
}
