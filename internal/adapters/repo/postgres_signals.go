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

var _ domain.HypeRepo = (*Postgres)(nil)

// AppendHypeScore добавляет точку временного ряда хайп-скора.
func (p *Postgres) AppendHypeScore(ctx context.Context, score domain.HypeScore) (domain.HypeScore, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if score.ID == "" {
		score.ID = uuid.NewString()
	}
	if score.RecordedAt.IsZero() {
		score.RecordedAt = time.Now().UTC()
	}
	components, err := json.Marshal(score.Components)
	if err != nil {
		return domain.HypeScore{}, fmt.Errorf("marshal components: %w", err)
	}
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO hype_scores (id, product_id, total_score, components, recorded_at)
VALUES ($1, $2, $3, $4, $5)
`, score.ID, score.ProductID, score.TotalScore, components, score.RecordedAt)
	metrics.ObserveNetworkRequest("postgres", "hype_scores_insert", "hype_scores", start, err)
	if err != nil {
		return domain.HypeScore{}, err
	}
	return score, nil
}

// LatestHypeScoreBefore возвращает последнюю запись строго до before.
func (p *Postgres) LatestHypeScoreBefore(ctx context.Context, productID string, before time.Time) (domain.HypeScore, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		score      domain.HypeScore
		components []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, product_id, total_score, components, recorded_at
FROM hype_scores
WHERE product_id=$1 AND recorded_at < $2
ORDER BY recorded_at DESC
LIMIT 1
`, productID, before).Scan(&score.ID, &score.ProductID, &score.TotalScore, &components, &score.RecordedAt)
	metrics.ObserveNetworkRequest("postgres", "hype_scores_latest_before", "hype_scores", start, err)
	if err != nil {
		return domain.HypeScore{}, mapPgError(err)
	}
	if len(components) > 0 {
		if err := json.Unmarshal(components, &score.Components); err != nil {
			return domain.HypeScore{}, fmt.Errorf("unmarshal components: %w", err)
		}
	}
	return score, nil
}

// AppendPriceHistory добавляет точку временного ряда цен.
func (p *Postgres) AppendPriceHistory(ctx context.Context, point domain.PriceHistory) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if point.ID == "" {
		point.ID = uuid.NewString()
	}
	if point.RecordedAt.IsZero() {
		point.RecordedAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO price_history (id, product_id, retail_price, stockx_price, goat_price, avg_resale_price, resale_premium_pct, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, point.ID, point.ProductID, point.RetailPrice, point.StockXPrice, point.GoatPrice, point.AvgResalePrice, point.ResalePremiumPct, point.RecordedAt)
	metrics.ObserveNetworkRequest("postgres", "price_history_insert", "price_history", start, err)
	return err
}

// LatestPriceHistory возвращает последнюю ценовую точку товара.
func (p *Postgres) LatestPriceHistory(ctx context.Context, productID string) (domain.PriceHistory, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		point      domain.PriceHistory
		retail     sql.NullFloat64
		stockx     sql.NullFloat64
		goat       sql.NullFloat64
		avgResale  sql.NullFloat64
		premiumPct sql.NullFloat64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, product_id, retail_price, stockx_price, goat_price, avg_resale_price, resale_premium_pct, recorded_at
FROM price_history
WHERE product_id=$1
ORDER BY recorded_at DESC
LIMIT 1
`, productID).Scan(&point.ID, &point.ProductID, &retail, &stockx, &goat, &avgResale, &premiumPct, &point.RecordedAt)
	metrics.ObserveNetworkRequest("postgres", "price_history_latest", "price_history", start, err)
	if err != nil {
		return domain.PriceHistory{}, mapPgError(err)
	}
	point.RetailPrice = nullFloat(retail)
	point.StockXPrice = nullFloat(stockx)
	point.GoatPrice = nullFloat(goat)
	point.AvgResalePrice = nullFloat(avgResale)
	point.ResalePremiumPct = nullFloat(premiumPct)
	return point, nil
}

// AppendSocialSignal добавляет точку временного ряда соц-упоминаний.
func (p *Postgres) AppendSocialSignal(ctx context.Context, signal domain.SocialSignal) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	if signal.RecordedAt.IsZero() {
		signal.RecordedAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO social_signals (id, product_id, twitter_mentions, reddit_mentions, tiktok_mentions, avg_sentiment, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, signal.ID, signal.ProductID, signal.TwitterMentions, signal.RedditMentions, signal.TikTokMentions, signal.AvgSentiment, signal.RecordedAt)
	metrics.ObserveNetworkRequest("postgres", "social_signals_insert", "social_signals", start, err)
	return err
}

// LatestSocialSignal возвращает последнюю точку соц-упоминаний товара.
func (p *Postgres) LatestSocialSignal(ctx context.Context, productID string) (domain.SocialSignal, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		signal    domain.SocialSignal
		sentiment sql.NullFloat64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, product_id, twitter_mentions, reddit_mentions, tiktok_mentions, avg_sentiment, recorded_at
FROM social_signals
WHERE product_id=$1
ORDER BY recorded_at DESC
LIMIT 1
`, productID).Scan(&signal.ID, &signal.ProductID, &signal.TwitterMentions, &signal.RedditMentions, &signal.TikTokMentions, &sentiment, &signal.RecordedAt)
	metrics.ObserveNetworkRequest("postgres", "social_signals_latest", "social_signals", start, err)
	if err != nil {
		return domain.SocialSignal{}, mapPgError(err)
	}
	signal.AvgSentiment = nullFloat(sentiment)
	return signal, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	value := v.Float64
	return &value
}
