package alerts

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"hype-hunter/internal/domain"
)

const (
	digestDiscoveryLimit = 5
	digestTrendPool      = 20
	digestTrendLimit     = 3
)

// BuildDigest собирает содержимое суточного дайджеста на дату date.
func (s *Service) BuildDigest(ctx context.Context, date time.Time) (DigestContent, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	content := DigestContent{Date: day}

	discoveries, err := s.deps.Products.ListDiscoveredSince(ctx, day.Add(-24*time.Hour), digestDiscoveryLimit)
	if err != nil {
		return content, fmt.Errorf("находки за сутки: %w", err)
	}
	content.TopDiscoveries = discoveries

	trending, err := s.collectTrending(ctx, day)
	if err != nil {
		// Дайджест без раздела трендов лучше, чем никакого.
		s.log.Warn().Err(err).Msg("раздел трендов пропущен")
	} else {
		content.Trending = trending
	}

	tomorrow := day.Add(24 * time.Hour)
	releases, err := s.deps.Products.ListReleasingBetween(ctx, tomorrow, tomorrow.Add(24*time.Hour))
	if err != nil {
		return content, fmt.Errorf("релизы на завтра: %w", err)
	}
	content.ReleasesTomorrow = releases
	return content, nil
}

func (s *Service) collectTrending(ctx context.Context, day time.Time) ([]TrendingProduct, error) {
	if s.deps.Trends == nil {
		return nil, nil
	}
	pool, err := s.deps.Products.ListDiscoveredSince(ctx, day.Add(-7*24*time.Hour), digestTrendPool)
	if err != nil {
		return nil, err
	}
	var trending []TrendingProduct
	for _, product := range pool {
		change, err := s.deps.Trends.TrendDelta(ctx, product.ID, s.cfg.TrendWindow)
		if err != nil {
			s.log.Warn().Err(err).Str("product_id", product.ID).Msg("не удалось посчитать тренд")
			continue
		}
		if change > 0 {
			trending = append(trending, TrendingProduct{Product: product, Change: change})
		}
	}
	sort.Slice(trending, func(i, j int) bool { return trending[i].Change > trending[j].Change })
	if len(trending) > digestTrendLimit {
		trending = trending[:digestTrendLimit]
	}
	return trending, nil
}

// EnqueueDigests ставит задачи на дайджест получателям, у которых сейчас
// их локальный час отправки. Вызывается планировщиком раз в час; суточный
// замок в кэше защищает от повторной постановки при повторном вызове.
func (s *Service) EnqueueDigests(ctx context.Context, now time.Time) error {
	recipients, err := s.deps.Users.ListDigestRecipients(ctx)
	if err != nil {
		return fmt.Errorf("получатели дайджеста: %w", err)
	}
	now = now.UTC()
	for _, prefs := range recipients {
		local := s.localTime(prefs, now)
		if local.Hour() != s.digestHour(prefs) {
			continue
		}
		key := fmt.Sprintf("digest:%s:%s", prefs.UserID, local.Format("2006-01-02"))
		job := domain.AlertJob{
			ID:          uuid.NewString(),
			Type:        domain.AlertDigest,
			UserID:      prefs.UserID,
			ChatID:      prefs.TelegramChatID,
			Date:        now,
			RequestedAt: now,
		}
		err := s.deps.Cache.Once(key, 24*time.Hour, func() error {
			return s.deps.Queue.Enqueue(ctx, job)
		})
		if err != nil {
			s.log.Error().Err(err).Str("user_id", prefs.UserID).Msg("не удалось поставить дайджест в очередь")
		}
	}
	return nil
}

func (s *Service) digestHour(prefs domain.UserPreferences) int {
	if clock, ok := parseDigestTime(prefs.Settings.DigestTime); ok {
		return clock
	}
	return s.cfg.DigestHour
}

func parseDigestTime(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, false
	}
	return t.Hour(), true
}
