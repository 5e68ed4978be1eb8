package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog"

	"hype-hunter/internal/domain"
	"hype-hunter/internal/infra/metrics"
)

// ErrEmptySourceID возвращается при попытке прогнать пакет без источника.
var ErrEmptySourceID = errors.New("не указан идентификатор источника")

// unknownBrand — сентинел «бренд не распознан»: строка бренда не создаётся.
const unknownBrand = "Unknown"

// Options описывают прогон пакета находок одного источника.
type Options struct {
	SourceID             string
	SourceName           string
	AutoApproveThreshold int
}

// DiscoveryHandler получает карточку, заведённую и сразу одобренную инжестом.
// Сюда подписывается диспетчер уведомлений о находках.
type DiscoveryHandler interface {
	NotifyDiscovery(ctx context.Context, product domain.Product) error
}

// Service реализует конвейер инжеста находок: нормализация, поиск дубликатов,
// заведение брендов и карточек, привязка происхождения.
type Service struct {
	brands         domain.BrandRepo
	sources        domain.SourceRepo
	products       domain.ProductRepo
	provenance     domain.ProvenanceRepo
	handler        DiscoveryHandler
	log            zerolog.Logger
	candidateLimit int
}

// NewService создаёт сервис инжеста. handler может быть nil.
func NewService(brands domain.BrandRepo, sources domain.SourceRepo, products domain.ProductRepo, provenance domain.ProvenanceRepo, handler DiscoveryHandler, logger zerolog.Logger, candidateLimit int) *Service {
	if candidateLimit <= 0 {
		candidateLimit = 10
	}
	return &Service{brands: brands, sources: sources, products: products, provenance: provenance, handler: handler, log: logger, candidateLimit: candidateLimit}
}

// SaveDiscoveries обрабатывает пакет находок. Ошибка одной позиции не
// прерывает остальные: отчёт возвращается всегда, даже при errors > 0.
// Отмена контекста останавливает прогон между позициями, уже сделанные
// записи остаются.
func (s *Service) SaveDiscoveries(ctx context.Context, discoveries []domain.DiscoveryResult, opts Options) (domain.IngestReport, error) {
	if opts.SourceID == "" {
		return domain.IngestReport{}, ErrEmptySourceID
	}
	if opts.AutoApproveThreshold == 0 {
		opts.AutoApproveThreshold = 85
	}

	batchStart := time.Now()
	report := domain.IngestReport{}
	s.log.Info().Str("source", opts.SourceName).Int("count", len(discoveries)).Msg("инжест: начало обработки пакета")

	for _, discovery := range discoveries {
		if err := ctx.Err(); err != nil {
			s.log.Warn().Str("source", opts.SourceName).Msg("инжест: прогон прерван")
			break
		}
		outcome, err := s.processDiscovery(ctx, discovery, opts)
		if err != nil {
			report.Errors++
			report.Details.ErrorMessages = append(report.Details.ErrorMessages, fmt.Sprintf("%s: %v", discovery.Name, err))
			metrics.DiscoveriesIngested.WithLabelValues(opts.SourceName, "error").Inc()
			s.log.Error().Err(err).Str("name", discovery.Name).Msg("инжест: позиция завершилась ошибкой")
			continue
		}
		switch outcome {
		case outcomeNew:
			report.New++
			report.Details.NewProducts = append(report.Details.NewProducts, discovery.Name)
			metrics.DiscoveriesIngested.WithLabelValues(opts.SourceName, "new").Inc()
		case outcomeExisting:
			report.Existing++
			report.Details.ExistingProducts = append(report.Details.ExistingProducts, discovery.Name)
			metrics.DiscoveriesIngested.WithLabelValues(opts.SourceName, "existing").Inc()
		}
	}

	if err := s.sources.RecordScrapeResult(ctx, opts.SourceID, report.Errors == 0); err != nil {
		s.log.Warn().Err(err).Str("source", opts.SourceName).Msg("инжест: не удалось обновить статистику источника")
	}

	metrics.IngestBatchSeconds.Observe(time.Since(batchStart).Seconds())
	s.log.Info().Str("source", opts.SourceName).Int("new", report.New).Int("existing", report.Existing).Int("errors", report.Errors).Msg("инжест: пакет обработан")
	return report, nil
}

type discoveryOutcome int

const (
	outcomeNew discoveryOutcome = iota
	outcomeExisting
)

func (s *Service) processDiscovery(ctx context.Context, discovery domain.DiscoveryResult, opts Options) (discoveryOutcome, error) {
	candidates, err := s.products.SearchProductsByName(ctx, SearchFragment(discovery.Name), s.candidateLimit)
	if err != nil {
		return 0, fmt.Errorf("поиск кандидатов: %w", err)
	}

	for _, candidate := range candidates {
		if IsSameProduct(candidate.Name, discovery.Name) {
			s.linkProvenance(ctx, candidate.ID, opts.SourceID, discovery)
			return outcomeExisting, nil
		}
	}

	brandID, err := s.ResolveBrand(ctx, discovery.Brand)
	if err != nil {
		return 0, fmt.Errorf("бренд %q: %w", discovery.Brand, err)
	}

	now := time.Now().UTC()
	confidence := discovery.ConfidenceScore
	product := domain.Product{
		Name:             discovery.Name,
		BrandID:          brandID,
		Collaborator:     discovery.Collaborator,
		Category:         discovery.Category,
		SKU:              discovery.SKU,
		ImageURL:         discovery.ImageURL,
		ReleaseDate:      discovery.ReleaseDate,
		RetailPrice:      discovery.RetailPrice,
		ConfidenceScore:  &confidence,
		IsLimitedEdition: discovery.IsLimitedEdition,
		Status:           domain.ProductPendingReview,
	}
	if discovery.ConfidenceScore >= opts.AutoApproveThreshold {
		product.Status = domain.ProductApproved
		product.ApprovedAt = &now
	}

	created, err := s.products.CreateProduct(ctx, product)
	if err != nil {
		return 0, fmt.Errorf("создание карточки: %w", err)
	}
	if created.ID == "" {
		return 0, errors.New("хранилище не вернуло id новой карточки")
	}

	s.linkProvenance(ctx, created.ID, opts.SourceID, discovery)
	s.log.Debug().Str("name", discovery.Name).Str("status", string(created.Status)).Msg("инжест: заведена карточка")

	if s.handler != nil && created.Status == domain.ProductApproved {
		if err := s.handler.NotifyDiscovery(ctx, created); err != nil {
			// Карточка заведена, уведомление вторично.
			s.log.Warn().Err(err).Str("name", created.Name).Msg("инжест: не удалось разослать уведомление о находке")
		}
	}
	return outcomeNew, nil
}

// ResolveBrand возвращает id бренда по имени, заводя бренд при первом
// появлении. Пустое имя и сентинел "Unknown" дают nil без создания строки.
// Гонка конкурентных созданий разрешается перечитыванием по slug.
func (s *Service) ResolveBrand(ctx context.Context, name string) (*string, error) {
	if name == "" || name == unknownBrand {
		return nil, nil
	}

	brandSlug := slug.Make(name)
	existing, err := s.brands.GetBrandBySlug(ctx, brandSlug)
	if err == nil {
		return &existing.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("поиск бренда: %w", err)
	}

	created, err := s.brands.CreateBrand(ctx, domain.Brand{Name: name, Slug: brandSlug, HeatScore: 50})
	if errors.Is(err, domain.ErrDuplicate) {
		// Конкурент успел первым: перечитываем и возвращаем его строку.
		existing, rereadErr := s.brands.GetBrandBySlug(ctx, brandSlug)
		if rereadErr != nil {
			return nil, fmt.Errorf("перечитывание бренда после гонки: %w", rereadErr)
		}
		return &existing.ID, nil
	}
	if err != nil {
		return nil, fmt.Errorf("создание бренда: %w", err)
	}
	s.log.Info().Str("brand", name).Msg("инжест: заведён новый бренд")
	return &created.ID, nil
}

// EnsureSource идемпотентно находит или заводит источник по scraper_id.
// В отличие от привязки происхождения, ошибка здесь фатальна для прогона:
// без id источника ссылки на происхождение некорректны.
func (s *Service) EnsureSource(ctx context.Context, scraperID, name, url string, sourceType domain.SourceType) (string, error) {
	if scraperID == "" {
		return "", ErrEmptySourceID
	}
	if sourceType == "" {
		sourceType = domain.SourceCalendar
	}

	existing, err := s.sources.GetSourceByScraperID(ctx, scraperID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("поиск источника: %w", err)
	}

	created, err := s.sources.CreateSource(ctx, domain.Source{
		Name:                 name,
		Type:                 sourceType,
		URL:                  url,
		ScraperID:            scraperID,
		CheckIntervalMinutes: 360,
		IsActive:             true,
		ReliabilityScore:     80,
	})
	if errors.Is(err, domain.ErrDuplicate) {
		existing, rereadErr := s.sources.GetSourceByScraperID(ctx, scraperID)
		if rereadErr != nil {
			return "", fmt.Errorf("перечитывание источника после гонки: %w", rereadErr)
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("создание источника: %w", err)
	}
	s.log.Info().Str("source", name).Str("id", created.ID).Msg("инжест: заведён источник")
	return created.ID, nil
}

// linkProvenance привязывает товар к источнику. Происхождение — метаданные
// лучших усилий: сбой логируется, но не валит позицию.
func (s *Service) linkProvenance(ctx context.Context, productID, sourceID string, discovery domain.DiscoveryResult) {
	err := s.provenance.LinkProductSource(ctx, domain.ProductSource{
		ProductID:   productID,
		SourceID:    sourceID,
		ExternalURL: discovery.SourceURL,
		RawData:     discovery.RawData,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("product", productID).Str("source", sourceID).Msg("инжест: не удалось привязать источник")
	}
}
