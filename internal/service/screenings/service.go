package screenings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/cinebook/internal/booking"
	"github.com/kirinyoku/cinebook/internal/domain"
	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
)

// Source is the read side of a booking backend.
type Source interface {
	FetchScreening(ctx context.Context, id int64) (*domain.Screening, error)
	FetchTicketCatalog(ctx context.Context) ([]domain.TicketType, error)
}

type Config struct {
	ScreeningTTL time.Duration
	CatalogTTL   time.Duration
}

type Service struct {
	src   Source
	cache *redisrepo.Cache
	log   *slog.Logger
	cfg   Config
}

// New builds the service. A nil cache makes every read go to src.
func New(src Source, cache *redisrepo.Cache, log *slog.Logger, cfg Config) *Service {
	if cfg.ScreeningTTL <= 0 {
		cfg.ScreeningTTL = 15 * time.Second
	}

	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = 10 * time.Minute
	}

	return &Service{
		src:   src,
		cache: cache,
		log:   log,
		cfg:   cfg,
	}
}

// Screening returns the screening with its occupied seats, served from cache
// when possible.
//
// Returns domain.ErrScreeningNotFound if the backend does not know it.
func (s *Service) Screening(ctx context.Context, id int64) (*domain.Screening, error) {
	const op = "service.screenings.Screening"

	if s.cache == nil {
		return s.Fresh(ctx, id)
	}

	sc, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyScreening(id),
		s.cfg.ScreeningTTL,
		func(ctx context.Context) (domain.Screening, error) {
			sc, err := s.src.FetchScreening(ctx, id)
			if err != nil {
				return domain.Screening{}, err
			}
			return *sc, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &sc, nil
}

// Fresh bypasses the cache and refreshes it with the result.
func (s *Service) Fresh(ctx context.Context, id int64) (*domain.Screening, error) {
	const op = "service.screenings.Fresh"

	sc, err := s.src.FetchScreening(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.cache != nil {
		if err := redisrepo.SetJSON(ctx, s.cache, redisrepo.KeyScreening(id), sc, s.cfg.ScreeningTTL); err != nil {
			s.log.Warn("screening cache write failed", slog.Int64("screening_id", id), slog.Any("err", err))
		}
	}

	return sc, nil
}

// Catalog returns the ticket catalog. A failing or empty backend answer
// yields the default catalog; this never fails.
func (s *Service) Catalog(ctx context.Context) booking.Catalog {
	load := func(ctx context.Context) ([]domain.TicketType, error) {
		return s.src.FetchTicketCatalog(ctx)
	}

	var (
		types []domain.TicketType
		err   error
	)
	if s.cache == nil {
		types, err = load(ctx)
	} else {
		types, err = redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyTicketCatalog(), s.cfg.CatalogTTL, load)
	}

	if err != nil {
		s.log.Warn("catalog fallback", slog.String("reason", "fetch failed"), slog.Any("err", err))
		return booking.DefaultCatalog.Clone()
	}

	catalog := booking.CatalogOrDefault(types)
	if len(types) == 0 {
		s.log.Warn("catalog fallback", slog.String("reason", "empty catalog"))
	}

	return catalog
}

// Invalidate drops the cached screening.
func (s *Service) Invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateScreening(ctx, id); err != nil {
		s.log.Warn("screening cache invalidation failed", slog.Int64("screening_id", id), slog.Any("err", err))
	}
}
