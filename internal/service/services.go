package service

import (
	"log/slog"

	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
	"github.com/kirinyoku/cinebook/internal/service/bookings"
	"github.com/kirinyoku/cinebook/internal/service/checkout"
	"github.com/kirinyoku/cinebook/internal/service/screenings"
)

// Backend is everything a booking backend provides.
type Backend interface {
	screenings.Source
	checkout.Submitter
	bookings.Source
}

type Services struct {
	Screenings *screenings.Service
	Checkout   *checkout.Service
	Bookings   *bookings.Service
}

type Config struct {
	Screenings screenings.Config
	Checkout   checkout.Config
}

// Deps carries the checkout collaborators other than the read side and the
// backend, which NewServices fills in. Deps.Notifier also announces
// cancellations.
type Deps = checkout.Deps

func NewServices(
	backend Backend,
	cache *redisrepo.Cache,
	deps Deps,
	logger *slog.Logger,
	cfg Config,
) *Services {
	scr := screenings.New(backend, cache, logger, cfg.Screenings)

	deps.Screenings = scr
	deps.Backend = backend

	return &Services{
		Screenings: scr,
		Checkout:   checkout.New(deps, logger, cfg.Checkout),
		Bookings:   bookings.New(backend, scr, deps.Notifier, logger),
	}
}

