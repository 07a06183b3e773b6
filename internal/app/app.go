package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinebook/internal/backend/pgbackend"
	"github.com/kirinyoku/cinebook/internal/backend/tikera"
	"github.com/kirinyoku/cinebook/internal/config"
	"github.com/kirinyoku/cinebook/internal/postgres"
	"github.com/kirinyoku/cinebook/internal/queue"
	"github.com/kirinyoku/cinebook/internal/redis"
	postgresrepo "github.com/kirinyoku/cinebook/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
	"github.com/kirinyoku/cinebook/internal/service"
	"github.com/kirinyoku/cinebook/internal/service/checkout"
	"github.com/kirinyoku/cinebook/internal/service/screenings"
	httpgin "github.com/kirinyoku/cinebook/internal/transport/http/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const idempotencyTTL = 2 * time.Hour

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	pubsub     *redisrepo.ScreeningsPubSub
	publisher  *queue.Publisher
	rdb        *goredis.Client
	pool       *pgxpool.Pool
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx := context.Background()

	a := &App{cfg: cfg, logger: logger}

	rdb, err := redis.New(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}
	a.rdb = rdb

	// Initialize repositories
	cache := redisrepo.NewCache(rdb)
	a.pubsub = redisrepo.NewScreeningsPubSub(rdb)

	backend, notifier, err := a.newBackend(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "submit", cfg.Booking.SubmitRateLimit, cfg.Booking.SubmitRateWindow)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, idempotencyTTL)
	sessions := checkout.NewRedisStore(redisrepo.NewSessionStore(rdb, cfg.Booking.SessionTTL))

	a.publisher = queue.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger)

	deps := service.Deps{
		Store:       sessions,
		Limiter:     limiter,
		Idempotency: idempotencyStore,
		Notifier:    notifier,
	}
	if a.publisher.Enabled() {
		deps.Events = a.publisher
	}

	// Initialize services
	a.services = service.NewServices(backend, cache, deps, logger, service.Config{
		Screenings: screenings.Config{
			ScreeningTTL: cfg.Booking.ScreeningCacheTTL,
			CatalogTTL:   cfg.Booking.CatalogCacheTTL,
		},
		Checkout: checkout.Config{
			Location:        cfg.Booking.Location,
			RecheckOccupied: cfg.Booking.RecheckOccupied,
		},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(a.services, logger, httpgin.AuthMiddleware(cfg.Auth.JWTSecret))

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// newBackend returns the configured backend and the notifier the services
// should announce seat changes through. The postgres backend announces its
// own changes after commit, so it gets no service-level notifier.
func (a *App) newBackend(ctx context.Context) (service.Backend, checkout.Notifier, error) {
	switch a.cfg.Backend {
	case config.BackendPostgres:
		pool, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.Postgres.DSN(), ApplicationName: "cinebook"})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		a.pool = pool

		a.logger.Info("using postgres backend", "host", a.cfg.Postgres.Host, "db", a.cfg.Postgres.Name)
		store := postgresrepo.NewStore(pool)
		return pgbackend.New(store, a.pubsub, pgbackend.Config{Location: a.cfg.Booking.Location}), nil, nil
	default:
		a.logger.Info("using tikera backend", "base_url", a.cfg.Tikera.BaseURL)
		return tikera.New(tikera.Config{BaseURL: a.cfg.Tikera.BaseURL, Timeout: a.cfg.Tikera.Timeout}), a.pubsub, nil
	}
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Drop cached screenings booked through other instances
	g.Go(func() error {
		err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, screeningID int64) {
			a.logger.Debug("screening changed", "screening_id", screeningID)
			a.services.Screenings.Invalidate(ctx, screeningID)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("screenings subscriber: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close() {
	// booking events still in flight
	if a.services != nil {
		a.services.Checkout.Close()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
