package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/booking"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/queue"
	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
	"golang.org/x/sync/errgroup"
)

// Screenings is the cached read side the checkout needs.
type Screenings interface {
	Screening(ctx context.Context, id int64) (*domain.Screening, error)
	Fresh(ctx context.Context, id int64) (*domain.Screening, error)
	Catalog(ctx context.Context) booking.Catalog
	Invalidate(ctx context.Context, id int64)
}

type Submitter interface {
	SubmitBooking(ctx context.Context, req domain.BookingRequest) (*domain.BookingConfirmation, error)
}

type Limiter interface {
	Allow(ctx context.Context, id string) (bool, time.Duration, error)
}

type Idempotency interface {
	Acquire(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	SaveResult(ctx context.Context, key string, payload []byte) error
	Result(ctx context.Context, key string) ([]byte, bool, error)
	Release(ctx context.Context, key string) error
}

type Notifier interface {
	PublishScreeningChanged(ctx context.Context, screeningID int64) error
}

type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
}

// Deps wires the service. Limiter, Idempotency, Notifier and Events are
// optional.
type Deps struct {
	Screenings  Screenings
	Backend     Submitter
	Store       Store
	Limiter     Limiter
	Idempotency Idempotency
	Notifier    Notifier
	Events      EventPublisher
}

type Config struct {
	Location           *time.Location
	RecheckOccupied    bool
	IdempotencyLockTTL time.Duration
	// EventTimeout bounds a booking-confirmed publish, which runs after the
	// submit has returned.
	EventTimeout time.Duration
}

type Service struct {
	deps Deps
	log  *slog.Logger
	cfg  Config
	now  func() time.Time

	bg sync.WaitGroup
}

func New(deps Deps, log *slog.Logger, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	if cfg.IdempotencyLockTTL <= 0 {
		cfg.IdempotencyLockTTL = 30 * time.Second
	}

	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 5 * time.Second
	}

	return &Service{
		deps: deps,
		log:  log,
		cfg:  cfg,
		now:  time.Now,
	}
}

// View is the state of a session as shown to its owner.
type View struct {
	SessionID  string
	Screening  domain.Screening
	Catalog    booking.Catalog
	Summary    booking.Summary
	Grid       []booking.GridRow
	InPast     bool
	Submitting bool
	LastError  string
}

func (s *Service) view(sess *Session, d *booking.Draft) *View {
	now := s.now().In(s.cfg.Location)
	sc := d.Screening()
	return &View{
		SessionID:  sess.ID,
		Screening:  sc,
		Catalog:    d.Catalog(),
		Summary:    d.Summary(),
		Grid:       d.Grid(),
		InPast:     sc.InPast(now, now.Location()),
		Submitting: sess.submitBlocked(s.now()),
		LastError:  sess.LastError,
	}
}

// Start opens a booking session for a screening. The screening and the
// ticket catalog are fetched in parallel; the catalog falls back to the
// default one.
//
// Returns domain.ErrScreeningNotFound for unknown screenings.
func (s *Service) Start(ctx context.Context, screeningID int64) (*View, error) {
	const op = "service.checkout.Start"

	var (
		sc      *domain.Screening
		catalog booking.Catalog
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.deps.Screenings.Screening(gctx, screeningID)
		if err != nil {
			return err
		}
		sc = v
		return nil
	})
	g.Go(func() error {
		catalog = s.deps.Screenings.Catalog(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	d := booking.NewDraft(*sc, catalog)

	now := s.now()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    domain.PrincipalFrom(ctx).UserID,
		Draft:     d.Snapshot(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("booking session started",
		slog.String("session_id", sess.ID),
		slog.Int64("screening_id", screeningID),
	)

	return s.view(sess, d), nil
}

func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	const op = "service.checkout.Get"

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.view(sess, booking.Restore(sess.Draft)), nil
}

// Discard drops a session. A session that is being submitted cannot be
// discarded.
func (s *Service) Discard(ctx context.Context, id string) error {
	const op = "service.checkout.Discard"

	sess, err := s.load(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if sess.submitBlocked(s.now()) {
		return fmt.Errorf("%s: %w", op, ErrSubmitInProgress)
	}

	if err := s.deps.Store.Delete(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Service) AddTicket(ctx context.Context, id string) (*View, error) {
	return s.mutate(ctx, id, "service.checkout.AddTicket", func(d *booking.Draft) error {
		return d.AddLineItem()
	})
}

func (s *Service) UpdateTicket(ctx context.Context, id string, index int, field booking.Field, value string) (*View, error) {
	return s.mutate(ctx, id, "service.checkout.UpdateTicket", func(d *booking.Draft) error {
		return d.UpdateLineItem(index, field, value)
	})
}

func (s *Service) RemoveTicket(ctx context.Context, id string, index int) (*View, error) {
	return s.mutate(ctx, id, "service.checkout.RemoveTicket", func(d *booking.Draft) error {
		return d.RemoveLineItem(index)
	})
}

func (s *Service) ToggleSeat(ctx context.Context, id string, row, seat int) (*View, error) {
	return s.mutate(ctx, id, "service.checkout.ToggleSeat", func(d *booking.Draft) error {
		return d.ToggleSeat(row, seat)
	})
}

func (s *Service) Next(ctx context.Context, id string) (*View, error) {
	return s.mutate(ctx, id, "service.checkout.Next", func(d *booking.Draft) error {
		return d.Next()
	})
}

func (s *Service) Back(ctx context.Context, id string) (*View, error) {
	return s.mutate(ctx, id, "service.checkout.Back", func(d *booking.Draft) error {
		return d.Back()
	})
}

// Submit finalizes the draft and sends it to the backend.
//
// With an idempotency key, a repeated call returns the first confirmation
// without counting against the rate limit. clientKey identifies the caller
// for rate limiting. When re-checking is on, the occupied seats are
// refreshed first and seats taken meanwhile are dropped from the draft
// (SeatsTakenError). A failed submit keeps the draft and records the error
// on the session.
func (s *Service) Submit(ctx context.Context, id, idemKey, clientKey string) (*domain.BookingConfirmation, error) {
	const op = "service.checkout.Submit"

	var key string
	if s.deps.Idempotency != nil && idemKey != "" {
		key = redisrepo.KeyIdemSubmit(id, idemKey)

		conf, err := s.replay(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if conf != nil {
			return conf, nil
		}
	}

	if s.deps.Limiter != nil && clientKey != "" {
		ok, retry, err := s.deps.Limiter.Allow(ctx, clientKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: %w", op, &RateLimitError{RetryAfter: retry})
		}
	}

	if key != "" {
		ok, err := s.deps.Idempotency.Acquire(ctx, key, s.cfg.IdempotencyLockTTL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrIdempotencyInFlight)
		}
	}

	userID, conf, err := s.submit(ctx, id)
	if err != nil {
		if key != "" {
			_ = s.deps.Idempotency.Release(context.WithoutCancel(ctx), key)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if key != "" {
		b, err := json.Marshal(submitResult{UserID: userID, Booking: *conf})
		if err == nil {
			err = s.deps.Idempotency.SaveResult(context.WithoutCancel(ctx), key, b)
		}
		if err != nil {
			s.log.Warn("idempotency result not saved", slog.String("session_id", id), slog.Any("err", err))
		}
	}

	return conf, nil
}

// submitResult is what a repeated submit with the same key replays.
type submitResult struct {
	UserID  string                     `json:"user_id,omitempty"`
	Booking domain.BookingConfirmation `json:"booking"`
}

// replay returns the stored confirmation for key, or nil when there is none.
// A confirmation made by a signed-in user is only replayed to that user.
func (s *Service) replay(ctx context.Context, key string) (*domain.BookingConfirmation, error) {
	b, ok, err := s.deps.Idempotency.Result(ctx, key)
	if err != nil || !ok {
		return nil, nil
	}

	var res submitResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, nil
	}

	if res.UserID != "" && res.UserID != domain.PrincipalFrom(ctx).UserID {
		return nil, ErrSessionNotFound
	}

	return &res.Booking, nil
}

func (s *Service) submit(ctx context.Context, id string) (string, *domain.BookingConfirmation, error) {
	started := s.now()

	sess, err := s.deps.Store.Update(ctx, id, func(sess *Session) error {
		if err := authorize(ctx, sess); err != nil {
			return err
		}
		if sess.submitBlocked(started) {
			return ErrSubmitInProgress
		}
		sess.Submitting = true
		sess.SubmittingSince = started
		sess.LastError = ""
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	d := booking.Restore(sess.Draft)

	conf, err := s.send(ctx, d)
	if err != nil {
		s.fail(ctx, sess, d, err)
		return "", nil, err
	}

	if conf.TotalPrice.IsZero() {
		conf.TotalPrice = d.TotalPrice()
	}
	if conf.ScreeningID == 0 {
		conf.ScreeningID = d.ScreeningID()
	}

	s.succeed(ctx, sess, conf)

	return sess.UserID, conf, nil
}

func (s *Service) send(ctx context.Context, d *booking.Draft) (*domain.BookingConfirmation, error) {
	req, err := d.Finalize(s.now().In(s.cfg.Location))
	if err != nil {
		return nil, err
	}

	if s.cfg.RecheckOccupied {
		fresh, err := s.deps.Screenings.Fresh(ctx, d.ScreeningID())
		if err != nil {
			return nil, err
		}
		if taken := d.RefreshOccupied(fresh.OccupiedSeats); len(taken) > 0 {
			return nil, &SeatsTakenError{Seats: taken}
		}
	}

	return s.deps.Backend.SubmitBooking(ctx, req)
}

// fail clears the submit flag and keeps the draft, which the re-check may
// have changed, together with a message for the user.
func (s *Service) fail(ctx context.Context, sess *Session, d *booking.Draft, cause error) {
	ctx = context.WithoutCancel(ctx)
	msg := userMessage(cause)

	_, err := s.deps.Store.Update(ctx, sess.ID, func(cur *Session) error {
		cur.Submitting = false
		cur.SubmittingSince = time.Time{}
		cur.Draft = d.Snapshot()
		cur.LastError = msg
		cur.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		s.log.Warn("session not updated after failed submit", slog.String("session_id", sess.ID), slog.Any("err", err))
	}

	s.log.Info("booking rejected",
		slog.String("session_id", sess.ID),
		slog.Int64("screening_id", d.ScreeningID()),
		slog.String("reason", msg),
	)
}

func (s *Service) succeed(ctx context.Context, sess *Session, conf *domain.BookingConfirmation) {
	ctx = context.WithoutCancel(ctx)

	if err := s.deps.Store.Delete(ctx, sess.ID); err != nil {
		s.log.Warn("session not deleted after submit", slog.String("session_id", sess.ID), slog.Any("err", err))
	}

	s.deps.Screenings.Invalidate(ctx, conf.ScreeningID)

	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.PublishScreeningChanged(ctx, conf.ScreeningID); err != nil {
			s.log.Warn("screening change not published", slog.Int64("screening_id", conf.ScreeningID), slog.Any("err", err))
		}
	}

	if s.deps.Events != nil {
		s.publish(ctx, queue.NewBookingConfirmed(*conf, sess.UserID, s.now()))
	}

	s.log.Info("booking submitted",
		slog.String("session_id", sess.ID),
		slog.Int64("booking_id", conf.ID),
		slog.Int64("screening_id", conf.ScreeningID),
		slog.String("total_price", conf.TotalPrice.String()),
	)
}

// publish sends the event in the background so a slow or unreachable broker
// never delays the submit response.
func (s *Service) publish(ctx context.Context, ev queue.BookingConfirmedEvent) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		ctx, cancel := context.WithTimeout(ctx, s.cfg.EventTimeout)
		defer cancel()

		if err := s.deps.Events.PublishBookingConfirmed(ctx, ev); err != nil {
			s.log.Warn("booking event not published", slog.Int64("booking_id", ev.BookingID), slog.Any("err", err))
		}
	}()
}

// Close waits for background event publishing to finish.
func (s *Service) Close() {
	s.bg.Wait()
}

func (s *Service) mutate(ctx context.Context, id, op string, fn func(d *booking.Draft) error) (*View, error) {
	var d *booking.Draft

	sess, err := s.deps.Store.Update(ctx, id, func(sess *Session) error {
		if err := authorize(ctx, sess); err != nil {
			return err
		}
		if sess.submitBlocked(s.now()) {
			return ErrSubmitInProgress
		}

		d = booking.Restore(sess.Draft)
		if err := fn(d); err != nil {
			return err
		}

		sess.Draft = d.Snapshot()
		sess.LastError = ""
		sess.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.view(sess, d), nil
}

func (s *Service) load(ctx context.Context, id string) (*Session, error) {
	sess, err := s.deps.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// authorize hides sessions of other users. Anonymous sessions are open to
// anyone holding the id.
func authorize(ctx context.Context, sess *Session) error {
	if sess.UserID != "" && sess.UserID != domain.PrincipalFrom(ctx).UserID {
		return ErrSessionNotFound
	}
	return nil
}

func userMessage(err error) string {
	var vErr *domain.ValidationError
	var netErr *domain.NetworkError
	switch {
	case errors.As(err, &vErr):
		return vErr.Message
	case errors.As(err, &netErr):
		return "booking service unavailable, please try again"
	default:
		return err.Error()
	}
}
