package checkout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kirinyoku/cinebook/internal/booking"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/queue"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string][]byte{}}
}

func (m *memStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.sessions[s.ID] = b
	return nil
}

func (m *memStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	var s Session
	return &s, json.Unmarshal(b, &s)
}

func (m *memStore) Update(_ context.Context, id string, fn func(s *Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	if err := fn(&s); err != nil {
		return nil, err
	}
	nb, err := json.Marshal(&s)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = nb
	return &s, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

type fakeScreenings struct {
	screening   domain.Screening
	fresh       []domain.Seat
	invalidated []int64
}

func (f *fakeScreenings) Screening(_ context.Context, id int64) (*domain.Screening, error) {
	if id != f.screening.ID {
		return nil, domain.ErrScreeningNotFound
	}
	s := f.screening
	return &s, nil
}

func (f *fakeScreenings) Fresh(ctx context.Context, id int64) (*domain.Screening, error) {
	s, err := f.Screening(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.fresh != nil {
		s.OccupiedSeats = f.fresh
	}
	return s, nil
}

func (f *fakeScreenings) Catalog(context.Context) booking.Catalog { return booking.DefaultCatalog.Clone() }

func (f *fakeScreenings) Invalidate(_ context.Context, id int64) {
	f.invalidated = append(f.invalidated, id)
}

type fakeBackend struct {
	err      error
	requests []domain.BookingRequest
}

func (f *fakeBackend) SubmitBooking(_ context.Context, req domain.BookingRequest) (*domain.BookingConfirmation, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.BookingConfirmation{
		ID:          int64(100 + len(f.requests)),
		ScreeningID: req.ScreeningID,
		Status:      "confirmed",
		Seats:       req.Seats,
		LineItems:   req.LineItems,
	}, nil
}

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return f.allow, 30 * time.Second, nil
}

// countingLimiter allows the first limit calls.
type countingLimiter struct {
	limit int
	calls int
}

func (c *countingLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	c.calls++
	return c.calls <= c.limit, time.Second, nil
}

type memIdempotency struct {
	values map[string][]byte
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{values: map[string][]byte{}}
}

func (m *memIdempotency) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = nil
	return true, nil
}

func (m *memIdempotency) SaveResult(_ context.Context, key string, payload []byte) error {
	m.values[key] = payload
	return nil
}

func (m *memIdempotency) Result(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.values[key]
	return v, ok && v != nil, nil
}

func (m *memIdempotency) Release(_ context.Context, key string) error {
	delete(m.values, key)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []queue.BookingConfirmedEvent
}

func (r *recordingEvents) PublishBookingConfirmed(_ context.Context, ev queue.BookingConfirmedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) published() []queue.BookingConfirmedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.BookingConfirmedEvent(nil), r.events...)
}

// stuckEvents never completes a publish on its own, like a broker that
// accepts the connection and then goes silent.
type stuckEvents struct {
	done chan error
}

func (s *stuckEvents) PublishBookingConfirmed(ctx context.Context, _ queue.BookingConfirmedEvent) error {
	<-ctx.Done()
	s.done <- ctx.Err()
	return ctx.Err()
}

type recordingNotifier struct {
	ids []int64
}

func (r *recordingNotifier) PublishScreeningChanged(_ context.Context, id int64) error {
	r.ids = append(r.ids, id)
	return nil
}
