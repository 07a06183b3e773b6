package httpgin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/service"
	"github.com/kirinyoku/cinebook/internal/service/checkout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBackend struct {
	mu        sync.Mutex
	screening domain.Screening
	submitErr error
	lastToken string
	bookings  map[int64]domain.Booking
}

func (f *fakeBackend) FetchScreening(_ context.Context, id int64) (*domain.Screening, error) {
	if id != f.screening.ID {
		return nil, domain.ErrScreeningNotFound
	}
	s := f.screening
	return &s, nil
}

func (f *fakeBackend) FetchTicketCatalog(context.Context) ([]domain.TicketType, error) {
	return nil, nil
}

func (f *fakeBackend) SubmitBooking(ctx context.Context, req domain.BookingRequest) (*domain.BookingConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastToken = domain.PrincipalFrom(ctx).Token
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &domain.BookingConfirmation{ID: 42, ScreeningID: req.ScreeningID, Status: "confirmed", Seats: req.Seats, LineItems: req.LineItems}, nil
}

func (f *fakeBackend) ListBookings(ctx context.Context) ([]domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid := domain.PrincipalFrom(ctx).UserID
	var out []domain.Booking
	for _, b := range f.bookings {
		if b.UserID == uid {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBackend) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok || b.UserID != domain.PrincipalFrom(ctx).UserID {
		return nil, domain.ErrBookingNotFound
	}
	return &b, nil
}

func (f *fakeBackend) CancelBooking(ctx context.Context, id int64) error {
	if _, err := f.GetBooking(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bookings, id)
	return nil
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]checkout.Session
}

func (m *memStore) Create(_ context.Context, s *checkout.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memStore) Load(_ context.Context, id string) (*checkout.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}
	return &s, nil
}

func (m *memStore) Update(_ context.Context, id string, fn func(*checkout.Session) error) (*checkout.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}
	if err := fn(&s); err != nil {
		return nil, err
	}
	m.sessions[id] = s
	return &s, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 1500 * time.Millisecond, nil
}

func newTestRouter(t *testing.T, backend *fakeBackend, deps service.Deps, mw ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps.Store = &memStore{sessions: map[string]checkout.Session{}}
	svcs := service.NewServices(backend, nil, deps, logger, service.Config{
		Checkout: checkout.Config{Location: time.UTC, RecheckOccupied: true},
	})
	return NewRouter(svcs, logger, mw...)
}

func futureBackend() *fakeBackend {
	tomorrow := time.Now().UTC().Add(24 * time.Hour)
	return &fakeBackend{screening: domain.Screening{
		ID:            7,
		Date:          tomorrow.Format("2006-01-02"),
		StartTime:     "18:30",
		Room:          domain.Room{ID: 1, Rows: 10, SeatsPerRow: 10},
		OccupiedSeats: []domain.Seat{{Row: 1, Seat: 1}},
	}}
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func startSession(t *testing.T, r http.Handler, headers ...string) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/screenings/7/sessions", nil, headers...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[SessionResponse](t, w).SessionID
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, futureBackend(), service.Deps{})

	w := do(t, r, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestTicketTypes_FallbackAndETag(t *testing.T) {
	r := newTestRouter(t, futureBackend(), service.Deps{})

	w := do(t, r, http.MethodGet, "/ticket-types", nil)
	require.Equal(t, http.StatusOK, w.Code)
	types := decode[[]domain.TicketType](t, w)
	require.Len(t, types, 3)
	assert.Equal(t, "normal", types[0].Name)

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	w = do(t, r, http.MethodGet, "/ticket-types", nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestGetScreening(t *testing.T) {
	r := newTestRouter(t, futureBackend(), service.Deps{})

	w := do(t, r, http.MethodGet, "/screenings/7", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/screenings/8", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/screenings/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingFlow(t *testing.T) {
	backend := futureBackend()
	r := newTestRouter(t, backend, service.Deps{})
	id := startSession(t, r)
	base := "/sessions/" + id

	w := do(t, r, http.MethodPatch, base+"/tickets/0", UpdateTicketRequest{Field: "quantity", Value: "2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, base+"/tickets", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s := decode[SessionResponse](t, w)
	assert.Equal(t, "4125", s.TotalPrice.String())
	assert.Equal(t, "student", s.Lines[1].Type)
	assert.True(t, s.CanAdvance)

	w = do(t, r, http.MethodPost, base+"/next", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, base+"/seats/toggle", ToggleSeatRequest{Row: 1, Seat: 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[SessionResponse](t, w).Seats, "occupied seat is ignored")

	for _, seat := range []int{4, 5, 6} {
		w = do(t, r, http.MethodPost, base+"/seats/toggle", ToggleSeatRequest{Row: 3, Seat: seat})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = do(t, r, http.MethodPost, base+"/seats/toggle", ToggleSeatRequest{Row: 3, Seat: 7})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "seat_capacity_exceeded", decode[ErrorResponse](t, w).Code)

	w = do(t, r, http.MethodGet, base+"/seats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	grid := decode[SeatMapResponse](t, w)
	assert.Len(t, grid.Rows, 10)
	assert.Equal(t, "C", grid.Rows[2].Label)
	assert.Equal(t, 3, grid.Limit)

	w = do(t, r, http.MethodPost, base+"/next", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "review", decode[SessionResponse](t, w).StageName)

	w = do(t, r, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	conf := decode[domain.BookingConfirmation](t, w)
	assert.Equal(t, int64(42), conf.ID)
	assert.Equal(t, "4125", conf.TotalPrice.String())

	w = do(t, r, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEngineErrors(t *testing.T) {
	r := newTestRouter(t, futureBackend(), service.Deps{})
	id := startSession(t, r)
	base := "/sessions/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   string
	}{
		{"remove last line", http.MethodDelete, base + "/tickets/0", nil, "last_line_item"},
		{"bad quantity", http.MethodPatch, base + "/tickets/0", UpdateTicketRequest{Field: "quantity", Value: "11"}, "invalid_quantity"},
		{"unknown field", http.MethodPatch, base + "/tickets/0", UpdateTicketRequest{Field: "price", Value: "1"}, "unknown_field"},
		{"unknown type", http.MethodPatch, base + "/tickets/0", UpdateTicketRequest{Field: "type", Value: "vip"}, "unknown_ticket_type"},
		{"no stage before tickets", http.MethodPost, base + "/back", nil, "invalid_stage"},
		{"submit from tickets", http.MethodPost, base + "/submit", nil, "invalid_stage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestNextBlockedWithoutTickets(t *testing.T) {
	r := newTestRouter(t, futureBackend(), service.Deps{})
	base := "/sessions/" + startSession(t, r)

	w := do(t, r, http.MethodPatch, base+"/tickets/0", UpdateTicketRequest{Field: "quantity", Value: "0"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[SessionResponse](t, w).CanAdvance)

	w = do(t, r, http.MethodPost, base+"/next", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "no_tickets", decode[ErrorResponse](t, w).Code)
}

func TestSubmit_BackendErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"validation", &domain.ValidationError{Message: "Seat 3/4 is already booked"}, http.StatusUnprocessableEntity, "Seat 3/4 is already booked"},
		{"network", &domain.NetworkError{Op: "tikera", Err: io.ErrUnexpectedEOF}, http.StatusBadGateway, "booking service unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := futureBackend()
			backend.submitErr = tt.err
			r := newTestRouter(t, backend, service.Deps{})
			base := "/sessions/" + startSession(t, r)

			require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/next", nil).Code)
			require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/seats/toggle", ToggleSeatRequest{Row: 3, Seat: 4}).Code)
			require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/next", nil).Code)

			w := do(t, r, http.MethodPost, base+"/submit", nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.msg, decode[ErrorResponse](t, w).Error)

			w = do(t, r, http.MethodGet, base, nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "review", decode[SessionResponse](t, w).StageName)
		})
	}
}

func TestSubmit_RateLimited(t *testing.T) {
	r := newTestRouter(t, futureBackend(), service.Deps{Limiter: denyLimiter{}})
	base := "/sessions/" + startSession(t, r)

	w := do(t, r, http.MethodPost, base+"/submit", nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestUnknownSession(t *testing.T) {
	r := newTestRouter(t, futureBackend(), service.Deps{})

	w := do(t, r, http.MethodPost, "/sessions/nope/next", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "s3cret"
	backend := futureBackend()
	r := newTestRouter(t, backend, service.Deps{}, AuthMiddleware(secret))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": float64(5),
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)

	w := do(t, r, http.MethodPost, "/screenings/7/sessions", nil, "Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	id := startSession(t, r, "Authorization", "Bearer "+signed)

	w = do(t, r, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "anonymous callers cannot see user sessions")

	w = do(t, r, http.MethodGet, "/sessions/"+id, nil, "Authorization", "Bearer "+signed)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_ForwardsTokenWithoutSecret(t *testing.T) {
	backend := futureBackend()
	r := newTestRouter(t, backend, service.Deps{}, AuthMiddleware(""))
	auth := []string{"Authorization", "Bearer opaque-token"}
	base := "/sessions/" + startSession(t, r, auth...)

	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/next", nil, auth...).Code)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/seats/toggle", ToggleSeatRequest{Row: 2, Seat: 2}, auth...).Code)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, base+"/next", nil, auth...).Code)

	w := do(t, r, http.MethodPost, base+"/submit", nil, auth...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, "opaque-token", backend.lastToken)
}

func TestBookings(t *testing.T) {
	const secret = "s3cret"
	backend := futureBackend()
	backend.bookings = map[int64]domain.Booking{
		11: {BookingConfirmation: domain.BookingConfirmation{ID: 11, ScreeningID: 7, Status: "confirmed"}, UserID: "5"},
		12: {BookingConfirmation: domain.BookingConfirmation{ID: 12, ScreeningID: 7, Status: "confirmed"}, UserID: "6"},
	}
	r := newTestRouter(t, backend, service.Deps{}, AuthMiddleware(secret))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": float64(5),
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	auth := []string{"Authorization", "Bearer " + signed}

	w := do(t, r, http.MethodGet, "/bookings", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decode[ErrorResponse](t, w).Code)

	w = do(t, r, http.MethodGet, "/bookings", nil, auth...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode[[]domain.Booking](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, int64(11), list[0].ID)

	w = do(t, r, http.MethodGet, "/bookings/11", nil, auth...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(7), decode[domain.Booking](t, w).ScreeningID)

	w = do(t, r, http.MethodGet, "/bookings/12", nil, auth...)
	assert.Equal(t, http.StatusNotFound, w.Code, "another user's booking")

	w = do(t, r, http.MethodGet, "/bookings/abc", nil, auth...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodDelete, "/bookings/12", nil, auth...)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodDelete, "/bookings/11", nil, auth...)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/bookings", nil, auth...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}
