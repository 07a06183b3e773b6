package bookings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	bookings  map[int64]domain.Booking
	cancelErr error
	cancelled []int64
}

func (f *fakeSource) ListBookings(context.Context) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range f.bookings {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeSource) GetBooking(_ context.Context, id int64) (*domain.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return &b, nil
}

func (f *fakeSource) CancelBooking(_ context.Context, id int64) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	delete(f.bookings, id)
	return nil
}

type recordingInvalidator struct{ ids []int64 }

func (r *recordingInvalidator) Invalidate(_ context.Context, id int64) { r.ids = append(r.ids, id) }

type recordingNotifier struct {
	ids []int64
	err error
}

func (r *recordingNotifier) PublishScreeningChanged(_ context.Context, id int64) error {
	r.ids = append(r.ids, id)
	return r.err
}

type harness struct {
	svc      *Service
	src      *fakeSource
	inv      *recordingInvalidator
	notifier *recordingNotifier
}

func newHarness() *harness {
	h := &harness{
		src: &fakeSource{bookings: map[int64]domain.Booking{
			11: {BookingConfirmation: domain.BookingConfirmation{ID: 11, ScreeningID: 7}, UserID: "1"},
		}},
		inv:      &recordingInvalidator{},
		notifier: &recordingNotifier{},
	}
	h.svc = New(h.src, h.inv, h.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func signedInCtx() context.Context {
	return domain.WithPrincipal(context.Background(), domain.Principal{UserID: "1"})
}

func TestList(t *testing.T) {
	h := newHarness()

	list, err := h.svc.List(signedInCtx())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(11), list[0].ID)

	delete(h.src.bookings, 11)
	list, err = h.svc.List(signedInCtx())
	require.NoError(t, err)
	assert.NotNil(t, list, "an empty list encodes as []")
	assert.Empty(t, list)
}

func TestAnonymousCallerIsRejected(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.svc.List(ctx)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = h.svc.Get(ctx, 11)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	assert.ErrorIs(t, h.svc.Cancel(ctx, 11), domain.ErrUnauthenticated)
	assert.Empty(t, h.src.cancelled)
}

func TestTokenOnlyPrincipalIsSignedIn(t *testing.T) {
	h := newHarness()
	ctx := domain.WithPrincipal(context.Background(), domain.Principal{Token: "tok"})

	_, err := h.svc.Get(ctx, 11)
	assert.NoError(t, err)
}

func TestCancel_InvalidatesAndNotifies(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.svc.Cancel(signedInCtx(), 11))

	assert.Equal(t, []int64{11}, h.src.cancelled)
	assert.Equal(t, []int64{7}, h.inv.ids)
	assert.Equal(t, []int64{7}, h.notifier.ids)

	_, err := h.svc.Get(signedInCtx(), 11)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestCancel_Unknown(t *testing.T) {
	h := newHarness()

	assert.ErrorIs(t, h.svc.Cancel(signedInCtx(), 99), domain.ErrBookingNotFound)
	assert.Empty(t, h.inv.ids)
	assert.Empty(t, h.notifier.ids)
}

func TestCancel_BackendFailureLeavesCache(t *testing.T) {
	h := newHarness()
	h.src.cancelErr = &domain.NetworkError{Op: "test", Err: errors.New("boom")}

	err := h.svc.Cancel(signedInCtx(), 11)
	var netErr *domain.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Empty(t, h.inv.ids)
}

func TestCancel_NotifierFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.notifier.err = errors.New("redis down")

	assert.NoError(t, h.svc.Cancel(signedInCtx(), 11))
	assert.Equal(t, []int64{7}, h.inv.ids)
}

func TestCancel_WithoutNotifier(t *testing.T) {
	h := newHarness()
	h.svc = New(h.src, h.inv, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.NoError(t, h.svc.Cancel(signedInCtx(), 11))
	assert.Equal(t, []int64{7}, h.inv.ids)
}
