package queue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_DisabledWithoutURL(t *testing.T) {
	p := NewPublisher("", "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.False(t, p.Enabled())
	assert.NoError(t, p.PublishBookingConfirmed(context.Background(), BookingConfirmedEvent{BookingID: 1}))
	assert.NoError(t, p.Close())
}

func TestPublisher_SilentBrokerFailsFast(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	// accept connections but never speak AMQP
	accepted := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		for {
			select {
			case conn := <-accepted:
				_ = conn.Close()
			default:
				return
			}
		}
	})

	p := NewPublisher("amqp://guest:guest@"+ln.Addr().String()+"/", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.dialTimeout = 200 * time.Millisecond

	start := time.Now()
	err = p.PublishBookingConfirmed(context.Background(), BookingConfirmedEvent{BookingID: 1})

	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NoError(t, p.Close())
}

func TestNewBookingConfirmed(t *testing.T) {
	at := time.Date(2025, 6, 10, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	conf := domain.BookingConfirmation{
		ID:          42,
		ScreeningID: 7,
		TotalPrice:  decimal.NewFromInt(4125),
		Seats:       []domain.Seat{{Row: 3, Seat: 1}},
		LineItems:   []domain.LineItem{{Type: "normal", Quantity: 1}},
	}

	ev := NewBookingConfirmed(conf, "u1", at)

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"booking_id": 42,
		"screening_id": 7,
		"user_id": "u1",
		"seats": [{"row": 3, "seat": 1}],
		"ticket_types": [{"type": "normal", "quantity": 1}],
		"total_price": "4125",
		"confirmed_at": "2025-06-10T12:00:00Z"
	}`, string(b))
}
