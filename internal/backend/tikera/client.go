// Package tikera talks to the tikera REST API, which owns screenings, rooms,
// ticket types and bookings.
package tikera

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kirinyoku/cinebook/internal/domain"
)

const (
	placeholderRows        = 10
	placeholderSeatsPerRow = 10
	maxErrorBody           = 64 << 10
)

var (
	errNotFound     = errors.New("not found")
	errUnauthorized = errors.New("unauthorized")
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchScreening loads a screening together with its room and occupied
// seats. When the room cannot be resolved a 10x10 placeholder is used.
func (c *Client) FetchScreening(ctx context.Context, id int64) (*domain.Screening, error) {
	const op = "tikera.Client.FetchScreening"

	var sc screeningDTO
	err := c.get(ctx, "/screenings/"+strconv.FormatInt(id, 10), &sc)
	if errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrScreeningNotFound)
	}
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}

	room := sc.Room
	if !room.complete() && sc.RoomID != 0 {
		var fetched roomDTO
		if err := c.get(ctx, "/rooms/"+strconv.FormatInt(sc.RoomID, 10), &fetched); err == nil {
			room = &fetched
		}
	}

	s := sc.toDomain(room)
	return &s, nil
}

func (c *Client) FetchTicketCatalog(ctx context.Context) ([]domain.TicketType, error) {
	const op = "tikera.Client.FetchTicketCatalog"

	var types []ticketTypeDTO
	if err := c.get(ctx, "/ticket-types", &types); err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}

	out := make([]domain.TicketType, 0, len(types))
	for _, t := range types {
		out = append(out, domain.TicketType{
			Name:            t.Name,
			DisplayName:     t.DisplayName,
			PriceMultiplier: t.PriceMultiplier,
		})
	}

	return out, nil
}

// SubmitBooking posts the booking. Rejections (400, 409, 422) come back as
// *domain.ValidationError carrying the server's message; anything else that
// is not a 2xx is a *domain.NetworkError.
func (c *Client) SubmitBooking(ctx context.Context, req domain.BookingRequest) (*domain.BookingConfirmation, error) {
	const op = "tikera.Client.SubmitBooking"

	body, err := json.Marshal(newBookingBody(req))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/bookings", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, &domain.ValidationError{Message: rejectionMessage(raw)}
	default:
		return nil, &domain.NetworkError{Op: op, Err: fmt.Errorf("tikera returned status %d", resp.StatusCode)}
	}

	var b bookingDTO
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := unwrap(raw, &b); err != nil {
			return nil, &domain.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	conf := b.toDomain(req)
	return &conf, nil
}

// ListBookings returns the signed-in user's bookings. tikera scopes the list
// by the bearer token.
func (c *Client) ListBookings(ctx context.Context) ([]domain.Booking, error) {
	const op = "tikera.Client.ListBookings"

	var list []bookingDTO
	err := c.get(ctx, "/bookings", &list)
	if errors.Is(err, errUnauthorized) {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrUnauthenticated)
	}
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}

	out := make([]domain.Booking, 0, len(list))
	for _, b := range list {
		out = append(out, b.toBooking())
	}

	return out, nil
}

func (c *Client) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	const op = "tikera.Client.GetBooking"

	var b bookingDTO
	err := c.get(ctx, "/bookings/"+strconv.FormatInt(id, 10), &b)
	switch {
	case errors.Is(err, errNotFound):
		return nil, fmt.Errorf("%s: %w", op, domain.ErrBookingNotFound)
	case errors.Is(err, errUnauthorized):
		return nil, fmt.Errorf("%s: %w", op, domain.ErrUnauthenticated)
	case err != nil:
		return nil, &domain.NetworkError{Op: op, Err: err}
	}

	out := b.toBooking()
	return &out, nil
}

// CancelBooking deletes the booking. A booking of another user comes back
// as 403 or 404 and is reported as not found.
func (c *Client) CancelBooking(ctx context.Context, id int64) error {
	const op = "tikera.Client.CancelBooking"

	resp, err := c.do(ctx, http.MethodDelete, "/bookings/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, domain.ErrBookingNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, domain.ErrUnauthenticated)
	default:
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("tikera returned status %d", resp.StatusCode)}
	}
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return errNotFound
	case http.StatusUnauthorized:
		return errUnauthorized
	default:
		return fmt.Errorf("GET %s: tikera returned status %d", path, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}

	if err := unwrap(raw, dst); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := domain.PrincipalFrom(ctx).Token; tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	return c.httpClient.Do(req)
}

// unwrap decodes either {"data": ...} or the bare payload into dst.
func unwrap(raw []byte, dst any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		return json.Unmarshal(env.Data, dst)
	}
	return json.Unmarshal(raw, dst)
}

func rejectionMessage(raw []byte) string {
	var body struct {
		Message string              `json:"message"`
		Error   string              `json:"error"`
		Errors  map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Message != "":
			return body.Message
		case body.Error != "":
			return body.Error
		}
		for _, msgs := range body.Errors {
			if len(msgs) > 0 {
				return msgs[0]
			}
		}
	}
	return "booking rejected"
}
