package httpgin

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/cinebook/internal/booking"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
	"github.com/kirinyoku/cinebook/internal/service"
	"github.com/kirinyoku/cinebook/internal/service/checkout"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ticket-types", handleListTicketTypes(svcs))
	r.GET("/screenings/:id", handleGetScreening(svcs))
	r.POST("/screenings/:id/sessions", handleStartSession(svcs))

	sessions := r.Group("/sessions/:id")
	{
		sessions.GET("", handleGetSession(svcs))
		sessions.DELETE("", handleDiscardSession(svcs))
		sessions.GET("/seats", handleGetSeatMap(svcs))

		sessions.POST("/tickets", handleAddTicket(svcs))
		sessions.PATCH("/tickets/:index", handleUpdateTicket(svcs))
		sessions.DELETE("/tickets/:index", handleRemoveTicket(svcs))

		sessions.POST("/seats/toggle", handleToggleSeat(svcs))

		sessions.POST("/next", handleNext(svcs))
		sessions.POST("/back", handleBack(svcs))

		sessions.POST("/submit", handleSubmit(svcs))
	}

	bookings := r.Group("/bookings")
	{
		bookings.GET("", handleListBookings(svcs))
		bookings.GET("/:id", handleGetBooking(svcs))
		bookings.DELETE("/:id", handleCancelBooking(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  List ticket types
// @Success  200  {array}  domain.TicketType
// @Router   /ticket-types [get]
func handleListTicketTypes(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		catalog := svcs.Screenings.Catalog(c.Request.Context())
		writeJSONWithCache(c, http.StatusOK, catalog, "public, max-age=300", true)
	}
}

// @Summary  Get screening with occupied seats
// @Param    id  path  int  true  "Screening ID"
// @Success  200  {object}  domain.Screening
// @Failure  404  {object}  ErrorResponse
// @Failure  502  {object}  ErrorResponse
// @Router   /screenings/{id} [get]
func handleGetScreening(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		s, err := svcs.Screenings.Screening(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		// occupied seats change often
		writeJSONWithCache(c, http.StatusOK, s, "public, max-age=15", true)
	}
}

// @Summary  Start booking session
// @Param    id  path  int  true  "Screening ID"
// @Success  201  {object}  SessionResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /screenings/{id}/sessions [post]
func handleStartSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		v, err := svcs.Checkout.Start(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Header("Location", "/sessions/"+v.SessionID)
		c.JSON(http.StatusCreated, newSessionResponse(v))
	}
}

// @Summary  Get booking session
// @Param    id  path  string  true  "Session ID"
// @Success  200  {object}  SessionResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /sessions/{id} [get]
func handleGetSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := svcs.Checkout.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, newSessionResponse(v))
	}
}

// @Summary  Discard booking session
// @Param    id  path  string  true  "Session ID"
// @Success  204
// @Failure  409  {object}  ErrorResponse "submit in progress"
// @Router   /sessions/{id} [delete]
func handleDiscardSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svcs.Checkout.Discard(c.Request.Context(), c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Seat grid of the session's room
// @Param    id  path  string  true  "Session ID"
// @Success  200  {object}  SeatMapResponse
// @Router   /sessions/{id}/seats [get]
func handleGetSeatMap(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := svcs.Checkout.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, newSeatMapResponse(v))
	}
}

// @Summary  Add ticket line with the first unused type
// @Param    id  path  string  true  "Session ID"
// @Success  200  {object}  SessionResponse
// @Failure  422  {object}  ErrorResponse "no_available_ticket_type"
// @Router   /sessions/{id}/tickets [post]
func handleAddTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := svcs.Checkout.AddTicket(c.Request.Context(), c.Param("id"))
		respondView(c, v, err)
	}
}

// @Summary  Change quantity or type of a ticket line
// @Param    id     path  string  true  "Session ID"
// @Param    index  path  int     true  "Line index"
// @Param    req    body  UpdateTicketRequest  true  "payload"
// @Success  200  {object}  SessionResponse
// @Failure  422  {object}  ErrorResponse
// @Router   /sessions/{id}/tickets/{index} [patch]
func handleUpdateTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, ok := parseIntParam(c, "index")
		if !ok {
			return
		}
		var req UpdateTicketRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		v, err := svcs.Checkout.UpdateTicket(
			c.Request.Context(),
			c.Param("id"),
			index,
			booking.Field(req.Field),
			req.Value,
		)
		respondView(c, v, err)
	}
}

// @Summary  Remove a ticket line; clears the seat selection
// @Param    id     path  string  true  "Session ID"
// @Param    index  path  int     true  "Line index"
// @Success  200  {object}  SessionResponse
// @Failure  422  {object}  ErrorResponse "last_line_item"
// @Router   /sessions/{id}/tickets/{index} [delete]
func handleRemoveTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, ok := parseIntParam(c, "index")
		if !ok {
			return
		}
		v, err := svcs.Checkout.RemoveTicket(c.Request.Context(), c.Param("id"), index)
		respondView(c, v, err)
	}
}

// @Summary  Select or deselect a seat
// @Param    id   path  string  true  "Session ID"
// @Param    req  body  ToggleSeatRequest  true  "payload"
// @Success  200  {object}  SessionResponse
// @Failure  422  {object}  ErrorResponse "seat_capacity_exceeded"
// @Router   /sessions/{id}/seats/toggle [post]
func handleToggleSeat(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ToggleSeatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		v, err := svcs.Checkout.ToggleSeat(c.Request.Context(), c.Param("id"), req.Row, req.Seat)
		respondView(c, v, err)
	}
}

// @Summary  Advance to the next stage
// @Param    id  path  string  true  "Session ID"
// @Success  200  {object}  SessionResponse
// @Failure  422  {object}  ErrorResponse "no_tickets / incomplete_seat_selection"
// @Router   /sessions/{id}/next [post]
func handleNext(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := svcs.Checkout.Next(c.Request.Context(), c.Param("id"))
		respondView(c, v, err)
	}
}

// @Summary  Return to the previous stage
// @Param    id  path  string  true  "Session ID"
// @Success  200  {object}  SessionResponse
// @Router   /sessions/{id}/back [post]
func handleBack(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := svcs.Checkout.Back(c.Request.Context(), c.Param("id"))
		respondView(c, v, err)
	}
}

// @Summary  Submit booking (idempotent)
// @Param    id  path  string  true  "Session ID"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201  {object}  domain.BookingConfirmation
// @Failure  409  {object}  ErrorResponse "submit in progress / idem in progress"
// @Failure  422  {object}  ErrorResponse "rejected"
// @Failure  429  {object}  ErrorResponse "rate limited"
// @Failure  502  {object}  ErrorResponse "backend unavailable"
// @Router   /sessions/{id}/submit [post]
func handleSubmit(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))

		conf, err := svcs.Checkout.Submit(
			c.Request.Context(),
			c.Param("id"),
			idemKey,
			clientKey(c),
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		if idemKey != "" {
			c.Header("Idempotency-Key", idemKey)
		}
		c.JSON(http.StatusCreated, conf)
	}
}

// @Summary  List my bookings
// @Success  200  {array}  domain.Booking
// @Failure  401  {object}  ErrorResponse
// @Failure  502  {object}  ErrorResponse
// @Router   /bookings [get]
func handleListBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svcs.Bookings.List(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// @Summary  Get one of my bookings
// @Param    id  path  int  true  "Booking ID"
// @Success  200  {object}  domain.Booking
// @Failure  401  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		b, err := svcs.Bookings.Get(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Cancel one of my bookings
// @Param    id  path  int  true  "Booking ID"
// @Success  204
// @Failure  401  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /bookings/{id} [delete]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		if err := svcs.Bookings.Cancel(c.Request.Context(), id); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// --- Helpers ---

func clientKey(c *gin.Context) string {
	if uid := domain.PrincipalFrom(c.Request.Context()).UserID; uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.ClientIP()
}

func respondView(c *gin.Context, v *checkout.View, err error) {
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(v))
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseIntParam(c *gin.Context, name string) (int, bool) {
	s := c.Param(name)
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "bad_request"})
}

// engineErrors are the user-facing draft conditions, all answered with 422.
var engineErrors = []struct {
	err  error
	code string
}{
	{booking.ErrNoAvailableTicketType, "no_available_ticket_type"},
	{booking.ErrSeatCapacityExceeded, "seat_capacity_exceeded"},
	{booking.ErrIncompleteSeatSelection, "incomplete_seat_selection"},
	{booking.ErrScreeningInPast, "screening_in_past"},
	{booking.ErrNoTickets, "no_tickets"},
	{booking.ErrLastLineItem, "last_line_item"},
	{booking.ErrInvalidQuantity, "invalid_quantity"},
	{booking.ErrUnknownTicketType, "unknown_ticket_type"},
	{booking.ErrDuplicateTicketType, "duplicate_ticket_type"},
	{booking.ErrLineItemNotFound, "line_item_not_found"},
	{booking.ErrUnknownField, "unknown_field"},
	{booking.ErrSeatOutOfRange, "seat_out_of_range"},
	{booking.ErrReadOnly, "read_only"},
	{booking.ErrInvalidStage, "invalid_stage"},
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var (
		vErr  *domain.ValidationError
		taken *checkout.SeatsTakenError
		rl    *checkout.RateLimitError
	)

	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: vErr.Message, Code: "rejected"})
		return
	case errors.As(err, &taken):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: taken.Error(), Code: "seat_taken"})
		return
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many booking attempts", Code: "rate_limited"})
		return
	case errors.Is(err, domain.ErrScreeningNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "screening not found", Code: "not_found"})
		return
	case errors.Is(err, domain.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found", Code: "not_found"})
		return
	case errors.Is(err, domain.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "sign-in required", Code: "unauthorized"})
		return
	case errors.Is(err, checkout.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking session not found", Code: "not_found"})
		return
	case errors.Is(err, checkout.ErrSubmitInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking is already being submitted", Code: "submit_in_progress"})
		return
	case errors.Is(err, checkout.ErrIdempotencyInFlight):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress", Code: "idempotency_in_progress"})
		return
	case errors.Is(err, repository.ErrTooManyRetries):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "session is being changed by another request", Code: "concurrent_update"})
		return
	}

	for _, e := range engineErrors {
		if errors.Is(err, e.err) {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: e.err.Error(), Code: e.code})
			return
		}
	}

	var netErr *domain.NetworkError
	if errors.As(err, &netErr) {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "booking service unavailable", Code: "backend_unavailable"})
		return
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"})
}
