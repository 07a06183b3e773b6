package booking

import (
	"fmt"
	"time"

	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/shopspring/decimal"
)

// Stage is a step of the booking flow.
type Stage int

const (
	StageTickets Stage = iota + 1
	StageSeats
	StageReview
)

func (s Stage) String() string {
	switch s {
	case StageTickets:
		return "tickets"
	case StageSeats:
		return "seats"
	case StageReview:
		return "review"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Draft is a booking under construction for one screening. It combines the
// ticket lines with the seat grid and walks the tickets → seats → review flow.
// The seat selection never exceeds the ticket count.
type Draft struct {
	screening domain.Screening
	tickets   *Tickets
	grid      *SeatGrid
	stage     Stage
}

func NewDraft(screening domain.Screening, catalog Catalog) *Draft {
	return &Draft{
		screening: screening,
		tickets:   NewTickets(catalog, BasePriceOrDefault(screening.BasePrice)),
		grid:      NewSeatGrid(screening.Room, screening.OccupiedSeats),
		stage:     StageTickets,
	}
}

func (d *Draft) ScreeningID() int64 { return d.screening.ID }

func (d *Draft) Screening() domain.Screening {
	s := d.screening
	s.OccupiedSeats = d.grid.Occupied()
	return s
}

func (d *Draft) Stage() Stage { return d.stage }

func (d *Draft) Catalog() Catalog { return d.tickets.Catalog() }

func (d *Draft) Items() []domain.LineItem { return d.tickets.Items() }

func (d *Draft) TotalTicketCount() int { return d.tickets.TotalCount() }

func (d *Draft) TotalPrice() decimal.Decimal { return d.tickets.TotalPrice() }

func (d *Draft) IsOccupied(row, seat int) bool { return d.grid.IsOccupied(row, seat) }

func (d *Draft) IsSelected(row, seat int) bool { return d.grid.IsSelected(row, seat) }

func (d *Draft) SelectedSeats() []domain.Seat { return d.grid.Selected() }

func (d *Draft) Grid() []GridRow { return d.grid.Rows() }

func (d *Draft) AddLineItem() error {
	if err := d.writable(); err != nil {
		return err
	}
	return d.tickets.AddLineItem()
}

// RemoveLineItem drops a ticket line and clears the seat selection, since it
// may no longer match the ticket count.
func (d *Draft) RemoveLineItem(index int) error {
	if err := d.writable(); err != nil {
		return err
	}
	if err := d.tickets.RemoveLineItem(index); err != nil {
		return err
	}
	d.grid.Clear()
	return nil
}

func (d *Draft) UpdateLineItem(index int, field Field, value string) error {
	if err := d.writable(); err != nil {
		return err
	}
	if err := d.tickets.UpdateLineItem(index, field, value); err != nil {
		return err
	}
	d.dropStaleSeats()
	return nil
}

func (d *Draft) SetQuantity(index, quantity int) error {
	if err := d.writable(); err != nil {
		return err
	}
	if err := d.tickets.SetQuantity(index, quantity); err != nil {
		return err
	}
	d.dropStaleSeats()
	return nil
}

func (d *Draft) SetType(index int, name string) error {
	if err := d.writable(); err != nil {
		return err
	}
	return d.tickets.SetType(index, name)
}

func (d *Draft) ToggleSeat(row, seat int) error {
	if err := d.writable(); err != nil {
		return err
	}
	return d.grid.Toggle(row, seat, d.tickets.TotalCount())
}

// Next advances one stage if the current stage is complete.
func (d *Draft) Next() error {
	switch d.stage {
	case StageTickets:
		if d.tickets.TotalCount() <= 0 {
			return ErrNoTickets
		}
	case StageSeats:
		if err := d.checkSeats(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: no stage after %s", ErrInvalidStage, d.stage)
	}

	d.stage++
	return nil
}

// Back returns to the previous stage without touching tickets or seats.
func (d *Draft) Back() error {
	if d.stage <= StageTickets {
		return fmt.Errorf("%w: no stage before %s", ErrInvalidStage, d.stage)
	}
	d.stage--
	return nil
}

// RefreshOccupied replaces the occupied seats with a fresher set. Selected
// seats that are now taken are dropped and returned; the draft then falls
// back to seat selection.
func (d *Draft) RefreshOccupied(seats []domain.Seat) []domain.Seat {
	taken := d.grid.ReplaceOccupied(seats)
	if len(taken) > 0 && d.stage == StageReview {
		d.stage = StageSeats
	}
	return taken
}

// Finalize packages the draft into a booking request. Screenings that have
// already started at now are rejected before anything else is checked; the
// screening clock is interpreted in now's location.
func (d *Draft) Finalize(now time.Time) (domain.BookingRequest, error) {
	if d.screening.InPast(now, now.Location()) {
		return domain.BookingRequest{}, ErrScreeningInPast
	}
	if d.stage != StageReview {
		return domain.BookingRequest{}, fmt.Errorf("%w: submit from %s", ErrInvalidStage, d.stage)
	}
	if err := d.checkSeats(); err != nil {
		return domain.BookingRequest{}, err
	}

	items := make([]domain.LineItem, 0, d.tickets.Len())
	for _, it := range d.tickets.Items() {
		if it.Quantity > 0 {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return domain.BookingRequest{}, ErrNoTickets
	}

	return domain.BookingRequest{
		ScreeningID: d.screening.ID,
		Seats:       d.grid.Selected(),
		LineItems:   items,
	}, nil
}

type SummaryLine struct {
	Type        string          `json:"type"`
	DisplayName string          `json:"display_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LinePrice   decimal.Decimal `json:"line_price"`
}

type Summary struct {
	ScreeningID  int64           `json:"screening_id"`
	Stage        Stage           `json:"stage"`
	StageName    string          `json:"stage_name"`
	BasePrice    decimal.Decimal `json:"base_price"`
	Lines        []SummaryLine   `json:"lines"`
	Seats        []domain.Seat   `json:"seats"`
	TotalTickets int             `json:"total_tickets"`
	TotalPrice   decimal.Decimal `json:"total_price"`
}

func (d *Draft) Summary() Summary {
	items := d.tickets.Items()
	lines := make([]SummaryLine, 0, len(items))
	for i, it := range items {
		line := SummaryLine{Type: it.Type, DisplayName: it.Type, Quantity: it.Quantity, LinePrice: d.tickets.LinePrice(i)}
		if ct, ok := d.tickets.catalog.Lookup(it.Type); ok {
			line.DisplayName = ct.DisplayName
			line.UnitPrice = d.tickets.basePrice.Mul(ct.PriceMultiplier)
		}
		lines = append(lines, line)
	}

	return Summary{
		ScreeningID:  d.screening.ID,
		Stage:        d.stage,
		StageName:    d.stage.String(),
		BasePrice:    d.tickets.basePrice,
		Lines:        lines,
		Seats:        d.grid.Selected(),
		TotalTickets: d.tickets.TotalCount(),
		TotalPrice:   d.tickets.TotalPrice(),
	}
}

// State is the serializable form of a Draft.
type State struct {
	Screening domain.Screening    `json:"screening"`
	Catalog   []domain.TicketType `json:"catalog"`
	BasePrice decimal.Decimal     `json:"base_price"`
	Items     []domain.LineItem   `json:"items"`
	Selected  []domain.Seat       `json:"selected"`
	Stage     Stage               `json:"stage"`
}

func (d *Draft) Snapshot() State {
	return State{
		Screening: d.Screening(),
		Catalog:   d.tickets.Catalog(),
		BasePrice: d.tickets.basePrice,
		Items:     d.tickets.Items(),
		Selected:  d.grid.Selected(),
		Stage:     d.stage,
	}
}

// Restore rebuilds a Draft from a snapshot. Seats that are occupied, outside
// the room or beyond the ticket count are dropped.
func Restore(st State) *Draft {
	d := &Draft{
		screening: st.Screening,
		tickets: &Tickets{
			catalog:   CatalogOrDefault(st.Catalog),
			basePrice: BasePriceOrDefault(&st.BasePrice),
		},
		grid:  NewSeatGrid(st.Screening.Room, st.Screening.OccupiedSeats),
		stage: st.Stage,
	}

	for _, it := range st.Items {
		if it.Quantity < 0 || it.Quantity > MaxQuantity || d.tickets.uses(it.Type, -1) {
			continue
		}
		d.tickets.items = append(d.tickets.items, it)
	}
	if len(d.tickets.items) == 0 {
		fresh := NewTickets(d.tickets.catalog, d.tickets.basePrice)
		d.tickets.items = fresh.items
	}

	limit := d.tickets.TotalCount()
	for _, s := range st.Selected {
		if d.grid.SelectedCount() >= limit {
			break
		}
		if d.grid.IsSelected(s.Row, s.Seat) {
			continue
		}
		_ = d.grid.Toggle(s.Row, s.Seat, limit)
	}

	if d.stage < StageTickets || d.stage > StageReview {
		d.stage = StageTickets
	}

	return d
}

func (d *Draft) writable() error {
	if d.stage == StageReview {
		return ErrReadOnly
	}
	return nil
}

func (d *Draft) checkSeats() error {
	total := d.tickets.TotalCount()
	if d.grid.SelectedCount() != total {
		return fmt.Errorf("%w: %d of %d selected", ErrIncompleteSeatSelection, d.grid.SelectedCount(), total)
	}
	return nil
}

func (d *Draft) dropStaleSeats() {
	if d.tickets.TotalCount() < d.grid.SelectedCount() {
		d.grid.Clear()
	}
}
