package booking

import (
	"fmt"
	"sort"

	"github.com/kirinyoku/cinebook/internal/domain"
)

type SeatState string

const (
	SeatAvailable SeatState = "available"
	SeatOccupied  SeatState = "occupied"
	SeatSelected  SeatState = "selected"
)

type GridSeat struct {
	Seat  int       `json:"seat"`
	State SeatState `json:"state"`
}

type GridRow struct {
	Row   int        `json:"row"`
	Label string     `json:"label"`
	Seats []GridSeat `json:"seats"`
}

// SeatGrid tracks occupied and selected seats of one room. Selected seats
// never overlap occupied ones.
type SeatGrid struct {
	room     domain.Room
	occupied map[domain.Seat]struct{}
	selected []domain.Seat
}

func NewSeatGrid(room domain.Room, occupied []domain.Seat) *SeatGrid {
	g := &SeatGrid{room: room}
	g.setOccupied(occupied)
	return g
}

func (g *SeatGrid) Room() domain.Room { return g.room }

func (g *SeatGrid) IsOccupied(row, seat int) bool {
	_, ok := g.occupied[domain.Seat{Row: row, Seat: seat}]
	return ok
}

func (g *SeatGrid) IsSelected(row, seat int) bool {
	return g.indexOf(domain.Seat{Row: row, Seat: seat}) >= 0
}

// Toggle selects or deselects a seat. Occupied seats are ignored. A new seat
// is only added while fewer than limit seats are selected.
func (g *SeatGrid) Toggle(row, seat, limit int) error {
	s := domain.Seat{Row: row, Seat: seat}
	if !g.room.Contains(s) {
		return fmt.Errorf("%w: row %d seat %d", ErrSeatOutOfRange, row, seat)
	}
	if g.IsOccupied(row, seat) {
		return nil
	}

	if i := g.indexOf(s); i >= 0 {
		g.selected = append(g.selected[:i], g.selected[i+1:]...)
		return nil
	}

	if len(g.selected) >= limit {
		return fmt.Errorf("%w: at most %d", ErrSeatCapacityExceeded, limit)
	}

	g.selected = append(g.selected, s)
	return nil
}

func (g *SeatGrid) SelectedCount() int { return len(g.selected) }

// Selected returns the selected seats in selection order.
func (g *SeatGrid) Selected() []domain.Seat {
	out := make([]domain.Seat, len(g.selected))
	copy(out, g.selected)
	return out
}

// Occupied returns the occupied seats ordered by row, then seat.
func (g *SeatGrid) Occupied() []domain.Seat {
	out := make([]domain.Seat, 0, len(g.occupied))
	for s := range g.occupied {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Seat < out[j].Seat
	})
	return out
}

func (g *SeatGrid) Clear() { g.selected = nil }

// ReplaceOccupied installs a fresher occupied set and drops selected seats
// that are now taken. The dropped seats are returned.
func (g *SeatGrid) ReplaceOccupied(seats []domain.Seat) []domain.Seat {
	g.setOccupied(seats)

	var taken []domain.Seat
	kept := g.selected[:0]
	for _, s := range g.selected {
		if _, ok := g.occupied[s]; ok {
			taken = append(taken, s)
			continue
		}
		kept = append(kept, s)
	}
	g.selected = kept

	return taken
}

// Rows renders the grid row by row.
func (g *SeatGrid) Rows() []GridRow {
	rows := make([]GridRow, 0, g.room.Rows)
	for r := 1; r <= g.room.Rows; r++ {
		row := GridRow{Row: r, Label: RowLabel(r), Seats: make([]GridSeat, 0, g.room.SeatsPerRow)}
		for s := 1; s <= g.room.SeatsPerRow; s++ {
			state := SeatAvailable
			switch {
			case g.IsOccupied(r, s):
				state = SeatOccupied
			case g.IsSelected(r, s):
				state = SeatSelected
			}
			row.Seats = append(row.Seats, GridSeat{Seat: s, State: state})
		}
		rows = append(rows, row)
	}
	return rows
}

// RowLabel maps 1 to "A", 26 to "Z", 27 to "AA".
func RowLabel(row int) string {
	if row < 1 {
		return ""
	}
	var b []byte
	for row > 0 {
		row--
		b = append([]byte{byte('A' + row%26)}, b...)
		row /= 26
	}
	return string(b)
}

func (g *SeatGrid) setOccupied(seats []domain.Seat) {
	g.occupied = make(map[domain.Seat]struct{}, len(seats))
	for _, s := range seats {
		g.occupied[s] = struct{}{}
	}
}

func (g *SeatGrid) indexOf(s domain.Seat) int {
	for i, sel := range g.selected {
		if sel == s {
			return i
		}
	}
	return -1
}
