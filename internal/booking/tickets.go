package booking

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/shopspring/decimal"
)

// Field names a mutable attribute of a ticket line.
type Field string

const (
	FieldQuantity Field = "quantity"
	FieldType     Field = "type"
)

// Tickets holds the ticket lines of a booking and prices them against a
// catalog and a base price. Every type appears at most once and at least one
// line always exists.
type Tickets struct {
	catalog   Catalog
	basePrice decimal.Decimal
	items     []domain.LineItem
}

// NewTickets starts with a single "normal" ticket, or the first catalog entry
// when the catalog has no "normal" type.
func NewTickets(catalog Catalog, basePrice decimal.Decimal) *Tickets {
	catalog = CatalogOrDefault(catalog)

	first := catalog[0].Name
	if _, ok := catalog.Lookup("normal"); ok {
		first = "normal"
	}

	return &Tickets{
		catalog:   catalog,
		basePrice: basePrice,
		items:     []domain.LineItem{{Type: first, Quantity: 1}},
	}
}

func (t *Tickets) Catalog() Catalog { return t.catalog.Clone() }

func (t *Tickets) BasePrice() decimal.Decimal { return t.basePrice }

func (t *Tickets) Len() int { return len(t.items) }

func (t *Tickets) Items() []domain.LineItem {
	out := make([]domain.LineItem, len(t.items))
	copy(out, t.items)
	return out
}

// AddLineItem appends one ticket of the first catalog type not yet used.
func (t *Tickets) AddLineItem() error {
	for _, ct := range t.catalog {
		if !t.uses(ct.Name, -1) {
			t.items = append(t.items, domain.LineItem{Type: ct.Name, Quantity: 1})
			return nil
		}
	}
	return ErrNoAvailableTicketType
}

// RemoveLineItem removes the line at index unless it is the last one.
func (t *Tickets) RemoveLineItem(index int) error {
	if err := t.checkIndex(index); err != nil {
		return err
	}
	if len(t.items) <= 1 {
		return ErrLastLineItem
	}

	t.items = append(t.items[:index], t.items[index+1:]...)
	return nil
}

// UpdateLineItem sets field of the line at index from a raw form value.
// Quantities are coerced to whole numbers the way a form parser does.
func (t *Tickets) UpdateLineItem(index int, field Field, value string) error {
	switch field {
	case FieldQuantity:
		q, err := parseQuantity(value)
		if err != nil {
			return err
		}
		return t.SetQuantity(index, q)
	case FieldType:
		return t.SetType(index, strings.TrimSpace(value))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
}

// SetQuantity accepts 0 as the cleared state of a line; anything outside
// 0..MaxQuantity is rejected.
func (t *Tickets) SetQuantity(index, quantity int) error {
	if err := t.checkIndex(index); err != nil {
		return err
	}
	if quantity < 0 || quantity > MaxQuantity {
		return ErrInvalidQuantity
	}

	t.items[index].Quantity = quantity
	return nil
}

func (t *Tickets) SetType(index int, name string) error {
	if err := t.checkIndex(index); err != nil {
		return err
	}
	if _, ok := t.catalog.Lookup(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTicketType, name)
	}
	if t.uses(name, index) {
		return fmt.Errorf("%w: %q", ErrDuplicateTicketType, name)
	}

	t.items[index].Type = name
	return nil
}

func (t *Tickets) TotalCount() int {
	n := 0
	for _, it := range t.items {
		n += it.Quantity
	}
	return n
}

// TotalPrice sums basePrice × multiplier × quantity. Lines whose type is not
// in the catalog contribute nothing.
func (t *Tickets) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for i := range t.items {
		total = total.Add(t.LinePrice(i))
	}
	return total
}

func (t *Tickets) LinePrice(index int) decimal.Decimal {
	if index < 0 || index >= len(t.items) {
		return decimal.Zero
	}
	it := t.items[index]
	ct, ok := t.catalog.Lookup(it.Type)
	if !ok {
		return decimal.Zero
	}
	return t.basePrice.Mul(ct.PriceMultiplier).Mul(decimal.NewFromInt(int64(it.Quantity)))
}

func (t *Tickets) uses(name string, except int) bool {
	for i, it := range t.items {
		if i != except && it.Type == name {
			return true
		}
	}
	return false
}

func (t *Tickets) checkIndex(index int) error {
	if index < 0 || index >= len(t.items) {
		return fmt.Errorf("%w: %d", ErrLineItemNotFound, index)
	}
	return nil
}

func parseQuantity(value string) (int, error) {
	v := strings.TrimSpace(value)
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrInvalidQuantity
	}

	return int(math.Trunc(f)), nil
}
