package booking

import (
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/shopspring/decimal"
)

// MaxQuantity is the largest quantity a single ticket line may carry.
const MaxQuantity = 10

// DefaultBasePrice applies when a screening does not carry its own price.
var DefaultBasePrice = decimal.NewFromInt(1500)

// DefaultCatalog is the ticket catalog used whenever the catalog source is
// empty or unavailable.
var DefaultCatalog = Catalog{
	{Name: "normal", DisplayName: "Normal ticket", PriceMultiplier: decimal.NewFromInt(1)},
	{Name: "student", DisplayName: "Student ticket", PriceMultiplier: decimal.RequireFromString("0.75")},
	{Name: "senior", DisplayName: "Senior ticket", PriceMultiplier: decimal.RequireFromString("0.80")},
}

type Catalog []domain.TicketType

// CatalogOrDefault drops unusable entries (empty or repeated names,
// non-positive multipliers) and falls back to DefaultCatalog when nothing
// is left.
func CatalogOrDefault(types []domain.TicketType) Catalog {
	seen := make(map[string]struct{}, len(types))
	out := make(Catalog, 0, len(types))
	for _, t := range types {
		if t.Name == "" || !t.PriceMultiplier.IsPositive() {
			continue
		}
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		if t.DisplayName == "" {
			t.DisplayName = t.Name
		}
		out = append(out, t)
	}

	if len(out) == 0 {
		return DefaultCatalog.Clone()
	}

	return out
}

func (c Catalog) Lookup(name string) (domain.TicketType, bool) {
	for _, t := range c {
		if t.Name == name {
			return t, true
		}
	}
	return domain.TicketType{}, false
}

func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	copy(out, c)
	return out
}

// BasePriceOrDefault returns the screening price, or DefaultBasePrice when it
// is missing, zero or negative.
func BasePriceOrDefault(p *decimal.Decimal) decimal.Decimal {
	if p == nil || !p.IsPositive() {
		return DefaultBasePrice
	}
	return *p
}
