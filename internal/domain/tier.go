package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

type tierThreshold struct {
	minSpend decimal.Decimal
	tierID   int
}

// Ordered most-qualifying first; lower bounds are inclusive.
var tierThresholds = []tierThreshold{
	{minSpend: decimal.NewFromInt(20000), tierID: 4},
	{minSpend: decimal.NewFromInt(12000), tierID: 3},
	{minSpend: decimal.NewFromInt(7000), tierID: 2},
	{minSpend: decimal.NewFromInt(5000), tierID: 1},
}

// MinimumQualifyingSpend is the lowest spend that earns any coupon.
var MinimumQualifyingSpend = decimal.NewFromInt(5000)

// ResolveTier maps accumulated spend to a tier id. ok is false when the spend
// is below every threshold.
func ResolveTier(spend decimal.Decimal) (tierID int, ok bool) {
	for _, t := range tierThresholds {
		if spend.GreaterThanOrEqual(t.minSpend) {
			return t.tierID, true
		}
	}
	return 0, false
}

type TierCatalog []Tier

func (c TierCatalog) Lookup(tierID int) (Tier, bool) {
	for _, t := range c {
		if t.ID == tierID {
			return t, true
		}
	}
	return Tier{}, false
}

func (c TierCatalog) IDs() []int {
	ids := make([]int, 0, len(c))
	for _, t := range c {
		ids = append(ids, t.ID)
	}
	sort.Ints(ids)
	return ids
}

// Validate returns the catalog row for tierID, or an InvalidTierError when the
// threshold table and the catalog have drifted apart.
func (c TierCatalog) Validate(tierID int) (Tier, error) {
	if t, ok := c.Lookup(tierID); ok {
		return t, nil
	}
	return Tier{}, &InvalidTierError{TierID: tierID, ValidTierIDs: c.IDs()}
}
