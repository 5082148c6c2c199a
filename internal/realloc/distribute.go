package realloc

import (
	"sort"

	"github.com/nedrrelm/bulq/internal/model"
)

// Allocation is what one participant takes home of one product.
type Allocation struct {
	UserID   string
	Quantity model.Quantity
}

// Distribute reduces the claims so they exactly total purchased. Each claim
// first gets the floor of its proportional share, q·P/A in hundredths; the
// hundredths left over are granted one each in order of largest remainder
// (q·P) mod A, ties going to the earliest claim. The result always
// conserves the purchased amount and never exceeds any claim.
//
// Claims already fitting the purchase (ΣQ <= P) come back unchanged;
// nothing is ever scaled up. A zero purchase, or no claims at all, yields
// no allocations.
func Distribute(claims []model.Bid, purchased model.Quantity) []Allocation {
	if purchased <= 0 || len(claims) == 0 {
		return nil
	}

	agg := Aggregate(claims)
	if agg == 0 {
		// A recorded purchase with zero aggregate demand has no claimants.
		return nil
	}

	out := make([]Allocation, len(claims))
	if agg <= purchased {
		for i, b := range claims {
			out[i] = Allocation{UserID: b.UserID, Quantity: b.Quantity}
		}
		return out
	}

	a := int64(agg)
	p := int64(purchased)

	remainders := make([]int, 0, len(claims))
	granted := int64(0)
	for i, b := range claims {
		share := int64(b.Quantity) * p / a
		out[i] = Allocation{UserID: b.UserID, Quantity: model.Quantity(share)}
		granted += share
		remainders = append(remainders, i)
	}

	// Stable sort keeps placement order among equal remainders, which makes
	// the tie-break reproducible everywhere.
	sort.SliceStable(remainders, func(x, y int) bool {
		rx := int64(claims[remainders[x]].Quantity) * p % a
		ry := int64(claims[remainders[y]].Quantity) * p % a
		return rx > ry
	})

	for i := int64(0); i < p-granted; i++ {
		out[remainders[i]].Quantity++
	}
	return out
}

// Allocations computes the product's final per-user quantities from its
// recorded purchase: claims as-is when they fit, proportionally reduced
// when they do not. Products with no recorded purchase yield nil.
func Allocations(p *model.Product, participants []model.Participant) []Allocation {
	if p.Purchased == nil {
		return nil
	}
	return Distribute(Claims(p, participants), *p.Purchased)
}

// BuildDistribution composes the full distribution roster for a run from
// its order book: one row per (user, product) allocation, priced at the
// observed unit price (falling back to the reference price when the
// shopper recorded none), subtotals rounded half-up at the cent. Rows come
// out in product order, then claim placement order, all unpicked.
func BuildDistribution(o *model.Orders, participants []model.Participant) *model.Distribution {
	d := &model.Distribution{RunID: o.RunID}
	for i := range o.Products {
		p := &o.Products[i]

		var unit model.Cents
		switch {
		case p.ObservedCents != nil:
			unit = *p.ObservedCents
		case p.PriceCents != nil:
			unit = *p.PriceCents
		}

		for _, alloc := range Allocations(p, participants) {
			d.Rows = append(d.Rows, model.DistributionRow{
				UserID:    alloc.UserID,
				ProductID: p.ID,
				Quantity:  alloc.Quantity,
				UnitCents: unit,
				Subtotal:  model.Subtotal(unit, alloc.Quantity),
			})
		}
	}
	return d
}
