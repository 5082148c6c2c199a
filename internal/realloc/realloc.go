package realloc

import "github.com/nedrrelm/bulq/internal/model"

// Status classifies a product during and after the shopping phase.
type Status string

const (
	// StatusPending means no purchase has been recorded yet.
	StatusPending Status = "pending"

	// StatusNotPurchased means the product could not be bought at all;
	// all demand on it is voided.
	StatusNotPurchased Status = "not_purchased"

	// StatusNeedsAdjustment means current claims still exceed the
	// purchased amount.
	StatusNeedsAdjustment Status = "needs_adjustment"

	// StatusAdjustmentOK means claims fit within the purchased amount.
	StatusAdjustmentOK Status = "adjustment_ok"
)

// Window is the legal range for one bid during the adjusting phase.
// Participants may only move a bid downward, and never below Floor.
type Window struct {
	Floor   model.Quantity
	Ceiling model.Quantity
}

// Allows reports whether q is a legal new quantity for the bid.
func (w Window) Allows(q model.Quantity) bool {
	return q >= w.Floor && q <= w.Ceiling
}

// Claims returns the bids that count for shortage arithmetic: non-removed
// participants with a positive quantity, in placement order. Interested-only
// bids carry no quantity and removed participants are excluded entirely.
func Claims(p *model.Product, participants []model.Participant) []model.Bid {
	removed := make(map[string]bool)
	for _, part := range participants {
		if part.Removed {
			removed[part.UserID] = true
		}
	}

	claims := make([]model.Bid, 0, len(p.Bids))
	for _, b := range p.Bids {
		if removed[b.UserID] || b.Quantity <= 0 {
			continue
		}
		claims = append(claims, b)
	}
	return claims
}

// Aggregate sums claim quantities.
func Aggregate(claims []model.Bid) model.Quantity {
	var total model.Quantity
	for _, b := range claims {
		total += b.Quantity
	}
	return total
}

// Shortage returns how far the purchase fell below active demand, in
// hundredths. Zero when nothing has been recorded yet or the purchase
// covered every claim.
func Shortage(p *model.Product, participants []model.Participant) model.Quantity {
	if p.Purchased == nil {
		return 0
	}
	agg := Aggregate(Claims(p, participants))
	if agg <= *p.Purchased {
		return 0
	}
	return agg - *p.Purchased
}

// WindowFor computes userID's adjustment window on the product. ok is false
// when the user holds no claim there. With zero shortage the window
// degenerates to [q, q].
func WindowFor(p *model.Product, userID string, participants []model.Participant) (Window, bool) {
	s := Shortage(p, participants)
	for _, b := range Claims(p, participants) {
		if b.UserID != userID {
			continue
		}
		floor := b.Quantity - s
		if floor < 0 {
			floor = 0
		}
		return Window{Floor: floor, Ceiling: b.Quantity}, true
	}
	return Window{}, false
}

// CanRetract reports whether userID may withdraw the bid entirely during
// adjusting. Retraction is a reduction to zero, so it is legal exactly when
// the window floor is zero: the shortage covers the whole bid.
func CanRetract(p *model.Product, userID string, participants []model.Participant) bool {
	w, ok := WindowFor(p, userID, participants)
	if !ok {
		return false
	}
	return w.Floor == 0
}

// ProductStatus classifies the product against its recorded purchase.
func ProductStatus(p *model.Product, participants []model.Participant) Status {
	if p.Purchased == nil {
		return StatusPending
	}
	if *p.Purchased == 0 {
		return StatusNotPurchased
	}
	if Aggregate(Claims(p, participants)) > *p.Purchased {
		return StatusNeedsAdjustment
	}
	return StatusAdjustmentOK
}

// NeedsAdjustment reports whether any product in the order book still has
// claims exceeding its purchase. This decides whether finishing the
// shopping phase lands in adjusting or goes straight to distributing.
func NeedsAdjustment(o *model.Orders, participants []model.Participant) bool {
	for i := range o.Products {
		if ProductStatus(&o.Products[i], participants) == StatusNeedsAdjustment {
			return true
		}
	}
	return false
}
