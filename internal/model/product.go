package model

// Bid is one participant's order line on a product. Interested-only bids
// carry zero quantity commitment; Quantity is meaningful only when
// Interested is false.
type Bid struct {
	UserID     string   `json:"user_id"`
	Name       string   `json:"name"`
	Quantity   Quantity `json:"quantity"`
	Interested bool     `json:"interested,omitempty"`
	Comment    string   `json:"comment,omitempty"`
}

// Product is a product-in-run: catalog identity plus the run-local order
// book. Bids are kept in placement order; Requested and InterestedCount are
// aggregates over Bids and must be recomputed after any bid change.
type Product struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Unit            string    `json:"unit,omitempty"`
	PriceCents      *Cents    `json:"price_cents,omitempty"` // reference price, nil = unset
	Requested       Quantity  `json:"requested"`
	InterestedCount int       `json:"interested_count"`
	Bids            []Bid     `json:"bids"`
	Purchased       *Quantity `json:"purchased,omitempty"` // nil until shopping records it
	ObservedCents   *Cents    `json:"observed_price_cents,omitempty"`
}

// Bid returns userID's bid on the product, if any.
func (p *Product) Bid(userID string) (Bid, bool) {
	for _, b := range p.Bids {
		if b.UserID == userID {
			return b, true
		}
	}
	return Bid{}, false
}

// UpsertBid replaces userID's bid in place or appends it, preserving
// placement order, then recomputes the aggregates.
func (p *Product) UpsertBid(b Bid) {
	for i := range p.Bids {
		if p.Bids[i].UserID == b.UserID {
			p.Bids[i] = b
			p.RecalcAggregates()
			return
		}
	}
	p.Bids = append(p.Bids, b)
	p.RecalcAggregates()
}

// RemoveBid deletes userID's bid and recomputes the aggregates. Removing an
// absent bid is a no-op.
func (p *Product) RemoveBid(userID string) {
	for i := range p.Bids {
		if p.Bids[i].UserID == userID {
			p.Bids = append(p.Bids[:i], p.Bids[i+1:]...)
			p.RecalcAggregates()
			return
		}
	}
}

// RecalcAggregates restores the invariant that Requested equals the sum of
// all bid quantities and InterestedCount the number of interested-only bids.
// Interested-only bids hold zero quantity, so summing everything is exact.
func (p *Product) RecalcAggregates() {
	var total Quantity
	interested := 0
	for _, b := range p.Bids {
		total += b.Quantity
		if b.Interested {
			interested++
		}
	}
	p.Requested = total
	p.InterestedCount = interested
}

// Clone returns a deep copy of the product, including pointer fields.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	out := *p
	out.Bids = append([]Bid(nil), p.Bids...)
	if p.PriceCents != nil {
		v := *p.PriceCents
		out.PriceCents = &v
	}
	if p.Purchased != nil {
		v := *p.Purchased
		out.Purchased = &v
	}
	if p.ObservedCents != nil {
		v := *p.ObservedCents
		out.ObservedCents = &v
	}
	return &out
}

// Orders is the order-book entity of a run: every product with its bids.
type Orders struct {
	RunID    string    `json:"run_id"`
	Products []Product `json:"products"`
}

// Product returns the product with the given id.
func (o *Orders) Product(productID string) (*Product, bool) {
	for i := range o.Products {
		if o.Products[i].ID == productID {
			return &o.Products[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the order book.
func (o *Orders) Clone() *Orders {
	if o == nil {
		return nil
	}
	out := Orders{RunID: o.RunID}
	out.Products = make([]Product, len(o.Products))
	for i := range o.Products {
		out.Products[i] = *o.Products[i].Clone()
	}
	return &out
}
