package model

// DistributionRow is one (user, product) line of the distribution roster:
// what the user takes home and what it costs.
type DistributionRow struct {
	UserID    string   `json:"user_id"`
	ProductID string   `json:"product_id"`
	Quantity  Quantity `json:"quantity"`
	UnitCents Cents    `json:"unit_price_cents"`
	Subtotal  Cents    `json:"subtotal_cents"`
	Picked    bool     `json:"picked"`
}

// Distribution is the distribution entity of a run: the full roster of
// per-user per-product allocations produced at the end of shopping.
type Distribution struct {
	RunID string            `json:"run_id"`
	Rows  []DistributionRow `json:"rows"`
}

// Row returns the line for (userID, productID), if present.
func (d *Distribution) Row(userID, productID string) (DistributionRow, bool) {
	for _, r := range d.Rows {
		if r.UserID == userID && r.ProductID == productID {
			return r, true
		}
	}
	return DistributionRow{}, false
}

// SetPicked marks the (userID, productID) line picked or unpicked and
// reports whether the line exists.
func (d *Distribution) SetPicked(userID, productID string, picked bool) bool {
	for i := range d.Rows {
		if d.Rows[i].UserID == userID && d.Rows[i].ProductID == productID {
			d.Rows[i].Picked = picked
			return true
		}
	}
	return false
}

// UserTotal sums the subtotals of every line belonging to userID.
func (d *Distribution) UserTotal(userID string) Cents {
	var total Cents
	for _, r := range d.Rows {
		if r.UserID == userID {
			total += r.Subtotal
		}
	}
	return total
}

// AllPicked reports whether every line belonging to one of the given users
// has been picked up. Rows of other users (removed participants) do not
// block completion.
func (d *Distribution) AllPicked(userIDs []string) bool {
	active := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		active[id] = true
	}
	for _, r := range d.Rows {
		if active[r.UserID] && !r.Picked {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the distribution.
func (d *Distribution) Clone() *Distribution {
	if d == nil {
		return nil
	}
	out := *d
	out.Rows = append([]DistributionRow(nil), d.Rows...)
	return &out
}
