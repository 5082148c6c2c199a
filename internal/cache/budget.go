package cache

// refreshBudget bounds consecutive background refresh failures per entry.
//
// Each failed passive refresh spends one unit; an exhausted budget stops
// further passive refreshes for that entry so an unreachable server is not
// hammered on every read. Any evidence that the server is reachable again
// resets the budget: a successful fetch, a confirmed mutation, or a push
// invalidation.
//
// Explicit loads bypass the budget - the caller asked, so one fetch is
// always attempted.
type refreshBudget struct {
	limit int // Maximum consecutive failures before refreshes pause
	spent int // Failures since the last reset
}

// Spend records one failed refresh.
func (b *refreshBudget) Spend() {
	b.spent++
}

// Exhausted returns true once the budget is used up.
func (b *refreshBudget) Exhausted() bool {
	return b.spent >= b.limit
}

// Reset restores the full budget.
func (b *refreshBudget) Reset() {
	b.spent = 0
}

// Left returns the remaining budget. Used for logging.
func (b *refreshBudget) Left() int {
	if b.spent >= b.limit {
		return 0
	}
	return b.limit - b.spent
}
