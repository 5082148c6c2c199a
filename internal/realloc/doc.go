// Package realloc implements the shortage rules that apply when a shopping
// trip brings back less than the group ordered: per-bid adjustment windows,
// product resolution predicates, and the deterministic proportional
// reduction used when the leader force-finishes with unresolved products.
//
// Everything here is pure integer arithmetic on Quantity hundredths, so any
// two clients (and the server) that see the same bids and the same purchased
// amount compute byte-identical outcomes. The rounding rule is user-visible
// in disputes: floor of the proportional share, then the remaining
// hundredths granted one each by largest remainder, ties to the earliest
// bid in placement order.
//
// Removed participants are excluded throughout. Their bids neither widen
// windows, nor count toward aggregates, nor receive shares.
package realloc
