// Package wire defines the push-channel message vocabulary: the envelope
// framing, the closed union of known message types, payload validation, and
// the fixed type-to-entity invalidation table.
//
// Dispatch is a tagged union rather than reflection: every known type has a
// concrete struct and one decode path, and anything unrecognized becomes
// Unknown, which business logic treats as a no-op while subscribers still
// see it. That keeps old clients forward compatible with new server types.
//
// Payloads of known types are validated against an embedded CUE schema
// before decoding. A frame that fails validation is malformed by
// definition; callers drop it, log, and move on.
package wire
