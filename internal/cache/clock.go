package cache

import "sync/atomic"

// Clock is the logical clock shared by the cache and the journal. Entry
// generations and journal sequence numbers are both drawn from it, so a
// journal read interleaves consistently with the generations the cache
// stamped around it.
//
// Values are strictly increasing and never reused. Wall time plays no
// part; ordering survives clock skew and suspend/resume.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock {
	return NewClockAt(0)
}

// NewClockAt returns a clock resumed past an already-used sequence,
// typically the journal's last recorded value, so entries appended after
// a restart never collide with earlier ones.
func NewClockAt(last int64) *Clock {
	c := new(Clock)
	c.seq.Store(last)
	return c
}

// Next draws the next sequence value. Safe for concurrent use; every
// caller sees a distinct value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current reports the most recently drawn value without drawing one.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
