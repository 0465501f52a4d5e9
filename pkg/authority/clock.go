package authority

import "time"

// Clock supplies host time as unix seconds.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// FixedClock always reports the same instant. Tests advance it with Set.
type FixedClock struct{ T int64 }

func (c *FixedClock) Now() int64 { return c.T }

// Set moves the clock to t.
func (c *FixedClock) Set(t int64) { c.T = t }

// Due reports whether now has reached due. Equality counts as reached.
func Due(now, due int64) bool {
	return now >= due
}
