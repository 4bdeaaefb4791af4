package clock

import "time"

// Clock supplies the current time for every timeline decision. All
// comparisons in the access engine and submission flow go through it so
// tests can pin "now".
type Clock interface {
	Now() time.Time
}

type realClock struct {
	loc *time.Location
}

// NewReal returns a clock pinned to the given IANA zone (the school
// operates on UAE time, UTC+4).
func NewReal(zone string) (Clock, error) {
	if zone == "" {
		zone = "Asia/Dubai"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, err
	}
	return &realClock{loc: loc}, nil
}

func (c *realClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Fixed is a clock frozen at a chosen instant, for tests.
type Fixed struct {
	T time.Time
}

// NewFixed builds a frozen clock.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{T: t}
}

func (f *Fixed) Now() time.Time {
	return f.T
}

// Advance moves the frozen clock forward.
func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}
