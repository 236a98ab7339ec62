package service

import "time"

type clock struct {
	now func() time.Time
}

func newClock() clock {
	return clock{now: time.Now}
}

func (c *clock) setClock(now func() time.Time) {
	c.now = now
}

type clocked interface {
	setClock(now func() time.Time)
}

// Option customizes a service component.
type Option func(clocked)

// WithClock replaces the time source. Tests use it to move past TTLs.
func WithClock(now func() time.Time) Option {
	return func(c clocked) { c.setClock(now) }
}

func applyOptions(c clocked, opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}
