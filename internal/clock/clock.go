package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// System clock, returns current UTC time
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

// OrSystem returns c or the system clock when c is nil
func OrSystem(c Clock) Clock {
	if c == nil {
		return System{}
	}
	return c
}

// Fake clock for tests. Safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
