// Package clock provides the time source for Andorinha.
//
// Every timestamp that reaches the database goes through this package so
// that the whole system can be driven by a deterministic fake in tests.
package clock

import (
	"sync"
	"time"

	"github.com/Mathweuzz/Andorinha-Jobs/errors"
)

// Layout is the wire format for every persisted timestamp: UTC with
// millisecond precision and a literal 'Z' suffix. No other offset form is
// accepted on input. The format sorts lexicographically, which the job
// selection queries rely on.
const Layout = "2006-01-02T15:04:05.000Z"

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System returns a Clock backed by the wall clock, normalized to UTC.
func System() Clock {
	return systemClock{}
}

// Format renders t in the wire format, converting to UTC first.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Parse decodes a wire-format timestamp. Only the literal 'Z' suffix is
// accepted; "+00:00" and friends are rejected.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidRequest, "invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

// Fake is a manually-advanceable Clock for deterministic tests.
//
//	clk := clock.NewFake() // starts at 2000-01-01T00:00:00Z
//	t0 := clk.Now()
//	clk.Advance(30 * time.Second)
//	t1 := clk.Now() // 30s later
type Fake struct {
	mu      sync.Mutex
	current time.Time
}

// NewFake returns a Fake clock starting at 2000-01-01T00:00:00Z.
func NewFake() *Fake {
	return &Fake{current: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// NewFakeAt returns a Fake clock starting at the given UTC instant.
func NewFakeAt(t time.Time) (*Fake, error) {
	f := NewFake()
	if err := f.Set(t); err != nil {
		return nil, err
	}
	return f, nil
}

// Now returns the fake's current instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Advance moves the clock forward (or backward, with a negative duration).
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// Set pins the clock to the given instant. The instant must carry an
// explicit UTC offset; anything else is a caller bug and is rejected.
func (f *Fake) Set(t time.Time) error {
	if _, offset := t.Zone(); offset != 0 {
		return errors.Wrapf(errors.ErrInvalidRequest, "fake clock requires a UTC instant, got offset %d", offset)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
	return nil
}
