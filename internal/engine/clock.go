package engine

import "time"

// Clock abstracts the engine's time source so expiry and ordering behavior
// can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
