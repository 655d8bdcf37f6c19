package enforcement

import "time"

// Clock supplies authority time to the engine so tests can drive the
// rate-limit and escalation windows deterministically.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
