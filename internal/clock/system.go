package clock

import (
	"context"
	"time"
)

type simulatedTimeKey struct{}

// WithSimulatedTime pins Now for everything downstream of ctx. Operators use
// it to replay a sweep "as of" a past instant.
func WithSimulatedTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, simulatedTimeKey{}, t.UTC())
}

// SimulatedTimeFromContext returns the simulated time, if present.
func SimulatedTimeFromContext(ctx context.Context) (time.Time, bool) {
	if ctx == nil {
		return time.Time{}, false
	}
	t, ok := ctx.Value(simulatedTimeKey{}).(time.Time)
	return t, ok
}

type SystemClock struct{}

func (SystemClock) Now(ctx context.Context) time.Time {
	if t, ok := SimulatedTimeFromContext(ctx); ok {
		return t
	}
	return time.Now().UTC()
}
