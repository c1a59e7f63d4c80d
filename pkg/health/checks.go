package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Goroutines returns a liveness Check that fails once the process runs more
// than limit goroutines, which usually means a leak.
func Goroutines(limit int) Check {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds limit %d", n, limit)
		}
		return nil
	}
}

// GCPause returns a liveness Check that fails when any recorded
// stop-the-world pause exceeded max.
func GCPause(max time.Duration) Check {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)

		for _, pause := range stats.Pause {
			if pause > max {
				return errors.Errorf("GC pause %s exceeds limit %s", pause, max)
			}
		}
		return nil
	}
}
