// Package recorder persists evaluated theta/GSR pairs. Sinks are driven by a
// Dispatcher goroutine so a slow sink never delays the decision loop.
package recorder

import (
	"context"
	"time"
)

// Record is an immutable snapshot of one evaluated pair.
type Record struct {
	RunID      string
	Theta      float64
	Conduction float64
	Date       time.Time
	Relaxing   bool
}

// Sink persists records. Implementations need not be safe for concurrent
// use; the Dispatcher calls them from a single goroutine.
type Sink interface {
	Name() string
	Write(ctx context.Context, r Record) error
	Close() error
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
