package serial

import (
	"context"
	"time"

	"github.com/adalundhe/biofeedback/core/sample"
)

// PendingReader drains buffered integer readings.
type PendingReader interface {
	ReadPending() []int
}

// Reader polls a PendingReader and emits timestamped GSR samples.
type Reader struct {
	source   PendingReader
	interval time.Duration
	now      func() time.Time
}

// NewReader creates a Reader polling source every interval.
func NewReader(source PendingReader, interval time.Duration) *Reader {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Reader{source: source, interval: interval, now: time.Now}
}

// Run polls until ctx is done. All readings drained in one poll share the
// poll's timestamp.
func (r *Reader) Run(ctx context.Context, out chan<- sample.GSR) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		values := r.source.ReadPending()
		if len(values) == 0 {
			continue
		}
		at := r.now()
		for _, v := range values {
			select {
			case out <- sample.GSR{Value: v, At: at}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
