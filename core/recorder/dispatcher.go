package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	bferrors "github.com/adalundhe/biofeedback/core/errors"
	"github.com/adalundhe/biofeedback/core/metrics"
)

const DefaultQueueSize = 256

var (
	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("recorder dispatcher closed")
	// ErrQueueFull is returned by Submit when the record was discarded.
	ErrQueueFull = errors.New("recorder queue full")
)

// Dispatcher fans records out to every sink from one writer goroutine.
type Dispatcher struct {
	sinks    []Sink
	breakers []*bferrors.CircuitBreaker
	breaker  bferrors.CircuitBreakerConfig
	queue    chan Record
	logger   *slog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	dropWarn *rate.Limiter
	dropped  atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once

	written int
	failed  int
}

type DispatcherOption func(*Dispatcher)

func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Record, n)
		}
	}
}

// WithWriteTimeout bounds every single sink write.
func WithWriteTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithCircuitBreaker sets how many consecutive failures take a sink out of
// rotation and for how long.
func WithCircuitBreaker(cfg bferrors.CircuitBreakerConfig) DispatcherOption {
	return func(d *Dispatcher) { d.breaker = cfg }
}

// NewDispatcher starts the writer goroutine.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:    sinks,
		breaker:  bferrors.DefaultCircuitBreakerConfig(),
		queue:    make(chan Record, DefaultQueueSize),
		logger:   slog.Default(),
		timeout:  5 * time.Second,
		dropWarn: rate.NewLimiter(rate.Every(5*time.Second), 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "recorder")
	for range d.sinks {
		d.breakers = append(d.breakers, bferrors.NewCircuitBreaker(d.breaker))
	}

	go d.run()
	return d
}

// Submit queues r without waiting. When the writer has fallen behind and the
// queue is full the record is discarded and ErrQueueFull returned.
func (d *Dispatcher) Submit(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- r:
		return nil
	default:
	}

	n := d.dropped.Add(1)
	d.metrics.RecordDropped()
	if d.dropWarn.Allow() {
		d.logger.Warn("record queue full, dropping records", "dropped_total", n)
	}
	return ErrQueueFull
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for r := range d.queue {
		d.write(r)
	}
}

func (d *Dispatcher) write(r Record) {
	ok := true
	for i, s := range d.sinks {
		cb := d.breakers[i]
		if !cb.Allow() {
			ok = false
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Write(ctx, r)
		cancel()
		cb.RecordResult(err == nil)
		if err != nil {
			ok = false
			d.metrics.SinkError(s.Name())
			d.logger.Error("sink write failed", "sink", s.Name(), "error", err)
			if cb.State() == bferrors.CircuitOpen {
				d.logger.Warn("sink suspended after repeated failures", "sink", s.Name())
			}
		}
	}
	if ok {
		d.written++
	} else {
		d.failed++
	}
}

// Close drains the queue, waits for the writer and closes every sink.
func (d *Dispatcher) Close() error {
	var errs []error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		<-d.done
		for _, s := range d.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Dropped returns how many records Submit discarded.
func (d *Dispatcher) Dropped() int {
	return int(d.dropped.Load())
}

// Stats returns how many records were written to every sink and how many
// failed on at least one. Valid after Close.
func (d *Dispatcher) Stats() (written, failed int) {
	<-d.done
	return d.written, d.failed
}
