// Package ingress receives EEG measurement datagrams over UDP and extracts
// the theta band value from each measurement tuple.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/adalundhe/biofeedback/core/metrics"
	"github.com/adalundhe/biofeedback/core/sample"
)

const (
	DefaultAddr        = "localhost:12345"
	DefaultThetaIndex  = 4
	DefaultMaxDatagram = 64 * 1024
)

var (
	ErrMalformed   = errors.New("malformed measurement datagram")
	ErrShortTuple  = errors.New("measurement tuple too short")
	ErrNotNumeric  = errors.New("theta value is not numeric")
	ErrEmptyPacket = errors.New("empty datagram")
)

type Config struct {
	Addr        string
	ThetaIndex  int
	MaxDatagram int
}

// Listener owns a bound UDP socket.
type Listener struct {
	conn       *net.UDPConn
	thetaIndex int
	bufSize    int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	warnLimit  *rate.Limiter
	now        func() time.Time
}

// Listen binds the UDP socket. Binding happens here so callers learn about
// port conflicts before any worker starts.
func Listen(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Listener, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ThetaIndex < 0 {
		return nil, fmt.Errorf("theta index %d is negative", cfg.ThetaIndex)
	}
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = DefaultMaxDatagram
	}
	if logger == nil {
		logger = slog.Default()
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", cfg.Addr, err)
	}

	return &Listener{
		conn:       conn,
		thetaIndex: cfg.ThetaIndex,
		bufSize:    cfg.MaxDatagram,
		logger:     logger.With("component", "ingress"),
		metrics:    m,
		warnLimit:  rate.NewLimiter(rate.Every(5*time.Second), 1),
		now:        time.Now,
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Run reads datagrams until ctx is cancelled and sends every extracted theta
// value on out. The socket is closed when Run returns.
func (l *Listener) Run(ctx context.Context, out chan<- sample.Theta) error {
	stop := context.AfterFunc(ctx, func() { l.conn.Close() })
	defer stop()
	defer l.conn.Close()

	l.logger.Info("listening for measurements", "addr", l.Addr().String())

	buf := make([]byte, l.bufSize)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read datagram: %w", err)
		}
		l.metrics.Datagram()

		values, err := Decode(buf[:n], l.thetaIndex)
		if err != nil {
			l.metrics.DecodeError()
			if l.warnLimit.Allow() {
				l.logger.Warn("dropping datagram", "bytes", n, "error", err)
			}
			continue
		}
		l.metrics.ThetaSamples(len(values))

		at := l.now()
		for _, v := range values {
			select {
			case out <- sample.Theta{Value: v, At: at}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Close releases the socket without running.
func (l *Listener) Close() error {
	return l.conn.Close()
}

type payload struct {
	Data [][]json.RawMessage `json:"data"`
}

// Decode extracts the value at thetaIndex from every tuple of a
// {"data": [[...], ...]} payload. The whole datagram is rejected if any tuple
// is unusable.
func Decode(datagram []byte, thetaIndex int) ([]float64, error) {
	if len(datagram) == 0 {
		return nil, ErrEmptyPacket
	}

	var p payload
	if err := json.Unmarshal(datagram, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Data == nil {
		return nil, fmt.Errorf("%w: missing data field", ErrMalformed)
	}

	values := make([]float64, 0, len(p.Data))
	for i, tuple := range p.Data {
		if len(tuple) <= thetaIndex {
			return nil, fmt.Errorf("%w: tuple %d has %d values", ErrShortTuple, i, len(tuple))
		}
		// null unmarshals into a nil pointer without error
		var v *float64
		if err := json.Unmarshal(tuple[thetaIndex], &v); err != nil || v == nil {
			return nil, fmt.Errorf("%w: tuple %d: %s", ErrNotNumeric, i, tuple[thetaIndex])
		}
		values = append(values, *v)
	}
	return values, nil
}
