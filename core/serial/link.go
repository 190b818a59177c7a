// Package serial drives the Arduino that owns the vibration motor and the GSR
// sensor: single-byte motor commands out, newline-terminated integers in.
package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	goserial "go.bug.st/serial"

	bferrors "github.com/adalundhe/biofeedback/core/errors"
)

// maxDrainBytes caps a single ReadPending call so a chatty device cannot pin
// the caller.
const maxDrainBytes = 64 * 1024

var (
	// ErrNoDevice is returned when discovery finds no matching port.
	ErrNoDevice = bferrors.NewTieredError(bferrors.TierUserFixable, "no matching serial device", nil)

	// ErrClosed is returned when commanding a closed link.
	ErrClosed = errors.New("serial link closed")
)

// Port is the subset of a serial port the link needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Commands holds the control bytes understood by the firmware.
type Commands struct {
	Start byte
	Stop  byte
}

// ASCIICommands is the 'S'/'P' firmware protocol.
var ASCIICommands = Commands{Start: 'S', Stop: 'P'}

// RawCommands is the numeric firmware protocol.
var RawCommands = Commands{Start: 10, Stop: 20}

// CommandsForProfile returns the command bytes for "ascii" or "raw".
func CommandsForProfile(profile string) (Commands, error) {
	switch profile {
	case "", "ascii":
		return ASCIICommands, nil
	case "raw":
		return RawCommands, nil
	}
	return Commands{}, fmt.Errorf("unknown command profile %q", profile)
}

// Config configures a Link.
type Config struct {
	Port        string
	Match       string
	BaudRate    int
	Commands    Commands
	ReadTimeout time.Duration
	Retry       *bferrors.RetryPolicy
}

// Link is a connection to the motor/GSR microcontroller.
type Link struct {
	port     Port
	name     string
	commands Commands
	retry    *bferrors.RetryExecutor
	logger   *slog.Logger

	writeMu sync.Mutex
	readMu  sync.Mutex
	partial []byte
	closed  bool
}

// Open resolves the device (discovering it when cfg.Port is empty), opens it
// and returns a ready Link.
func Open(cfg Config, logger *slog.Logger) (*Link, error) {
	name := cfg.Port
	if name == "" {
		found, err := FindPort(cfg.Match)
		if err != nil {
			return nil, err
		}
		name = found
	}

	baud := cfg.BaudRate
	if baud <= 0 {
		baud = 9600
	}

	port, err := goserial.Open(name, &goserial.Mode{BaudRate: baud})
	if err != nil {
		return nil, bferrors.WrapWithTier(bferrors.TierUserFixable, "open "+name, err)
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	link := NewLink(port, cfg, logger)
	link.name = name
	return link, nil
}

// NewLink wraps an already-open port. The port's read timeout must be set so
// reads return when no data is buffered.
func NewLink(port Port, cfg Config, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	cmds := cfg.Commands
	if cmds == (Commands{}) {
		cmds = ASCIICommands
	}
	policy := cfg.Retry
	if policy == nil {
		policy = bferrors.DefaultTransientPolicy()
	}
	return &Link{
		port:     port,
		name:     cfg.Port,
		commands: cmds,
		retry: bferrors.NewRetryExecutor(map[bferrors.ErrorTier]*bferrors.RetryPolicy{
			bferrors.TierTransient: policy,
		}),
		logger: logger,
	}
}

// Name returns the device path.
func (l *Link) Name() string {
	return l.name
}

// Start sends the motor start byte.
func (l *Link) Start(ctx context.Context) error {
	return l.send(ctx, l.commands.Start)
}

// Stop sends the motor stop byte.
func (l *Link) Stop(ctx context.Context) error {
	return l.send(ctx, l.commands.Stop)
}

func (l *Link) send(ctx context.Context, b byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.closed {
		return ErrClosed
	}

	attempts := 0
	err := l.retry.Execute(ctx, func() error {
		attempts++
		n, err := l.port.Write([]byte{b})
		if err != nil {
			return classifyWriteError(err)
		}
		if n != 1 {
			return bferrors.NewTieredError(bferrors.TierTransient, "short write", io.ErrShortWrite)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("send command %d after %d attempts: %w", b, attempts, err)
	}
	if attempts > 1 {
		l.logger.Debug("serial command retried", slog.Int("attempts", attempts))
	}
	return nil
}

func classifyWriteError(err error) error {
	var pe *goserial.PortError
	if errors.As(err, &pe) && pe.Code() == goserial.PortClosed {
		return bferrors.WrapWithTier(bferrors.TierPermanent, "write", err)
	}
	return bferrors.WrapWithTier(bferrors.TierTransient, "write", err)
}

// ReadPending drains every complete line currently buffered by the device and
// returns the integers it holds. An incomplete trailing line is kept for the
// next call; lines that are not integers are dropped. A read error discards
// the call's data and returns an empty slice.
func (l *Link) ReadPending() []int {
	l.readMu.Lock()
	defer l.readMu.Unlock()

	buf := make([]byte, 256)
	data := l.partial
	read := 0
	for read < maxDrainBytes {
		n, err := l.port.Read(buf)
		if err != nil {
			l.partial = nil
			l.logger.Debug("serial read failed", slog.String("error", err.Error()))
			return []int{}
		}
		if n == 0 {
			break
		}
		data = append(data, buf[:n]...)
		read += n
	}

	values, rest := parseLines(data)
	l.partial = append([]byte(nil), rest...)
	return values
}

func parseLines(data []byte) ([]int, []byte) {
	values := []int{}
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return values, data
		}
		line := bytes.TrimSpace(data[:i])
		data = data[i+1:]
		if len(line) == 0 {
			continue
		}
		v, err := strconv.Atoi(string(line))
		if err != nil {
			continue
		}
		values = append(values, v)
	}
}

// Close closes the port. Further commands fail with ErrClosed.
func (l *Link) Close() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.port.Close()
}
