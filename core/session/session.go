// Package session runs one biofeedback session: it collects theta and GSR
// samples from the acquisition workers, pairs them on every polling tick,
// drives the relax-mode machine and hands evaluated pairs to the sinks.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adalundhe/biofeedback/core/buffer"
	"github.com/adalundhe/biofeedback/core/calibration"
	"github.com/adalundhe/biofeedback/core/decision"
	"github.com/adalundhe/biofeedback/core/metrics"
	"github.com/adalundhe/biofeedback/core/recorder"
	"github.com/adalundhe/biofeedback/core/sample"
)

const (
	DefaultDuration     = 60 * time.Second
	DefaultPollInterval = 2 * time.Second
	DefaultWindowSize   = 100
	DefaultChartPoints  = 500

	sampleQueueSize = 256
	shutdownTimeout = 2 * time.Second
)

var ErrMissingSource = errors.New("session needs a theta source")

type Motor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type ThetaSource interface {
	Run(ctx context.Context, out chan<- sample.Theta) error
}

type GSRSource interface {
	Run(ctx context.Context, out chan<- sample.GSR) error
}

type RecordSink interface {
	Submit(ctx context.Context, r recorder.Record) error
}

type ChartSink interface {
	Update(series []float64)
}

type Config struct {
	RunID        string
	Duration     time.Duration
	PollInterval time.Duration
	Recording    bool
	Persist      bool
	Pairing      decision.Pairing
	MaxSkew      time.Duration
	WindowSize   int
	ChartPoints  int
	MinDwell     time.Duration
}

// Deps are the collaborators of a session. Only Theta is required; a nil
// Motor, Records, Chart or Baseline disables that concern.
type Deps struct {
	Theta    ThetaSource
	GSR      GSRSource
	Motor    Motor
	Records  RecordSink
	Chart    ChartSink
	Baseline calibration.Store
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Summary describes a finished session.
type Summary struct {
	RunID      string
	Started    time.Time
	Ended      time.Time
	Recording  bool
	Ticks      int
	Evaluated  int
	Pending    int
	Dropped    int
	Starts     int
	Stops      int
	// FinalState is the state when the loop ended, before the exit stop.
	FinalState decision.State
	Baseline   *calibration.Baseline
}

type Session struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	machine *decision.Machine
	now     func() time.Time

	// owned by the loop goroutine
	correlator *decision.Correlator
	window     *buffer.Ring[float64]
	gsrSeries  *buffer.Ring[float64]
	gsrDirty   bool
	summary    Summary
}

func New(cfg Config, thresholds decision.Thresholds, deps Deps) (*Session, error) {
	if deps.Theta == nil {
		return nil, ErrMissingSource
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.ChartPoints <= 0 {
		cfg.ChartPoints = DefaultChartPoints
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Session{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.With("component", "session", "run_id", cfg.RunID),
		machine: decision.NewMachine(thresholds, cfg.MinDwell),
		now:     time.Now,
		correlator: decision.NewCorrelator(decision.CorrelatorConfig{
			Pairing:    cfg.Pairing,
			MaxSkew:    cfg.MaxSkew,
			WindowSize: cfg.WindowSize,
		}),
		window:    buffer.NewRing[float64](cfg.WindowSize),
		gsrSeries: buffer.NewRing[float64](cfg.ChartPoints),
	}, nil
}

// SetThresholds swaps the thresholds of a running session.
func (s *Session) SetThresholds(t decision.Thresholds) {
	s.machine.SetThresholds(t)
	s.logger.Info("thresholds updated",
		"theta_high", t.ThetaHigh,
		"theta_low", t.ThetaLow,
		"conduction_limit", t.ConductionLimit,
		"conduction_mode", t.Mode.String(),
	)
}

// Run blocks until the configured duration elapses or ctx is cancelled. A
// cancelled ctx is a normal stop and does not produce an error.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	s.summary = Summary{RunID: s.cfg.RunID, Started: s.now(), Recording: s.cfg.Recording}

	g, gctx := errgroup.WithContext(ctx)
	workerCtx, stopWorkers := context.WithCancel(gctx)
	defer stopWorkers()

	thetaCh := make(chan sample.Theta, sampleQueueSize)
	gsrCh := make(chan sample.GSR, sampleQueueSize)

	g.Go(func() error {
		if err := s.deps.Theta.Run(workerCtx, thetaCh); err != nil {
			return fmt.Errorf("theta source: %w", err)
		}
		return nil
	})
	if s.deps.GSR != nil {
		g.Go(func() error {
			if err := s.deps.GSR.Run(workerCtx, gsrCh); err != nil {
				return fmt.Errorf("gsr source: %w", err)
			}
			return nil
		})
	} else {
		s.logger.Warn("no GSR source, theta values will stay unpaired")
	}

	s.logger.Info("session started",
		"duration", s.cfg.Duration,
		"poll_interval", s.cfg.PollInterval,
		"recording", s.cfg.Recording,
	)

	s.loop(gctx, thetaCh, gsrCh)

	stopWorkers()
	s.summary.FinalState = s.machine.State()
	s.shutdown(ctx)
	err := g.Wait()

	s.summary.Ended = s.now()
	s.summary.Pending = s.correlator.PendingTheta()

	s.logger.Info("session finished",
		"ticks", s.summary.Ticks,
		"evaluated", s.summary.Evaluated,
		"starts", s.summary.Starts,
		"stops", s.summary.Stops,
	)
	return s.summary, err
}

func (s *Session) loop(ctx context.Context, thetaCh <-chan sample.Theta, gsrCh <-chan sample.GSR) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.Duration)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(ctx, thetaCh, gsrCh)
			return
		case <-deadline.C:
			s.flush(ctx, thetaCh, gsrCh)
			return
		case t := <-thetaCh:
			s.addTheta(t)
		case g := <-gsrCh:
			s.addGSR(g)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// flush evaluates whatever arrived since the last tick, including samples
// still queued in the channels.
func (s *Session) flush(ctx context.Context, thetaCh <-chan sample.Theta, gsrCh <-chan sample.GSR) {
	for drained := false; !drained; {
		select {
		case t := <-thetaCh:
			s.addTheta(t)
		case g := <-gsrCh:
			s.addGSR(g)
		default:
			drained = true
		}
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.tick(fctx)
}

func (s *Session) addTheta(t sample.Theta) {
	s.correlator.AddTheta(t)
	s.window.Push(t.Value)
}

func (s *Session) addGSR(g sample.GSR) {
	s.correlator.AddGSR(g)
	s.gsrSeries.Push(float64(g.Value))
	s.gsrDirty = true
	s.deps.Metrics.GSRSample()
}

func (s *Session) tick(ctx context.Context) {
	s.summary.Ticks++

	res := s.correlator.Drain()
	s.summary.Dropped += res.Dropped
	s.deps.Metrics.SamplesDropped(res.Dropped)

	for _, p := range res.Pairs {
		s.evaluate(ctx, p)
	}

	if pending := s.correlator.PendingTheta(); pending > 0 {
		s.deps.Metrics.TickPending()
		s.logger.Debug("theta values waiting for GSR", "pending", pending)
	}

	if s.deps.Chart != nil && s.gsrDirty {
		s.deps.Chart.Update(s.gsrSeries.Snapshot())
		s.gsrDirty = false
	}
}

func (s *Session) evaluate(ctx context.Context, p sample.Pair) {
	s.summary.Evaluated++
	s.deps.Metrics.PairEvaluated()
	now := s.now()

	if !s.cfg.Recording {
		out := s.machine.Evaluate(p.Theta.Value, p.Conduction(), now)
		if out.Held {
			s.logger.Debug("transition held by dwell time", "state", out.From.String())
		}
		if out.Changed() {
			s.logger.Info("state changed",
				"from", out.From.String(),
				"to", out.To.String(),
				"theta", p.Theta.Value,
				"conduction", p.Conduction(),
			)
			s.deps.Metrics.SetRelaxing(out.To == decision.Relaxing)
			s.send(ctx, out.Command)
		}
	}

	if !s.cfg.Persist || s.deps.Records == nil {
		return
	}
	rec := recorder.Record{
		RunID:      s.cfg.RunID,
		Theta:      p.Theta.Value,
		Conduction: p.Conduction(),
		Date:       now,
		Relaxing:   s.machine.State() == decision.Relaxing,
	}
	// the dispatcher reports full-queue drops itself
	if err := s.deps.Records.Submit(ctx, rec); err != nil && !errors.Is(err, recorder.ErrQueueFull) {
		s.logger.Warn("record not queued", "error", err)
	}
}

func (s *Session) send(ctx context.Context, cmd decision.Command) {
	if cmd == decision.CommandNone {
		return
	}
	switch cmd {
	case decision.CommandStart:
		s.summary.Starts++
	case decision.CommandStop:
		s.summary.Stops++
	}
	if s.deps.Motor == nil {
		return
	}

	var err error
	if cmd == decision.CommandStart {
		err = s.deps.Motor.Start(ctx)
	} else {
		err = s.deps.Motor.Stop(ctx)
	}
	s.deps.Metrics.MotorCommand(cmd.String(), err)
	if err != nil {
		s.logger.Error("motor command failed", "command", cmd.String(), "error", err)
	}
}

// shutdown stops a running motor and stores the calibration baseline. It uses
// a fresh deadline because ctx may already be cancelled.
func (s *Session) shutdown(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if cmd := s.machine.Reset(s.now()); cmd != decision.CommandNone {
		s.logger.Info("stopping motor on exit")
		s.deps.Metrics.SetRelaxing(false)
		s.send(sctx, cmd)
	}

	if !s.cfg.Recording {
		return
	}
	b, err := calibration.Compute(s.window.Snapshot())
	if err != nil {
		s.logger.Warn("no calibration baseline produced", "error", err)
		return
	}
	s.summary.Baseline = &b
	if s.deps.Baseline == nil {
		return
	}
	if err := s.deps.Baseline.Save(sctx, b); err != nil {
		s.logger.Error("saving calibration baseline failed", "error", err)
		return
	}
	s.logger.Info("calibration baseline saved", "average", b.Average, "std", b.Std)
}
