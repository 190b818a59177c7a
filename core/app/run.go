package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adalundhe/biofeedback/core/calibration"
	"github.com/adalundhe/biofeedback/core/chart"
	"github.com/adalundhe/biofeedback/core/config"
	"github.com/adalundhe/biofeedback/core/ingress"
	"github.com/adalundhe/biofeedback/core/recorder"
	"github.com/adalundhe/biofeedback/core/serial"
	"github.com/adalundhe/biofeedback/core/session"
	"github.com/adalundhe/biofeedback/core/storage"
)

// Run executes one session with the configuration currently held by mgr.
// Threshold changes published by mgr while the session runs are applied live.
func (a *App) Run(ctx context.Context, mgr *config.Manager) (session.Summary, error) {
	cfg := mgr.Get()
	runID := NewRunID()
	logger := a.logger.With("run_id", runID)

	lock, err := storage.NewLock(a.dirs.StateDir(), "session")
	if err != nil {
		return session.Summary{}, err
	}
	if err := lock.TryAcquire(); err != nil {
		return session.Summary{}, fmt.Errorf("another session is running: %w", err)
	}
	defer lock.Release()

	if cfg.Board.Enabled {
		b, err := a.OpenBoard(cfg)
		if err != nil {
			logger.Warn("board unavailable", "error", err)
		} else {
			logger.Info("board ready",
				"board_id", b.ID(),
				"sampling_rate", b.SamplingRate(),
				"channels", b.Channels(),
			)
		}
	}

	listener, err := ingress.Listen(IngressConfig(cfg), logger, a.metrics)
	if err != nil {
		return session.Summary{}, err
	}

	deps := session.Deps{
		Theta:   listener,
		Metrics: a.metrics,
		Logger:  logger,
	}

	if cfg.Serial.Enabled {
		sc, err := SerialConfig(cfg)
		if err != nil {
			listener.Close()
			return session.Summary{}, err
		}
		link, err := serial.Open(sc, logger)
		if err != nil {
			listener.Close()
			return session.Summary{}, err
		}
		defer link.Close()
		logger.Info("serial link open", "port", link.Name())
		deps.Motor = link
		deps.GSR = serial.NewReader(link, cfg.Serial.PollInterval)
	}

	var dispatcher *recorder.Dispatcher
	if cfg.Session.Persist {
		sinks, err := a.Sinks(ctx, cfg)
		if err != nil {
			listener.Close()
			return session.Summary{}, err
		}
		dispatcher = recorder.NewDispatcher(sinks,
			recorder.WithLogger(logger),
			recorder.WithMetrics(a.metrics),
		)
		defer dispatcher.Close()
		deps.Records = dispatcher
	}

	if cfg.Session.Recording {
		store, err := a.CalibrationStore(ctx, cfg)
		if err != nil {
			listener.Close()
			return session.Summary{}, err
		}
		deps.Baseline = store
	}

	thresholds, err := a.Thresholds(ctx, cfg)
	if err != nil {
		listener.Close()
		return session.Summary{}, err
	}

	sc, err := SessionConfig(cfg, runID)
	if err != nil {
		listener.Close()
		return session.Summary{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	aux, stopAux := context.WithCancel(gctx)
	defer stopAux()

	if cfg.Chart.Enabled {
		renderer := chart.NewRenderer(chartConfig(a, cfg), logger)
		deps.Chart = renderer
		g.Go(func() error { return renderer.Run(aux) })
	}
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return a.metrics.Serve(aux, cfg.Metrics.Listen, logger) })
	}

	s, err := session.New(sc, thresholds, deps)
	if err != nil {
		listener.Close()
		return session.Summary{}, err
	}

	mgr.OnChange(func(next *config.Config) {
		t, err := ResolveThresholds(next.Thresholds, a.baselineFor(next))
		if err != nil {
			logger.Warn("ignoring threshold update", "error", err)
			return
		}
		s.SetThresholds(t)
	})

	summary, runErr := s.Run(gctx)
	stopAux()
	auxErr := g.Wait()

	if dispatcher != nil {
		if err := dispatcher.Close(); err != nil {
			logger.Warn("closing sinks", "error", err)
		}
	}

	if runErr != nil {
		return summary, runErr
	}
	return summary, auxErr
}

func (a *App) baselineFor(cfg *config.Config) *calibration.Baseline {
	if cfg.Thresholds.Source != "calibration" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	store, err := a.CalibrationStore(ctx, cfg)
	if err != nil {
		return nil
	}
	b, err := store.Load(ctx)
	if err != nil {
		return nil
	}
	return &b
}
