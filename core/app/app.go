// Package app assembles a session from the loaded configuration: it opens the
// devices, binds the ingress socket, builds the sinks and resolves the
// thresholds.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/google/uuid"

	"github.com/adalundhe/biofeedback/core/board"
	"github.com/adalundhe/biofeedback/core/calibration"
	"github.com/adalundhe/biofeedback/core/chart"
	"github.com/adalundhe/biofeedback/core/config"
	"github.com/adalundhe/biofeedback/core/database"
	"github.com/adalundhe/biofeedback/core/decision"
	"github.com/adalundhe/biofeedback/core/ingress"
	"github.com/adalundhe/biofeedback/core/metrics"
	"github.com/adalundhe/biofeedback/core/recorder"
	"github.com/adalundhe/biofeedback/core/serial"
	"github.com/adalundhe/biofeedback/core/session"
	"github.com/adalundhe/biofeedback/core/storage"
)

type App struct {
	dirs    *storage.Dirs
	logger  *slog.Logger
	db      *database.Manager
	metrics *metrics.Metrics
}

func New(dirs *storage.Dirs, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		dirs:    dirs,
		logger:  logger,
		db:      database.NewManager(dirs.Resolve),
		metrics: metrics.New(nil),
	}
}

func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Close releases every database opened by the app.
func (a *App) Close() error {
	return a.db.CloseAll()
}

func (a *App) pool(cfg *config.Config) (*database.Pool, error) {
	pc := database.DefaultPoolConfig()
	pc.Driver = cfg.Storage.Driver
	return a.db.Open(cfg.Storage.Database, pc)
}

// CalibrationStore returns the configured baseline backend.
func (a *App) CalibrationStore(ctx context.Context, cfg *config.Config) (calibration.Store, error) {
	if cfg.Storage.CalibrationBackend == "sql" {
		pool, err := a.pool(cfg)
		if err != nil {
			return nil, fmt.Errorf("open calibration database: %w", err)
		}
		return calibration.NewSQLStore(ctx, pool)
	}
	return calibration.NewFileStore(a.dirs.Resolve(cfg.Storage.CalibrationFile)), nil
}

// Thresholds resolves the thresholds for cfg. With the calibration source and
// a stored baseline, theta limits come from the baseline; otherwise the static
// constants apply.
func (a *App) Thresholds(ctx context.Context, cfg *config.Config) (decision.Thresholds, error) {
	var baseline *calibration.Baseline
	if cfg.Thresholds.Source == "calibration" {
		store, err := a.CalibrationStore(ctx, cfg)
		if err != nil {
			return decision.Thresholds{}, err
		}
		b, err := store.Load(ctx)
		switch {
		case err == nil:
			baseline = &b
		case errors.Is(err, calibration.ErrNoBaseline):
			a.logger.Warn("no calibration baseline stored, using static thresholds")
		default:
			return decision.Thresholds{}, err
		}
	}
	return ResolveThresholds(cfg.Thresholds, baseline)
}

// ResolveThresholds maps the threshold config and an optional baseline to
// state machine thresholds.
func ResolveThresholds(tc config.ThresholdsConfig, baseline *calibration.Baseline) (decision.Thresholds, error) {
	mode, err := decision.ParseConductionMode(tc.ConductionMode)
	if err != nil {
		return decision.Thresholds{}, err
	}
	if tc.Source == "calibration" && baseline != nil {
		return decision.BaselineThresholds(baseline.Average, baseline.Std, tc.ConductionLimit, mode), nil
	}
	return decision.StaticThresholds(tc.BrainLimitHigh, tc.NormalStd, tc.ConductionLimit, mode), nil
}

// Sinks builds the record sinks enabled in cfg.
func (a *App) Sinks(ctx context.Context, cfg *config.Config) ([]recorder.Sink, error) {
	var sinks []recorder.Sink

	file, err := recorder.NewFileSink(a.dirs.Resolve(cfg.Storage.ResultsFile))
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, file)

	if cfg.Storage.TableSink {
		pool, err := a.pool(cfg)
		if err != nil {
			closeSinks(sinks)
			return nil, fmt.Errorf("open results database: %w", err)
		}
		sqlSink, err := recorder.NewSQLSink(ctx, pool)
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, sqlSink)
	}

	if cfg.Influx.URL != "" {
		sinks = append(sinks, recorder.NewInfluxSink(recorder.InfluxConfig{
			URL:         cfg.Influx.URL,
			Token:       cfg.Influx.Token,
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Influx.Measurement,
		}))
	}
	return sinks, nil
}

func closeSinks(sinks []recorder.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// OpenBoard loads the vendor driver and opens the configured board.
func (a *App) OpenBoard(cfg *config.Config) (*board.Board, error) {
	driver, err := board.LoadDriver(cfg.Board.Library)
	if err != nil {
		return nil, err
	}
	defer driver.Close()

	params := board.DefaultParams(cfg.Board.SerialPort, cfg.Board.BufferLength)
	return board.Open(driver, cfg.Board.BoardID, params, cfg.Board.Channels)
}

// ProbeBoard opens the configured board and checks that a streaming session
// can be prepared and released on its port.
func (a *App) ProbeBoard(cfg *config.Config) (*board.Board, error) {
	driver, err := board.LoadDriver(cfg.Board.Library)
	if err != nil {
		return nil, err
	}
	defer driver.Close()

	params := board.DefaultParams(cfg.Board.SerialPort, cfg.Board.BufferLength)
	b, err := board.Open(driver, cfg.Board.BoardID, params, cfg.Board.Channels)
	if err != nil {
		return nil, err
	}
	return b, board.Probe(driver, b)
}

// SerialConfig maps the serial section of cfg to a link configuration.
func SerialConfig(cfg *config.Config) (serial.Config, error) {
	cmds, err := serial.CommandsForProfile(cfg.Serial.CommandProfile)
	if err != nil {
		return serial.Config{}, err
	}
	if cfg.Serial.StartByte != nil {
		cmds.Start = *cfg.Serial.StartByte
	}
	if cfg.Serial.StopByte != nil {
		cmds.Stop = *cfg.Serial.StopByte
	}
	retry := cfg.Serial.Retry
	return serial.Config{
		Port:        cfg.Serial.Port,
		Match:       cfg.Serial.Match,
		BaudRate:    cfg.Serial.BaudRate,
		Commands:    cmds,
		ReadTimeout: cfg.Serial.ReadTimeout,
		Retry:       &retry,
	}, nil
}

func SessionConfig(cfg *config.Config, runID string) (session.Config, error) {
	pairing, err := decision.ParsePairing(cfg.Session.Pairing)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		RunID:        runID,
		Duration:     cfg.Session.Duration,
		PollInterval: cfg.Session.PollInterval,
		Recording:    cfg.Session.Recording,
		Persist:      cfg.Session.Persist,
		Pairing:      pairing,
		MaxSkew:      cfg.Session.MaxSkew,
		WindowSize:   cfg.Session.WindowSize,
		ChartPoints:  cfg.Chart.Points,
		MinDwell:     cfg.Thresholds.MinDwell,
	}, nil
}

func IngressConfig(cfg *config.Config) ingress.Config {
	return ingress.Config{
		Addr:        net.JoinHostPort(cfg.Ingress.Host, strconv.Itoa(cfg.Ingress.Port)),
		ThetaIndex:  cfg.Ingress.ThetaIndex,
		MaxDatagram: cfg.Ingress.MaxDatagram,
	}
}

func NewRunID() string {
	return uuid.NewString()
}

func chartConfig(a *App, cfg *config.Config) chart.Config {
	return chart.Config{
		Path:   a.dirs.Resolve(cfg.Chart.Path),
		Width:  cfg.Chart.Width,
		Height: cfg.Chart.Height,
	}
}
