package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

func (c *Config) Validate() error {
	var errs []error

	if c.Session.Duration <= 0 {
		errs = append(errs, errors.New("session.duration must be positive"))
	}
	if c.Session.PollInterval <= 0 {
		errs = append(errs, errors.New("session.poll_interval must be positive"))
	}
	if c.Session.WindowSize <= 0 {
		errs = append(errs, errors.New("session.window_size must be positive"))
	}
	switch c.Session.Pairing {
	case "index", "timestamp":
	default:
		errs = append(errs, fmt.Errorf("session.pairing %q: want index or timestamp", c.Session.Pairing))
	}

	switch c.Thresholds.Source {
	case "static", "calibration":
	default:
		errs = append(errs, fmt.Errorf("thresholds.source %q: want static or calibration", c.Thresholds.Source))
	}
	switch c.Thresholds.ConductionMode {
	case "above", "below":
	default:
		errs = append(errs, fmt.Errorf("thresholds.conduction_mode %q: want above or below", c.Thresholds.ConductionMode))
	}
	if c.Thresholds.NormalStd > c.Thresholds.BrainLimitHigh {
		errs = append(errs, errors.New("thresholds.normal_std must not exceed brain_limit_high"))
	}

	if c.Ingress.Port < 0 || c.Ingress.Port > 65535 {
		errs = append(errs, fmt.Errorf("ingress.port %d out of range", c.Ingress.Port))
	}
	if c.Ingress.ThetaIndex < 0 {
		errs = append(errs, errors.New("ingress.theta_index must not be negative"))
	}

	switch c.Serial.CommandProfile {
	case "ascii", "raw":
	default:
		errs = append(errs, fmt.Errorf("serial.command_profile %q: want ascii or raw", c.Serial.CommandProfile))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, errors.New("serial.baud_rate must be positive"))
	}

	switch c.Storage.Driver {
	case "sqlite3", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q: want sqlite3 or sqlite", c.Storage.Driver))
	}
	switch c.Storage.CalibrationBackend {
	case "file", "sql":
	default:
		errs = append(errs, fmt.Errorf("storage.calibration_backend %q: want file or sql", c.Storage.CalibrationBackend))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
