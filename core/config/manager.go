package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	bferrors "github.com/adalundhe/biofeedback/core/errors"
	"github.com/adalundhe/biofeedback/core/storage"
)

const reloadDebounce = 200 * time.Millisecond

type Manager struct {
	configPtr    unsafe.Pointer
	dirs         *storage.Dirs
	explicitPath string
	overrides    []func(*Config)
	logger       *slog.Logger
	watchers     []func(*Config)
	watcherMu    sync.RWMutex
	stopWatch    chan struct{}
	watchOnce    sync.Once
}

type Config struct {
	Session    SessionConfig    `yaml:"session"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Ingress    IngressConfig    `yaml:"ingress"`
	Serial     SerialConfig     `yaml:"serial"`
	Board      BoardConfig      `yaml:"board"`
	Storage    StorageConfig    `yaml:"storage"`
	Influx     InfluxConfig     `yaml:"influx"`
	Chart      ChartConfig      `yaml:"chart"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

type SessionConfig struct {
	Duration     time.Duration `yaml:"duration"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Recording    bool          `yaml:"recording"`
	Pairing      string        `yaml:"pairing"`
	MaxSkew      time.Duration `yaml:"max_skew"`
	WindowSize   int           `yaml:"window_size"`
	Persist      bool          `yaml:"persist"`
}

type ThresholdsConfig struct {
	Source          string        `yaml:"source"`
	BrainLimitHigh  float64       `yaml:"brain_limit_high"`
	NormalStd       float64       `yaml:"normal_std"`
	ConductionLimit float64       `yaml:"conduction_limit"`
	ConductionMode  string        `yaml:"conduction_mode"`
	MinDwell        time.Duration `yaml:"min_dwell"`
}

type IngressConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ThetaIndex  int    `yaml:"theta_index"`
	MaxDatagram int    `yaml:"max_datagram"`
}

type SerialConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Port           string               `yaml:"port"`
	Match          string               `yaml:"match"`
	BaudRate       int                  `yaml:"baud_rate"`
	CommandProfile string               `yaml:"command_profile"`
	StartByte      *byte                `yaml:"start_byte"`
	StopByte       *byte                `yaml:"stop_byte"`
	PollInterval   time.Duration        `yaml:"poll_interval"`
	ReadTimeout    time.Duration        `yaml:"read_timeout"`
	Retry          bferrors.RetryPolicy `yaml:"retry"`
}

type BoardConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Library      string `yaml:"library"`
	BoardID      int    `yaml:"board_id"`
	SerialPort   string `yaml:"serial_port"`
	BufferLength int    `yaml:"buffer_length"`
	Channels     []int  `yaml:"channels"`
}

type StorageConfig struct {
	ResultsFile        string `yaml:"results_file"`
	Database           string `yaml:"database"`
	Driver             string `yaml:"driver"`
	TableSink          bool   `yaml:"table_sink"`
	CalibrationBackend string `yaml:"calibration_backend"`
	CalibrationFile    string `yaml:"calibration_file"`
}

type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

type ChartConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Points  int    `yaml:"points"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   bool   `yaml:"file"`
}

func NewManager(dirs *storage.Dirs) *Manager {
	m := &Manager{
		dirs:      dirs,
		logger:    slog.Default(),
		stopWatch: make(chan struct{}),
	}
	cfg := DefaultConfig()
	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Duration:     60 * time.Second,
			PollInterval: 2 * time.Second,
			Pairing:      "index",
			MaxSkew:      time.Second,
			WindowSize:   100,
			Persist:      true,
		},
		Thresholds: ThresholdsConfig{
			Source:          "static",
			BrainLimitHigh:  0.5,
			NormalStd:       0.5,
			ConductionLimit: 20,
			ConductionMode:  "above",
		},
		Ingress: IngressConfig{
			Host:        "localhost",
			Port:        12345,
			ThetaIndex:  4,
			MaxDatagram: 65535,
		},
		Serial: SerialConfig{
			Enabled:        true,
			Match:          "*Arduino*",
			BaudRate:       9600,
			CommandProfile: "ascii",
			PollInterval:   100 * time.Millisecond,
			ReadTimeout:    10 * time.Millisecond,
			Retry:          *bferrors.DefaultTransientPolicy(),
		},
		Board: BoardConfig{
			Enabled:      false,
			BoardID:      0,
			SerialPort:   "/dev/cu.usbserial-DM03H3QF",
			BufferLength: 256,
			Channels:     []int{7, 8},
		},
		Storage: StorageConfig{
			ResultsFile:        "results.json",
			Database:           "biofeedback.db",
			Driver:             "sqlite3",
			TableSink:          false,
			CalibrationBackend: "file",
			CalibrationFile:    "initial_values.json",
		},
		Influx: InfluxConfig{
			Measurement: "biofeedback_sample",
		},
		Chart: ChartConfig{
			Enabled: false,
			Path:    "gsr.png",
			Width:   800,
			Height:  300,
			Points:  500,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

func (m *Manager) Get() *Config {
	return (*Config)(atomic.LoadPointer(&m.configPtr))
}

// SetLogger replaces the logger used for reload diagnostics.
func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetExplicitPath registers a config file given on the command line. It is
// applied after the user and project layers.
func (m *Manager) SetExplicitPath(path string) {
	m.explicitPath = path
}

// AddOverride registers a final layer, such as command line flags, that is
// reapplied on every load. Call Reload to apply it immediately.
func (m *Manager) AddOverride(fn func(*Config)) {
	m.overrides = append(m.overrides, fn)
}

func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadUserConfig(cfg); err != nil {
		return fmt.Errorf("user config: %w", err)
	}

	if err := m.loadProjectConfig(cfg); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if m.explicitPath != "" {
		if err := m.loadYAMLFile(m.explicitPath, cfg, true); err != nil {
			return fmt.Errorf("config %s: %w", m.explicitPath, err)
		}
	}

	m.applyEnvironment(cfg)
	for _, fn := range m.overrides {
		fn(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	m.notifyWatchers(cfg)

	return nil
}

func (m *Manager) loadUserConfig(cfg *Config) error {
	return m.loadYAMLFile(m.dirs.ConfigDir("config.yaml"), cfg, false)
}

func (m *Manager) loadProjectConfig(cfg *Config) error {
	return m.loadYAMLFile(storage.ResolveProjectDirs(".").Config, cfg, false)
}

func (m *Manager) loadYAMLFile(path string, cfg *Config, required bool) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !required {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func (m *Manager) applyEnvironment(cfg *Config) {
	if v := os.Getenv("BIOFEEDBACK_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.Duration = d
		}
	}
	if v := os.Getenv("BIOFEEDBACK_RECORDING"); v != "" {
		cfg.Session.Recording = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("BIOFEEDBACK_BRAIN_LIMIT_HIGH"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Thresholds.BrainLimitHigh = f
		}
	}
	if v := os.Getenv("BIOFEEDBACK_NORMAL_STD"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Thresholds.NormalStd = f
		}
	}
	if v := os.Getenv("BIOFEEDBACK_CONDUCTION_LIMIT"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Thresholds.ConductionLimit = f
		}
	}
	if v := os.Getenv("BIOFEEDBACK_INGRESS_PORT"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Ingress.Port = n
		}
	}
	if v := os.Getenv("BIOFEEDBACK_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}
	if v := os.Getenv("BIOFEEDBACK_BOARD_LIBRARY"); v != "" {
		cfg.Board.Library = v
	}
	if v := os.Getenv("BIOFEEDBACK_INFLUX_TOKEN"); v != "" {
		cfg.Influx.Token = v
	}
	if v := os.Getenv("BIOFEEDBACK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}

// Watch reloads the configuration whenever one of the layered config files
// changes, until ctx is done or Close is called. Directories are watched so
// that editors replacing files atomically are still observed.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	files := m.watchedFiles()
	dirs := make(map[string]bool)
	for _, f := range files {
		dir := filepath.Dir(f)
		if dirs[dir] {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	go m.watchLoop(ctx, watcher, files)
	return nil
}

func (m *Manager) watchedFiles() []string {
	files := []string{
		m.dirs.ConfigDir("config.yaml"),
		storage.ResolveProjectDirs(".").Config,
	}
	if m.explicitPath != "" {
		files = append(files, m.explicitPath)
	}

	abs := make([]string, 0, len(files))
	for _, f := range files {
		if p, err := filepath.Abs(f); err == nil {
			abs = append(abs, p)
		}
	}
	return abs
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, files []string) {
	defer watcher.Close()

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopWatch:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isRelevant(ev, files) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := m.Reload(); err != nil {
				m.logger.Warn("config reload failed", slog.String("error", err.Error()))
				continue
			}
			m.logger.Info("config reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func isRelevant(ev fsnotify.Event, files []string) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	for _, f := range files {
		if f == name {
			return true
		}
	}
	return false
}

func (m *Manager) Close() error {
	m.watchOnce.Do(func() {
		close(m.stopWatch)
	})
	return nil
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}
