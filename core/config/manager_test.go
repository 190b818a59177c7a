package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/biofeedback/core/storage"
)

func testDirs(t *testing.T) *storage.Dirs {
	t.Helper()
	return &storage.Dirs{
		Config: t.TempDir(),
		Data:   t.TempDir(),
		State:  t.TempDir(),
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 60*time.Second, cfg.Session.Duration)
	assert.Equal(t, 2*time.Second, cfg.Session.PollInterval)
	assert.Equal(t, 100, cfg.Session.WindowSize)
	assert.Equal(t, 0.5, cfg.Thresholds.BrainLimitHigh)
	assert.Equal(t, 0.5, cfg.Thresholds.NormalStd)
	assert.Equal(t, 20.0, cfg.Thresholds.ConductionLimit)
	assert.Equal(t, "localhost", cfg.Ingress.Host)
	assert.Equal(t, 12345, cfg.Ingress.Port)
	assert.Equal(t, 4, cfg.Ingress.ThetaIndex)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, "results.json", cfg.Storage.ResultsFile)
	assert.Equal(t, "initial_values.json", cfg.Storage.CalibrationFile)
	require.NoError(t, cfg.Validate())
}

func TestManagerGet(t *testing.T) {
	m := NewManager(testDirs(t))

	cfg := m.Get()
	require.NotNil(t, cfg)
	assert.Equal(t, "static", cfg.Thresholds.Source)
}

func TestManagerLoadFromUserFile(t *testing.T) {
	dirs := testDirs(t)

	configContent := `
session:
  duration: 30s
  recording: true
thresholds:
  brain_limit_high: 0.8
  conduction_mode: below
serial:
  command_profile: raw
  start_byte: 10
  stop_byte: 20
`
	require.NoError(t, os.WriteFile(filepath.Join(dirs.Config, "config.yaml"), []byte(configContent), 0644))

	m := NewManager(dirs)
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, 30*time.Second, cfg.Session.Duration)
	assert.True(t, cfg.Session.Recording)
	assert.Equal(t, 0.8, cfg.Thresholds.BrainLimitHigh)
	assert.Equal(t, "below", cfg.Thresholds.ConductionMode)
	assert.Equal(t, "raw", cfg.Serial.CommandProfile)
	require.NotNil(t, cfg.Serial.StartByte)
	assert.Equal(t, byte(10), *cfg.Serial.StartByte)
	require.NotNil(t, cfg.Serial.StopByte)
	assert.Equal(t, byte(20), *cfg.Serial.StopByte)
	assert.Equal(t, 2*time.Second, cfg.Session.PollInterval, "unset fields keep defaults")
}

func TestManagerExplicitPathOverridesUser(t *testing.T) {
	dirs := testDirs(t)
	require.NoError(t, os.WriteFile(filepath.Join(dirs.Config, "config.yaml"),
		[]byte("ingress:\n  port: 2000\n"), 0644))

	explicit := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("ingress:\n  port: 3000\n"), 0644))

	m := NewManager(dirs)
	m.SetExplicitPath(explicit)
	require.NoError(t, m.Load())

	assert.Equal(t, 3000, m.Get().Ingress.Port)
}

func TestManagerExplicitPathMissing(t *testing.T) {
	m := NewManager(testDirs(t))
	m.SetExplicitPath(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Error(t, m.Load())
}

func TestManagerEnvironmentOverride(t *testing.T) {
	t.Setenv("BIOFEEDBACK_DURATION", "5s")
	t.Setenv("BIOFEEDBACK_RECORDING", "true")
	t.Setenv("BIOFEEDBACK_CONDUCTION_LIMIT", "42.5")
	t.Setenv("BIOFEEDBACK_INGRESS_PORT", "5555")

	m := NewManager(testDirs(t))
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, 5*time.Second, cfg.Session.Duration)
	assert.True(t, cfg.Session.Recording)
	assert.Equal(t, 42.5, cfg.Thresholds.ConductionLimit)
	assert.Equal(t, 5555, cfg.Ingress.Port)
}

func TestManagerOverrideWinsOverEnvironment(t *testing.T) {
	t.Setenv("BIOFEEDBACK_DURATION", "5s")

	m := NewManager(testDirs(t))
	m.AddOverride(func(c *Config) { c.Session.Duration = 90 * time.Second })
	require.NoError(t, m.Load())
	assert.Equal(t, 90*time.Second, m.Get().Session.Duration)

	// overrides survive reloads
	require.NoError(t, m.Reload())
	assert.Equal(t, 90*time.Second, m.Get().Session.Duration)
}

func TestManagerRejectsInvalidConfig(t *testing.T) {
	dirs := testDirs(t)
	require.NoError(t, os.WriteFile(filepath.Join(dirs.Config, "config.yaml"),
		[]byte("session:\n  pairing: random\n"), 0644))

	m := NewManager(dirs)
	err := m.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, "index", m.Get().Session.Pairing, "previous config stays active")
}

func TestManagerOnChange(t *testing.T) {
	m := NewManager(testDirs(t))

	var called atomic.Int32
	m.OnChange(func(cfg *Config) {
		called.Add(1)
	})

	require.NoError(t, m.Load())
	assert.Equal(t, int32(1), called.Load())
}

func TestManagerWatchReloadsOnWrite(t *testing.T) {
	dirs := testDirs(t)
	path := filepath.Join(dirs.Config, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  conduction_limit: 20\n"), 0644))

	m := NewManager(dirs)
	require.NoError(t, m.Load())

	reloaded := make(chan float64, 4)
	m.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg.Thresholds.ConductionLimit:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))
	defer m.Close()

	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  conduction_limit: 35\n"), 0644))

	select {
	case limit := <-reloaded:
		assert.Equal(t, 35.0, limit)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded after write")
	}
}

func TestManagerClose(t *testing.T) {
	m := NewManager(testDirs(t))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
