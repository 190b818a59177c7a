package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/biofeedback/core/calibration"
	"github.com/adalundhe/biofeedback/core/decision"
	"github.com/adalundhe/biofeedback/core/ingress"
	"github.com/adalundhe/biofeedback/core/recorder"
	"github.com/adalundhe/biofeedback/core/sample"
)

type fakeMotor struct {
	mu       sync.Mutex
	commands []string
}

func (m *fakeMotor) Start(context.Context) error { return m.record("start") }
func (m *fakeMotor) Stop(context.Context) error  { return m.record("stop") }

func (m *fakeMotor) record(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd)
	return nil
}

func (m *fakeMotor) count(cmd string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

// thetaFeed emits fixed values once, then idles until cancelled.
type thetaFeed []float64

func (f thetaFeed) Run(ctx context.Context, out chan<- sample.Theta) error {
	for _, v := range f {
		select {
		case out <- sample.Theta{Value: v, At: time.Now()}:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

type gsrFeed []int

func (f gsrFeed) Run(ctx context.Context, out chan<- sample.GSR) error {
	for _, v := range f {
		select {
		case out <- sample.GSR{Value: v, At: time.Now()}:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

type failingSource struct{}

func (failingSource) Run(context.Context, chan<- sample.Theta) error {
	return errors.New("socket gone")
}

type memoryRecords struct {
	mu      sync.Mutex
	records []recorder.Record
}

func (r *memoryRecords) Submit(_ context.Context, rec recorder.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

type memoryBaseline struct {
	saved *calibration.Baseline
}

func (m *memoryBaseline) Save(_ context.Context, b calibration.Baseline) error {
	m.saved = &b
	return nil
}

func (m *memoryBaseline) Load(context.Context) (calibration.Baseline, error) {
	if m.saved == nil {
		return calibration.Baseline{}, calibration.ErrNoBaseline
	}
	return *m.saved, nil
}

func defaultThresholds() decision.Thresholds {
	return decision.StaticThresholds(0.5, 0.5, 20, decision.ConductionAbove)
}

func shortConfig() Config {
	return Config{
		RunID:        "test-run",
		Duration:     400 * time.Millisecond,
		PollInterval: 40 * time.Millisecond,
		Persist:      true,
	}
}

func TestSession_EndToEndOverUDP(t *testing.T) {
	listener, err := ingress.Listen(ingress.Config{Addr: "127.0.0.1:0", ThetaIndex: 4}, nil, nil)
	require.NoError(t, err)

	conn, err := net.Dial("udp", listener.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"data":[[0,0,0,0,0.9]]}`))
	require.NoError(t, err)
	conn.Close()

	motor := &fakeMotor{}
	records := &memoryRecords{}
	s, err := New(shortConfig(), defaultThresholds(), Deps{
		Theta:   listener,
		GSR:     gsrFeed{25},
		Motor:   motor,
		Records: records,
	})
	require.NoError(t, err)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, motor.count("start"))
	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, decision.Relaxing, summary.FinalState)
	// the motor is not left running
	assert.Equal(t, 1, motor.count("stop"))

	require.Len(t, records.records, 1)
	rec := records.records[0]
	assert.Equal(t, "test-run", rec.RunID)
	assert.InDelta(t, 0.9, rec.Theta, 1e-9)
	assert.Equal(t, 25.0, rec.Conduction)
	assert.True(t, rec.Relaxing)
}

func TestSession_ShortGSRBufferIsSkipped(t *testing.T) {
	motor := &fakeMotor{}
	records := &memoryRecords{}
	s, err := New(shortConfig(), defaultThresholds(), Deps{
		Theta:   thetaFeed{0.1, 0.2, 0.3},
		GSR:     gsrFeed{5},
		Motor:   motor,
		Records: records,
	})
	require.NoError(t, err)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, 2, summary.Pending)
	assert.Empty(t, motor.commands)
	assert.Len(t, records.records, 1)
	assert.False(t, records.records[0].Relaxing)
}

func TestSession_EntersAndLeavesRelaxing(t *testing.T) {
	motor := &fakeMotor{}
	s, err := New(shortConfig(), defaultThresholds(), Deps{
		Theta: thetaFeed{0.9, 0.9, 0.2},
		GSR:   gsrFeed{25, 25, 25},
		Motor: motor,
	})
	require.NoError(t, err)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "stop"}, motor.commands)
	assert.Equal(t, decision.Normal, summary.FinalState)
	assert.Equal(t, 1, summary.Starts)
	assert.Equal(t, 1, summary.Stops)
}

func TestSession_RecordingStoresBaseline(t *testing.T) {
	cfg := shortConfig()
	cfg.Recording = true

	motor := &fakeMotor{}
	records := &memoryRecords{}
	store := &memoryBaseline{}
	s, err := New(cfg, defaultThresholds(), Deps{
		Theta:    thetaFeed{0.2, 0.4, 0.6},
		GSR:      gsrFeed{30, 30, 30},
		Motor:    motor,
		Records:  records,
		Baseline: store,
	})
	require.NoError(t, err)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, motor.commands)
	assert.Len(t, records.records, 3)
	for _, r := range records.records {
		assert.False(t, r.Relaxing)
	}

	require.NotNil(t, store.saved)
	assert.InDelta(t, 0.4, store.saved.Average, 1e-9)
	assert.InDelta(t, 0.163299, store.saved.Std, 1e-6)
	assert.Equal(t, store.saved, summary.Baseline)
}

func TestSession_EvaluatesSamplesAfterLastTick(t *testing.T) {
	cfg := shortConfig()
	cfg.Duration = 200 * time.Millisecond
	// no tick fires before the deadline
	cfg.PollInterval = time.Minute

	motor := &fakeMotor{}
	records := &memoryRecords{}
	s, err := New(cfg, defaultThresholds(), Deps{
		Theta:   thetaFeed{0.9},
		GSR:     gsrFeed{25},
		Motor:   motor,
		Records: records,
	})
	require.NoError(t, err)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Ticks)
	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, 0, summary.Pending)
	assert.Equal(t, decision.Relaxing, summary.FinalState)
	assert.Equal(t, []string{"start", "stop"}, motor.commands)
	require.Len(t, records.records, 1)
	assert.True(t, records.records[0].Relaxing)
}

func TestSession_CancelEvaluatesBufferedSamples(t *testing.T) {
	cfg := shortConfig()
	cfg.Duration = time.Minute
	cfg.PollInterval = time.Minute

	records := &memoryRecords{}
	s, err := New(cfg, defaultThresholds(), Deps{
		Theta:   thetaFeed{0.1, 0.2},
		GSR:     gsrFeed{5, 6},
		Records: records,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	summary, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Evaluated)
	assert.Len(t, records.records, 2)
}

func TestSession_CancelStopsEarly(t *testing.T) {
	cfg := shortConfig()
	cfg.Duration = time.Minute

	s, err := New(cfg, defaultThresholds(), Deps{Theta: thetaFeed{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSession_SourceErrorEndsRun(t *testing.T) {
	cfg := shortConfig()
	cfg.Duration = time.Minute

	s, err := New(cfg, defaultThresholds(), Deps{Theta: failingSource{}})
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	assert.ErrorContains(t, err, "socket gone")
}

func TestSession_ThresholdUpdateApplies(t *testing.T) {
	motor := &fakeMotor{}
	s, err := New(shortConfig(), defaultThresholds(), Deps{
		Theta: thetaFeed{0.9},
		GSR:   gsrFeed{25},
		Motor: motor,
	})
	require.NoError(t, err)

	s.SetThresholds(decision.StaticThresholds(0.95, 0.5, 20, decision.ConductionAbove))

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Starts)
	assert.Empty(t, motor.commands)
}

func TestNew_RequiresThetaSource(t *testing.T) {
	_, err := New(shortConfig(), defaultThresholds(), Deps{})
	assert.ErrorIs(t, err, ErrMissingSource)
}
