package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultThresholds() Thresholds {
	return StaticThresholds(0.5, 0.5, 20, ConductionAbove)
}

func TestMachine_EntersRelaxingOnceWhenBothHigh(t *testing.T) {
	m := NewMachine(defaultThresholds(), 0)
	now := time.Now()

	starts := 0
	pairs := []struct{ theta, cond float64 }{
		{0.9, 25}, {1.2, 30}, {0.7, 21}, {5, 100},
	}
	for i, p := range pairs {
		out := m.Evaluate(p.theta, p.cond, now.Add(time.Duration(i)*time.Second))
		if out.Command == CommandStart {
			starts++
		}
		assert.NotEqual(t, CommandStop, out.Command)
	}

	assert.Equal(t, 1, starts)
	assert.Equal(t, Relaxing, m.State())
}

func TestMachine_ExitsOnceWhenThetaBelowLow(t *testing.T) {
	m := NewMachine(defaultThresholds(), 0)
	now := time.Now()

	out := m.Evaluate(0.9, 25, now)
	require.Equal(t, CommandStart, out.Command)

	stops := 0
	for i, theta := range []float64{0.1, 0.2, 0.0, 0.49} {
		out := m.Evaluate(theta, 25, now.Add(time.Duration(i+1)*time.Second))
		if out.Command == CommandStop {
			stops++
		}
		assert.NotEqual(t, CommandStart, out.Command)
	}

	assert.Equal(t, 1, stops)
	assert.Equal(t, Normal, m.State())
}

func TestMachine_ExitsWhenConductionDrops(t *testing.T) {
	m := NewMachine(defaultThresholds(), 0)
	now := time.Now()

	m.Evaluate(0.9, 25, now)
	out := m.Evaluate(0.9, 19, now.Add(time.Second))

	assert.True(t, out.Changed())
	assert.Equal(t, CommandStop, out.Command)
	assert.Equal(t, Relaxing, out.From)
	assert.Equal(t, Normal, out.To)
}

func TestMachine_NoTransitionWhenOnlyOneSignalHigh(t *testing.T) {
	m := NewMachine(defaultThresholds(), 0)
	now := time.Now()

	assert.Equal(t, CommandNone, m.Evaluate(0.9, 10, now).Command)
	assert.Equal(t, CommandNone, m.Evaluate(0.1, 50, now).Command)
	assert.Equal(t, Normal, m.State())
}

func TestMachine_StaysRelaxingInsideBand(t *testing.T) {
	m := NewMachine(StaticThresholds(0.8, 0.3, 20, ConductionAbove), 0)
	now := time.Now()

	m.Evaluate(0.9, 25, now)
	out := m.Evaluate(0.5, 25, now.Add(time.Second))

	assert.False(t, out.Changed())
	assert.Equal(t, Relaxing, m.State())
}

func TestMachine_ConductionBelowMode(t *testing.T) {
	m := NewMachine(StaticThresholds(0.5, 0.5, 20, ConductionBelow), 0)
	now := time.Now()

	assert.Equal(t, CommandNone, m.Evaluate(0.9, 25, now).Command)
	assert.Equal(t, CommandStart, m.Evaluate(0.9, 15, now).Command)
	assert.Equal(t, CommandStop, m.Evaluate(0.9, 21, now).Command)
}

func TestMachine_MinDwellHoldsTransition(t *testing.T) {
	m := NewMachine(defaultThresholds(), 5*time.Second)
	now := time.Now()

	require.Equal(t, CommandStart, m.Evaluate(0.9, 25, now).Command)

	out := m.Evaluate(0.1, 25, now.Add(2*time.Second))
	assert.True(t, out.Held)
	assert.Equal(t, CommandNone, out.Command)
	assert.Equal(t, Relaxing, m.State())

	out = m.Evaluate(0.1, 25, now.Add(6*time.Second))
	assert.False(t, out.Held)
	assert.Equal(t, CommandStop, out.Command)
}

func TestMachine_SetThresholds(t *testing.T) {
	m := NewMachine(defaultThresholds(), 0)
	m.SetThresholds(StaticThresholds(2.0, 1.0, 20, ConductionAbove))

	assert.Equal(t, CommandNone, m.Evaluate(0.9, 25, time.Now()).Command)
	assert.Equal(t, 2.0, m.Thresholds().ThetaHigh)
}

func TestMachine_Reset(t *testing.T) {
	m := NewMachine(defaultThresholds(), 0)
	now := time.Now()

	assert.Equal(t, CommandNone, m.Reset(now))

	m.Evaluate(0.9, 25, now)
	assert.Equal(t, CommandStop, m.Reset(now))
	assert.Equal(t, Normal, m.State())
}

func TestBaselineThresholds(t *testing.T) {
	th := BaselineThresholds(5.0, 1.2, 20, ConductionAbove)

	assert.InDelta(t, 7.4, th.ThetaHigh, 1e-9)
	assert.Equal(t, 5.0, th.ThetaLow)
}

func TestParseConductionMode(t *testing.T) {
	mode, err := ParseConductionMode("below")
	require.NoError(t, err)
	assert.Equal(t, ConductionBelow, mode)

	_, err = ParseConductionMode("sideways")
	assert.Error(t, err)
}
