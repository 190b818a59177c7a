package decision

import "fmt"

// ConductionMode selects which side of the conduction limit counts as aroused.
type ConductionMode int

const (
	// ConductionAbove enters relax mode when conduction is at or above the limit.
	ConductionAbove ConductionMode = iota
	// ConductionBelow enters relax mode when conduction is at or below the limit.
	ConductionBelow
)

func (m ConductionMode) String() string {
	if m == ConductionBelow {
		return "below"
	}
	return "above"
}

// ParseConductionMode maps "above" or "below" to a ConductionMode.
func ParseConductionMode(s string) (ConductionMode, error) {
	switch s {
	case "", "above":
		return ConductionAbove, nil
	case "below":
		return ConductionBelow, nil
	}
	return ConductionAbove, fmt.Errorf("unknown conduction mode %q", s)
}

// Thresholds are the resolved limits the state machine compares against.
type Thresholds struct {
	ThetaHigh       float64
	ThetaLow        float64
	ConductionLimit float64
	Mode            ConductionMode
}

// StaticThresholds derives thresholds from the fixed experiment constants:
// theta must reach brainLimitHigh to enter relax mode and drop under normalStd
// to leave it.
func StaticThresholds(brainLimitHigh, normalStd, conductionLimit float64, mode ConductionMode) Thresholds {
	return Thresholds{
		ThetaHigh:       brainLimitHigh,
		ThetaLow:        normalStd,
		ConductionLimit: conductionLimit,
		Mode:            mode,
	}
}

// BaselineThresholds derives theta limits from a calibration run: relax mode
// starts two standard deviations above the calibrated mean and ends once theta
// is back under the mean.
func BaselineThresholds(average, std, conductionLimit float64, mode ConductionMode) Thresholds {
	return Thresholds{
		ThetaHigh:       average + 2*std,
		ThetaLow:        average,
		ConductionLimit: conductionLimit,
		Mode:            mode,
	}
}

func (t Thresholds) aroused(conduction float64) bool {
	if t.Mode == ConductionBelow {
		return conduction <= t.ConductionLimit
	}
	return conduction >= t.ConductionLimit
}

func (t Thresholds) calmed(conduction float64) bool {
	if t.Mode == ConductionBelow {
		return conduction > t.ConductionLimit
	}
	return conduction < t.ConductionLimit
}

// ShouldEnter reports whether a NORMAL subject should be cued to relax.
func (t Thresholds) ShouldEnter(theta, conduction float64) bool {
	return theta >= t.ThetaHigh && t.aroused(conduction)
}

// ShouldExit reports whether a RELAXING subject is back to normal.
func (t Thresholds) ShouldExit(theta, conduction float64) bool {
	return theta < t.ThetaLow || t.calmed(conduction)
}
