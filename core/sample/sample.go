// Package sample defines the timestamped measurements exchanged between the
// acquisition workers and the decision loop.
package sample

import "time"

// Theta is one EEG theta band-power value as received from the ingress socket.
type Theta struct {
	Value float64
	At    time.Time
}

// GSR is one galvanic skin response reading drained from the microcontroller.
type GSR struct {
	Value int
	At    time.Time
}

// Pair is a theta value correlated with a GSR reading.
type Pair struct {
	Theta Theta
	GSR   GSR
}

// Conduction returns the GSR reading as a float for threshold comparison.
func (p Pair) Conduction() float64 {
	return float64(p.GSR.Value)
}

// Skew returns the absolute time distance between the two readings.
func (p Pair) Skew() time.Duration {
	d := p.Theta.At.Sub(p.GSR.At)
	if d < 0 {
		return -d
	}
	return d
}
