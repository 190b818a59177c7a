package decision

import (
	"fmt"
	"time"

	"github.com/adalundhe/biofeedback/core/buffer"
	"github.com/adalundhe/biofeedback/core/sample"
)

// Pairing selects how theta values are matched with GSR readings.
type Pairing int

const (
	// PairByIndex matches the oldest pending theta with the oldest pending GSR.
	PairByIndex Pairing = iota
	// PairByTimestamp matches each theta with the nearest GSR within MaxSkew.
	PairByTimestamp
)

// ParsePairing maps "index" or "timestamp" to a Pairing.
func ParsePairing(s string) (Pairing, error) {
	switch s {
	case "", "index":
		return PairByIndex, nil
	case "timestamp":
		return PairByTimestamp, nil
	}
	return PairByIndex, fmt.Errorf("unknown pairing %q", s)
}

// DefaultMaxPendingGSR bounds the GSR queue when no theta arrives to drain it.
const DefaultMaxPendingGSR = 4096

// CorrelatorConfig configures a Correlator.
type CorrelatorConfig struct {
	Pairing       Pairing
	MaxSkew       time.Duration
	WindowSize    int
	MaxPendingGSR int
}

// DrainResult is what one drain produced.
type DrainResult struct {
	Pairs []sample.Pair
	// Dropped counts theta values that can no longer be matched.
	Dropped int
}

// Correlator buffers theta values and GSR readings until they can be paired.
// Theta values without a partner stay pending; the pending theta buffer holds
// at most WindowSize values and evicts the oldest.
type Correlator struct {
	cfg     CorrelatorConfig
	theta   *buffer.Ring[sample.Theta]
	gsr     *buffer.Ring[sample.GSR]
	evicted int
}

// NewCorrelator creates a Correlator.
func NewCorrelator(cfg CorrelatorConfig) *Correlator {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	if cfg.MaxPendingGSR <= 0 {
		cfg.MaxPendingGSR = DefaultMaxPendingGSR
	}
	return &Correlator{
		cfg:   cfg,
		theta: buffer.NewRing[sample.Theta](cfg.WindowSize),
		gsr:   buffer.NewRing[sample.GSR](cfg.MaxPendingGSR),
	}
}

// AddTheta queues a theta value.
func (c *Correlator) AddTheta(s sample.Theta) {
	if c.theta.Push(s) {
		c.evicted++
	}
}

// AddGSR queues a GSR reading.
func (c *Correlator) AddGSR(s sample.GSR) {
	c.gsr.Push(s)
}

// PendingTheta returns the number of unmatched theta values.
func (c *Correlator) PendingTheta() int {
	return c.theta.Len()
}

// PendingGSR returns the number of unmatched GSR readings.
func (c *Correlator) PendingGSR() int {
	return c.gsr.Len()
}

// Drain returns every pair that can be formed now, oldest theta first.
func (c *Correlator) Drain() DrainResult {
	res := DrainResult{Dropped: c.evicted}
	c.evicted = 0

	if c.cfg.Pairing == PairByTimestamp {
		c.drainByTimestamp(&res)
	} else {
		c.drainByIndex(&res)
	}
	return res
}

func (c *Correlator) drainByIndex(res *DrainResult) {
	for c.theta.Len() > 0 && c.gsr.Len() > 0 {
		theta, _ := c.theta.PopFront()
		gsr, _ := c.gsr.PopFront()
		res.Pairs = append(res.Pairs, sample.Pair{Theta: theta, GSR: gsr})
	}
}

func (c *Correlator) drainByTimestamp(res *DrainResult) {
	for {
		theta, ok := c.theta.Front()
		if !ok {
			return
		}

		c.pruneStaleGSR(theta.At)

		gsrs := c.gsr.Snapshot()
		best := -1
		var bestSkew time.Duration
		for i, g := range gsrs {
			skew := absDuration(theta.At.Sub(g.At))
			if skew > c.cfg.MaxSkew {
				continue
			}
			if best < 0 || skew < bestSkew {
				best, bestSkew = i, skew
			}
		}

		if best >= 0 {
			_, _ = c.theta.PopFront()
			// Readings older than the match are further from every later theta.
			for i := 0; i < best; i++ {
				_, _ = c.gsr.PopFront()
			}
			g, _ := c.gsr.PopFront()
			res.Pairs = append(res.Pairs, sample.Pair{Theta: theta, GSR: g})
			continue
		}

		if len(gsrs) > 0 && gsrs[len(gsrs)-1].At.Sub(theta.At) > c.cfg.MaxSkew {
			_, _ = c.theta.PopFront()
			res.Dropped++
			continue
		}
		return
	}
}

// pruneStaleGSR drops readings too old to match the theta at or any later one.
func (c *Correlator) pruneStaleGSR(at time.Time) {
	for {
		g, ok := c.gsr.Front()
		if !ok || at.Sub(g.At) <= c.cfg.MaxSkew {
			return
		}
		_, _ = c.gsr.PopFront()
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
