// Package fillmodel estimates how likely passive maker orders are to
// fill, and adapts per-coin calibration from fill feedback.
package fillmodel

import (
	"math"
	"sync"
	"time"

	"github.com/Fershtater/fomo-calc-app/internal/logger"
	"github.com/Fershtater/fomo-calc-app/internal/models"
)

const (
	// maxSnapshots bounds the per-coin history ring.
	maxSnapshots = 20
	// volatilityWindow is how many recent snapshots feed the proxy.
	volatilityWindow = 5
)

// Snapshot is one observed top-of-book sample.
type Snapshot struct {
	Mid       float64   `json:"mid"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	SpreadBps float64   `json:"spread_bps"`
	DepthTop  float64   `json:"depth_top"`
	Ts        time.Time `json:"ts"`
}

// History tracks recent snapshots and cumulative fill feedback per coin.
type History struct {
	Coin          string
	Snapshots     []Snapshot
	FeedbackCount int
	FilledCount   int
	MissedCount   int
}

// Calibration holds the additive coefficients of the fill model.
type Calibration struct {
	BaseProb         float64
	SpreadFactor     float64
	DepthFactor      float64
	VolatilityFactor float64
	OffsetFactor     float64
}

// DefaultCalibration returns the untrained coefficients.
func DefaultCalibration() Calibration {
	return Calibration{
		BaseProb:         0.8,
		SpreadFactor:     -0.5,
		DepthFactor:      0.3,
		VolatilityFactor: -0.2,
		OffsetFactor:     0.4,
	}
}

// MicroVolatility derives a 0-1 volatility proxy from the relative mid
// moves across the most recent snapshots. Snapshots with non-positive
// mids are ignored; fewer than two usable mids yield 0.
func MicroVolatility(snapshots []Snapshot) float64 {
	if len(snapshots) < 2 {
		return 0
	}
	recent := snapshots
	if len(recent) > volatilityWindow {
		recent = recent[len(recent)-volatilityWindow:]
	}
	var mids []float64
	for _, s := range recent {
		if s.Mid > 0 {
			mids = append(mids, s.Mid)
		}
	}
	if len(mids) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(mids); i++ {
		sum += math.Abs(mids[i]-mids[i-1]) / mids[i-1]
	}
	avg := sum / float64(len(mids)-1)
	// 1% average move saturates the proxy.
	return math.Min(avg/0.01, 1.0)
}

// EstimateFillProbability scores a passive maker order in [0, 1].
func EstimateFillProbability(spreadBps, depthTop, notional, offsetBps float64, snapshots []Snapshot, cal Calibration, bias models.Bias) float64 {
	prob := cal.BaseProb

	// Spread: 0 bps takes no penalty, 10+ bps the full spread factor.
	spreadNorm := math.Max(0, 1.0-spreadBps/10.0)
	prob += cal.SpreadFactor * (1.0 - spreadNorm)

	// Depth: 1k scores 0, 10k scores 1.
	depthNorm := math.Min(1.0, math.Max(0.0, (depthTop-1000.0)/9000.0))
	prob += cal.DepthFactor * depthNorm

	// Orders large relative to the book fill less often.
	if depthTop > 0 {
		prob -= 0.2 * math.Min(1.0, notional/depthTop)
	}

	if len(snapshots) > 0 {
		prob += cal.VolatilityFactor * MicroVolatility(snapshots)
	}

	// Offset: 0 bps scores 0, 50+ bps scores 1.
	prob += cal.OffsetFactor * math.Min(1.0, offsetBps/50.0)

	switch bias {
	case models.BiasLong:
		prob += 0.02
	case models.BiasShort:
		prob -= 0.02
	}

	return math.Max(0.0, math.Min(1.0, prob))
}

// UpdateCalibrationFromFeedback folds one fill outcome into the history
// counters and returns a fresh calibration whose base probability blends
// the default with the observed fill rate.
func UpdateCalibrationFromFeedback(h *History, filled bool) Calibration {
	h.FeedbackCount++
	if filled {
		h.FilledCount++
	} else {
		h.MissedCount++
	}

	cal := DefaultCalibration()
	total := h.FilledCount + h.MissedCount
	if total > 0 {
		observed := float64(h.FilledCount) / float64(total)
		cal.BaseProb = 0.7*cal.BaseProb + 0.3*observed
	}
	return cal
}

// Service owns per-coin histories and calibrations. Snapshots arrive
// from the scheduler goroutine while feedback and estimates may come
// from the control plane, so access is serialized.
type Service struct {
	mu           sync.Mutex
	histories    map[string]*History
	calibrations map[string]Calibration
}

// NewService returns an empty fill model.
func NewService() *Service {
	return &Service{
		histories:    map[string]*History{},
		calibrations: map[string]Calibration{},
	}
}

func (s *Service) getHistory(coin string) *History {
	h, ok := s.histories[coin]
	if !ok {
		h = &History{Coin: coin}
		s.histories[coin] = h
	}
	return h
}

// AddSnapshot records a top-of-book sample, evicting the oldest beyond
// the ring bound.
func (s *Service) AddSnapshot(coin string, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.getHistory(coin)
	h.Snapshots = append(h.Snapshots, snap)
	if len(h.Snapshots) > maxSnapshots {
		h.Snapshots = h.Snapshots[len(h.Snapshots)-maxSnapshots:]
	}
}

// Estimate returns the fill probability for a maker order on coin using
// its recorded history and calibration.
func (s *Service) Estimate(coin string, spreadBps, depthTop, notional, offsetBps float64, bias models.Bias) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.getHistory(coin)
	cal, ok := s.calibrations[coin]
	if !ok {
		cal = DefaultCalibration()
	}
	return EstimateFillProbability(spreadBps, depthTop, notional, offsetBps, h.Snapshots, cal, bias)
}

// RecordFeedback folds a reported fill outcome into the coin's
// calibration.
func (s *Service) RecordFeedback(coin string, filled bool) {
	s.mu.Lock()
	cal := UpdateCalibrationFromFeedback(s.getHistory(coin), filled)
	s.calibrations[coin] = cal
	s.mu.Unlock()

	logger.Info("Fill feedback recorded for %s: filled=%v, new base_prob=%.2f", coin, filled, cal.BaseProb)
}

// Calibration returns the active calibration for a coin.
func (s *Service) Calibration(coin string) Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cal, ok := s.calibrations[coin]; ok {
		return cal
	}
	return DefaultCalibration()
}
