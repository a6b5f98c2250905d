package models

import (
	"fmt"
	"time"
)

// WatchSide restricts which position sides the watcher may propose.
// Values are "long", "short" or "either".
type WatchSide string

const (
	WatchLong   WatchSide = "long"
	WatchShort  WatchSide = "short"
	WatchEither WatchSide = "either"
)

// AllowsLong reports whether long proposals may be emitted.
func (s WatchSide) AllowsLong() bool { return s == WatchLong || s == WatchEither }

// AllowsShort reports whether short proposals may be emitted.
func (s WatchSide) AllowsShort() bool { return s == WatchShort || s == WatchEither }

// ScoreWeights are the per-component weights of the total entry score.
// They should sum to 1.
type ScoreWeights struct {
	SpreadWeight    float64 `json:"spread_weight"`
	MarkDevWeight   float64 `json:"mark_dev_weight"`
	OracleDevWeight float64 `json:"oracle_dev_weight"`
	FundingWeight   float64 `json:"funding_weight"`
	LiquidityWeight float64 `json:"liquidity_weight"`
	DepthWeight     float64 `json:"depth_weight"`
}

// DefaultScoreWeights returns the standard component weighting.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		SpreadWeight:    0.25,
		MarkDevWeight:   0.20,
		OracleDevWeight: 0.20,
		FundingWeight:   0.15,
		LiquidityWeight: 0.10,
		DepthWeight:     0.10,
	}
}

// WatchThresholds define the good/bad anchors of every score component.
// A metric at or better than "good" scores 100, at or worse than "bad"
// scores 0, and interpolates linearly in between.
type WatchThresholds struct {
	SpreadBadBps  float64 `json:"spread_bad_bps"`
	MarkBadBps    float64 `json:"mark_bad_bps"`
	OracleBadBps  float64 `json:"oracle_bad_bps"`
	FundingBad    float64 `json:"funding_bad"`
	LiquidityBad  float64 `json:"liquidity_bad"`
	DepthBad      float64 `json:"depth_bad"`
	SpreadGoodBps float64 `json:"spread_good_bps"`
	MarkGoodBps   float64 `json:"mark_good_bps"`
	OracleGoodBps float64 `json:"oracle_good_bps"`
	FundingGood   float64 `json:"funding_good"`
	LiquidityGood float64 `json:"liquidity_good"`
	DepthGood     float64 `json:"depth_good"`
}

// DefaultWatchThresholds returns the standard scoring anchors.
func DefaultWatchThresholds() WatchThresholds {
	return WatchThresholds{
		SpreadBadBps:  10.0,
		MarkBadBps:    20.0,
		OracleBadBps:  30.0,
		FundingBad:    0.0001,
		LiquidityBad:  100_000,
		DepthBad:      1_000,
		SpreadGoodBps: 1.0,
		MarkGoodBps:   2.0,
		OracleGoodBps: 5.0,
		FundingGood:   0.00001,
		LiquidityGood: 10_000_000,
		DepthGood:     10_000,
	}
}

// ScoreComponents are the individual 0-100 component scores.
type ScoreComponents struct {
	SpreadScore    float64 `json:"spread_score"`
	MarkDevScore   float64 `json:"mark_dev_score"`
	OracleDevScore float64 `json:"oracle_dev_score"`
	FundingScore   float64 `json:"funding_score"`
	LiquidityScore float64 `json:"liquidity_score"`
	DepthScore     float64 `json:"depth_score"`
}

// SafeSide is a tradeable side with its suggested maker limit prices.
type SafeSide struct {
	Side         Side    `json:"side"`
	OpenLimitPx  float64 `json:"open_limit_px"`
	CloseLimitPx float64 `json:"close_limit_px"`
	BestBid      float64 `json:"best_bid"`
	BestAsk      float64 `json:"best_ask"`
}

// SafeEntryScore is the full scoring result for one instrument.
type SafeEntryScore struct {
	TotalScore      float64            `json:"total_score"`
	ComponentScores ScoreComponents    `json:"component_scores"`
	Metrics         map[string]float64 `json:"metrics"`
	SafeSides       []SafeSide         `json:"safe_sides"`
	Passed          bool               `json:"passed"`
	Reasons         []string           `json:"reasons"`
	Threshold       float64            `json:"threshold"`
}

// WatchConfig is the persisted watcher configuration.
type WatchConfig struct {
	Enabled          bool            `json:"enabled"`
	PollIntervalSec  float64         `json:"poll_interval_sec"`
	TopN             int             `json:"top_n"`
	Side             WatchSide       `json:"side"`
	OpenOffsetBps    float64         `json:"open_offset_bps"`
	CloseOffsetBps   float64         `json:"close_offset_bps"`
	FundingKind      FundingKind     `json:"funding_kind"`
	ScoreThreshold   float64         `json:"score_threshold"`
	Thresholds       WatchThresholds `json:"thresholds"`
	Weights          ScoreWeights    `json:"weights"`
	CooldownSec      float64         `json:"cooldown_sec"`
	SentimentEnabled bool            `json:"sentiment_enabled"`
	TelegramEnabled  bool            `json:"telegram_enabled"`
}

// DefaultWatchConfig returns the watcher configuration used when no
// saved state exists.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Enabled:          false,
		PollIntervalSec:  5.0,
		TopN:             25,
		Side:             WatchEither,
		OpenOffsetBps:    0,
		CloseOffsetBps:   0,
		FundingKind:      FundingHourly,
		ScoreThreshold:   80.0,
		Thresholds:       DefaultWatchThresholds(),
		Weights:          DefaultScoreWeights(),
		CooldownSec:      300,
		SentimentEnabled: false,
		TelegramEnabled:  true,
	}
}

// Validate checks the watch configuration for values the watcher
// cannot run with.
func (c *WatchConfig) Validate() error {
	if c.PollIntervalSec <= 0 {
		return fmt.Errorf("poll_interval_sec must be positive, got %v", c.PollIntervalSec)
	}
	if c.TopN <= 0 {
		return fmt.Errorf("top_n must be positive, got %d", c.TopN)
	}
	switch c.Side {
	case WatchLong, WatchShort, WatchEither:
	default:
		return fmt.Errorf("side must be long, short or either, got %q", c.Side)
	}
	switch c.FundingKind {
	case FundingHourly, Funding8h:
	default:
		return fmt.Errorf("funding_kind must be hourly or 8h, got %q", c.FundingKind)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 100 {
		return fmt.Errorf("score_threshold must be within [0, 100], got %v", c.ScoreThreshold)
	}
	if c.CooldownSec < 0 {
		return fmt.Errorf("cooldown_sec must not be negative, got %v", c.CooldownSec)
	}
	return nil
}

// AlertRecord is one entry of the recent-alert history.
type AlertRecord struct {
	Coin        string   `json:"coin"`
	Side        Side     `json:"side"`
	Timestamp   string   `json:"timestamp"`
	TimestampTs float64  `json:"timestamp_ts"`
	Score       float64  `json:"score"`
	Reasons     []string `json:"reasons"`
	ProposalID  string   `json:"proposal_id"`
}

// SafeSnapshot is the cached scoring outcome of one instrument.
type SafeSnapshot struct {
	Score   float64            `json:"score"`
	Passed  bool               `json:"passed"`
	Metrics map[string]float64 `json:"metrics"`
	Reasons []string           `json:"reasons"`
}

// MaxAlertHistory bounds the persisted recent-alert list.
const MaxAlertHistory = 50

// WatchState is the persisted watcher state.
type WatchState struct {
	Config           WatchConfig             `json:"config"`
	LastPollTime     *time.Time              `json:"last_poll_time,omitempty"`
	LastAlerts       []AlertRecord           `json:"last_alerts"`
	LastAlertTs      map[string]float64      `json:"last_alert_ts"`
	LastSafeSnapshot map[string]SafeSnapshot `json:"last_safe_snapshot"`
	IsRunning        bool                    `json:"is_running"`
	Enabled          bool                    `json:"enabled"`
	MutedCoins       map[string]float64      `json:"muted_coins"`
	LastProposalTime float64                 `json:"last_proposal_time"`
}

// NewWatchState returns a fresh watcher state with config defaults.
func NewWatchState() *WatchState {
	return &WatchState{
		Config:           DefaultWatchConfig(),
		LastAlerts:       []AlertRecord{},
		LastAlertTs:      map[string]float64{},
		LastSafeSnapshot: map[string]SafeSnapshot{},
		IsRunning:        false,
		Enabled:          true,
		MutedCoins:       map[string]float64{},
	}
}

// Normalize repairs nil maps and slices after JSON decoding and trims
// the alert history to its bound. IsRunning never survives a restart.
func (w *WatchState) Normalize() {
	if w.LastAlerts == nil {
		w.LastAlerts = []AlertRecord{}
	}
	if len(w.LastAlerts) > MaxAlertHistory {
		w.LastAlerts = w.LastAlerts[len(w.LastAlerts)-MaxAlertHistory:]
	}
	if w.LastAlertTs == nil {
		w.LastAlertTs = map[string]float64{}
	}
	if w.LastSafeSnapshot == nil {
		w.LastSafeSnapshot = map[string]SafeSnapshot{}
	}
	if w.MutedCoins == nil {
		w.MutedCoins = map[string]float64{}
	}
	w.IsRunning = false
}

// AppendAlert records an alert in the history, trimming to the bound.
func (w *WatchState) AppendAlert(rec AlertRecord) {
	w.LastAlerts = append(w.LastAlerts, rec)
	if len(w.LastAlerts) > MaxAlertHistory {
		w.LastAlerts = w.LastAlerts[len(w.LastAlerts)-MaxAlertHistory:]
	}
}

// Asset is one instrument of the perpetuals universe joined with its
// market context.
type Asset struct {
	Coin         string  `json:"coin"`
	MaxLeverage  float64 `json:"max_leverage"`
	OnlyIsolated bool    `json:"only_isolated"`
	MarginMode   string  `json:"margin_mode,omitempty"`
	Funding      float64 `json:"funding"`
	MarkPx       float64 `json:"mark_px"`
	MidPx        float64 `json:"mid_px"`
	OraclePx     float64 `json:"oracle_px"`
	OpenInterest float64 `json:"open_interest"`
	DayNtlVlm    float64 `json:"day_ntl_vlm"`
}

// BookMetrics are the touch prices and derived numbers of one order book.
type BookMetrics struct {
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	Mid       float64 `json:"mid"`
	Spread    float64 `json:"spread"`
	SpreadBps float64 `json:"spread_bps"`
	DepthTop  float64 `json:"depth_top"`
}

// AlertKey builds the per-(instrument, side) key used for cooldowns and
// debouncing.
func AlertKey(coin string, side Side) string {
	return coin + "_" + string(side)
}
