// Package scoring turns raw perp market metrics into a weighted 0-100
// safe entry score with human-readable reasons.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/Fershtater/fomo-calc-app/internal/models"
	"github.com/Fershtater/fomo-calc-app/internal/pricing"
)

const (
	// DefaultScoreThreshold is the pass mark used when the config leaves
	// the threshold unset.
	DefaultScoreThreshold = 80.0

	// badMetricBps stands in for bps metrics when the mid is unusable.
	badMetricBps = 9999.0

	// defaultDepthTop substitutes for books that report no usable depth.
	defaultDepthTop = 5000.0

	maxReasons = 3
)

// SpreadBps returns the bid/ask spread in basis points of the mid.
func SpreadBps(bestBid, bestAsk, mid float64) float64 {
	if mid <= 0 {
		return badMetricBps
	}
	return (bestAsk - bestBid) / mid * 10000.0
}

// MarkDeviationBps returns how far the mark price sits from the mid, in
// basis points.
func MarkDeviationBps(markPx, mid float64) float64 {
	if mid <= 0 {
		return badMetricBps
	}
	return math.Abs(markPx-mid) / mid * 10000.0
}

// OracleDeviationBps returns how far the oracle price sits from the mid,
// in basis points.
func OracleDeviationBps(oraclePx, mid float64) float64 {
	if mid <= 0 {
		return badMetricBps
	}
	return math.Abs(oraclePx-mid) / mid * 10000.0
}

// linearScore maps a lower-is-better metric onto [0, 100]: 100 at or
// below good, 0 at or above bad, linear in between.
func linearScore(value, good, bad float64) float64 {
	if value <= good {
		return 100.0
	}
	if value >= bad {
		return 0.0
	}
	return 100.0 * (1.0 - (value-good)/(bad-good))
}

// reverseLinearScore maps a higher-is-better metric onto [0, 100].
func reverseLinearScore(value, good, bad float64) float64 {
	if value >= good {
		return 100.0
	}
	if value <= bad {
		return 0.0
	}
	return 100.0 * (value - bad) / (good - bad)
}

// CalculateComponentScores scores each metric against its thresholds.
func CalculateComponentScores(spreadBps, markDevBps, oracleDevBps, fundingAbs, liquidity, depthTop float64, th models.WatchThresholds) models.ScoreComponents {
	return models.ScoreComponents{
		SpreadScore:    linearScore(spreadBps, th.SpreadGoodBps, th.SpreadBadBps),
		MarkDevScore:   linearScore(markDevBps, th.MarkGoodBps, th.MarkBadBps),
		OracleDevScore: linearScore(oracleDevBps, th.OracleGoodBps, th.OracleBadBps),
		FundingScore:   linearScore(fundingAbs, th.FundingGood, th.FundingBad),
		LiquidityScore: reverseLinearScore(liquidity, th.LiquidityGood, th.LiquidityBad),
		DepthScore:     reverseLinearScore(depthTop, th.DepthGood, th.DepthBad),
	}
}

// CalculateTotalScore combines component scores by weight, rounded to
// two decimals.
func CalculateTotalScore(c models.ScoreComponents, w models.ScoreWeights) float64 {
	total := c.SpreadScore*w.SpreadWeight +
		c.MarkDevScore*w.MarkDevWeight +
		c.OracleDevScore*w.OracleDevWeight +
		c.FundingScore*w.FundingWeight +
		c.LiquidityScore*w.LiquidityWeight +
		c.DepthScore*w.DepthWeight
	return math.Round(total*100) / 100
}

type scoredReason struct {
	score  float64
	reason string
}

// limitingFactors lists the components holding the score down, worst
// first, capped at maxReasons.
func limitingFactors(c models.ScoreComponents, metrics map[string]float64, threshold float64) []string {
	var factors []scoredReason
	if c.SpreadScore < threshold {
		factors = append(factors, scoredReason{c.SpreadScore,
			fmt.Sprintf("spread high (%.2f bps, score: %.1f)", metrics["spread_bps"], c.SpreadScore)})
	}
	if c.MarkDevScore < threshold {
		factors = append(factors, scoredReason{c.MarkDevScore,
			fmt.Sprintf("mark deviation high (%.2f bps, score: %.1f)", metrics["mark_dev_bps"], c.MarkDevScore)})
	}
	if c.OracleDevScore < threshold {
		factors = append(factors, scoredReason{c.OracleDevScore,
			fmt.Sprintf("oracle deviation high (%.2f bps, score: %.1f)", metrics["oracle_dev_bps"], c.OracleDevScore)})
	}
	if c.FundingScore < threshold {
		factors = append(factors, scoredReason{c.FundingScore,
			fmt.Sprintf("funding high (%.6f, score: %.1f)", metrics["funding_abs"], c.FundingScore)})
	}
	if c.LiquidityScore < threshold {
		factors = append(factors, scoredReason{c.LiquidityScore,
			fmt.Sprintf("liquidity low ($%s, score: %.1f)", commaRounded(metrics["liquidity"]), c.LiquidityScore)})
	}
	if c.DepthScore < threshold {
		factors = append(factors, scoredReason{c.DepthScore,
			fmt.Sprintf("depth low ($%s, score: %.1f)", commaRounded(metrics["depth_top"]), c.DepthScore)})
	}

	sort.SliceStable(factors, func(i, j int) bool { return factors[i].score < factors[j].score })
	if len(factors) > maxReasons {
		factors = factors[:maxReasons]
	}
	out := make([]string, len(factors))
	for i, f := range factors {
		out[i] = f.reason
	}
	return out
}

// passConfirmations lists the components above the threshold, capped at
// maxReasons.
func passConfirmations(c models.ScoreComponents, threshold float64) []string {
	checks := []struct {
		score float64
		label string
	}{
		{c.SpreadScore, "spread ok"},
		{c.MarkDevScore, "mark ok"},
		{c.OracleDevScore, "oracle ok"},
		{c.FundingScore, "funding ok"},
		{c.LiquidityScore, "liquidity ok"},
		{c.DepthScore, "depth ok"},
	}
	var reasons []string
	for _, ch := range checks {
		if ch.score >= threshold {
			reasons = append(reasons, ch.label)
		}
		if len(reasons) == maxReasons {
			break
		}
	}
	return reasons
}

func commaRounded(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

// EvaluateSafeEntry scores one instrument against the watch config.
// Returns nil when the book is missing or the mid is unusable.
func EvaluateSafeEntry(asset models.Asset, book *models.BookMetrics, cfg models.WatchConfig) *models.SafeEntryScore {
	if book == nil || book.Mid <= 0 {
		return nil
	}

	spreadBps := SpreadBps(book.BestBid, book.BestAsk, book.Mid)
	markDevBps := MarkDeviationBps(asset.MarkPx, book.Mid)
	oracleDevBps := OracleDeviationBps(asset.OraclePx, book.Mid)
	fundingHourly := cfg.FundingKind.HourlyRate(asset.Funding)
	fundingAbs := math.Abs(fundingHourly)
	liquidity := asset.DayNtlVlm
	depthTop := book.DepthTop
	if depthTop <= 0 {
		depthTop = defaultDepthTop
	}

	components := CalculateComponentScores(spreadBps, markDevBps, oracleDevBps, fundingAbs, liquidity, depthTop, cfg.Thresholds)
	total := CalculateTotalScore(components, cfg.Weights)

	threshold := cfg.ScoreThreshold
	if threshold <= 0 {
		threshold = DefaultScoreThreshold
	}
	passed := total >= threshold

	metrics := map[string]float64{
		"spread_bps":     spreadBps,
		"mark_dev_bps":   markDevBps,
		"oracle_dev_bps": oracleDevBps,
		"funding":        asset.Funding,
		"funding_abs":    fundingAbs,
		"funding_hourly": fundingHourly,
		"liquidity":      liquidity,
		"depth_top":      depthTop,
		"mark_px":        asset.MarkPx,
		"mid_px":         book.Mid,
		"oracle_px":      asset.OraclePx,
		"best_bid":       book.BestBid,
		"best_ask":       book.BestAsk,
	}

	var reasons []string
	if passed {
		reasons = passConfirmations(components, threshold)
	} else {
		reasons = limitingFactors(components, metrics, threshold)
	}

	var safeSides []models.SafeSide
	if passed {
		if cfg.Side.AllowsLong() {
			safeSides = append(safeSides, suggestSide(models.SideLong, book, cfg))
		}
		if cfg.Side.AllowsShort() {
			safeSides = append(safeSides, suggestSide(models.SideShort, book, cfg))
		}
	}

	return &models.SafeEntryScore{
		TotalScore:      total,
		ComponentScores: components,
		Metrics:         metrics,
		SafeSides:       safeSides,
		Passed:          passed,
		Reasons:         reasons,
		Threshold:       threshold,
	}
}

func suggestSide(side models.Side, book *models.BookMetrics, cfg models.WatchConfig) models.SafeSide {
	openPx, closePx := pricing.SuggestedLimitPrices(side, book.BestBid, book.BestAsk, cfg.OpenOffsetBps, cfg.CloseOffsetBps)
	return models.SafeSide{
		Side:         side,
		OpenLimitPx:  openPx,
		CloseLimitPx: closePx,
		BestBid:      book.BestBid,
		BestAsk:      book.BestAsk,
	}
}
