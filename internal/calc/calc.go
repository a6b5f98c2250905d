// Package calc holds the pure trade-economics functions: fees, funding,
// volume and liquidation estimates. Everything here is deterministic and
// side-effect free.
package calc

import (
	"strings"

	"github.com/Fershtater/fomo-calc-app/internal/models"
)

// Default exchange fee rates, used when no configuration overrides them.
const (
	DefaultTakerFee = 0.00045
	DefaultMakerFee = 0.00015
)

// HourlyBoundariesCrossed returns the number of full hourly funding
// payments inside a hold window. Partial hours do not pay.
func HourlyBoundariesCrossed(holdMinutes float64) int {
	return int(holdMinutes / 60.0)
}

// FundingPnlUSD computes the funding PnL for a position. Longs pay
// positive funding, shorts receive it. Negative means you pay.
func FundingPnlUSD(side models.Side, notional, hourlyRate float64, payments int) float64 {
	sideMultiplier := -1.0
	if side == models.SideLong {
		sideMultiplier = 1.0
	}
	return -sideMultiplier * notional * hourlyRate * float64(payments)
}

// CalculateFundingPnl converts the raw rate per its kind, counts the
// payments inside the hold window and returns the expected funding PnL.
func CalculateFundingPnl(side models.Side, notional, rawRate float64, holdMinutes int, kind models.FundingKind) float64 {
	hourlyRate := kind.HourlyRate(rawRate)
	payments := HourlyBoundariesCrossed(float64(holdMinutes))
	return FundingPnlUSD(side, notional, hourlyRate, payments)
}

// FeeRates returns the open and close fee rates for a fee mode. Maker
// legs are blended with the taker rate by fill probability: a resting
// order that never fills gets replaced by a taker order.
func FeeRates(mode models.FeeMode, takerFee, makerFee, fillProb float64) (openRate, closeRate float64) {
	switch normalizeFeeMode(mode) {
	case models.FeeModeMaker:
		openRate = blendMaker(takerFee, makerFee, fillProb)
		closeRate = blendMaker(takerFee, makerFee, fillProb)
	case models.FeeModeBoth:
		openRate = takerFee
		closeRate = blendMaker(takerFee, makerFee, fillProb)
	default:
		openRate = takerFee
		closeRate = takerFee
	}
	return openRate, closeRate
}

func blendMaker(takerFee, makerFee, fillProb float64) float64 {
	return fillProb*makerFee + (1-fillProb)*takerFee
}

func normalizeFeeMode(mode models.FeeMode) models.FeeMode {
	switch models.FeeMode(strings.ToLower(string(mode))) {
	case models.FeeModeMaker:
		return models.FeeModeMaker
	case models.FeeModeBoth:
		return models.FeeModeBoth
	default:
		return models.FeeModeTaker
	}
}

// FeeBreakdown details a round-trip fee estimate per leg.
type FeeBreakdown struct {
	OpenFeeMode  models.FeeMode `json:"open_fee_mode"`
	CloseFeeMode models.FeeMode `json:"close_fee_mode"`
	OpenFeeRate  float64        `json:"open_fee_rate"`
	CloseFeeRate float64        `json:"close_fee_rate"`
	OpenFee      float64        `json:"open_fee"`
	CloseFee     float64        `json:"close_fee"`
	FillProb     float64        `json:"fill_prob"`
}

// FeeParams configures a round-trip fee estimate. Zero fee rates fall
// back to the exchange defaults; per-leg modes override FeeMode.
type FeeParams struct {
	TakerFee     float64
	MakerFee     float64
	FeeMode      models.FeeMode
	FillProb     float64
	OpenFeeMode  models.FeeMode
	CloseFeeMode models.FeeMode
}

// CalculateFees estimates the round-trip fees on a notional. The "both"
// mode opens taker and closes maker; per-leg overrides win over the
// combined mode.
func CalculateFees(notional float64, p FeeParams) (float64, FeeBreakdown) {
	takerFee := p.TakerFee
	if takerFee == 0 {
		takerFee = DefaultTakerFee
	}
	makerFee := p.MakerFee
	if makerFee == 0 {
		makerFee = DefaultMakerFee
	}
	fillProb := p.FillProb
	if fillProb == 0 {
		fillProb = 1.0
	}

	openMode := legMode(p.OpenFeeMode, p.FeeMode, true)
	closeMode := legMode(p.CloseFeeMode, p.FeeMode, false)

	openRate, _ := FeeRates(openMode, takerFee, makerFee, fillProb)
	_, closeRate := FeeRates(closeMode, takerFee, makerFee, fillProb)

	total := notional * (openRate + closeRate)
	return total, FeeBreakdown{
		OpenFeeMode:  openMode,
		CloseFeeMode: closeMode,
		OpenFeeRate:  openRate,
		CloseFeeRate: closeRate,
		OpenFee:      notional * openRate,
		CloseFee:     notional * closeRate,
		FillProb:     fillProb,
	}
}

func legMode(override, combined models.FeeMode, isOpen bool) models.FeeMode {
	if override != "" {
		return normalizeFeeMode(override)
	}
	switch normalizeFeeMode(combined) {
	case models.FeeModeBoth:
		if isOpen {
			return models.FeeModeTaker
		}
		return models.FeeModeMaker
	case models.FeeModeMaker:
		return models.FeeModeMaker
	default:
		return models.FeeModeTaker
	}
}

// CalculateVolume returns the expected round-trip volume of a position.
func CalculateVolume(notional, fillProb float64) float64 {
	return notional * 2.0 * fillProb
}

// RoundtripsNeeded returns how many round-trips of the given notional
// are still needed to reach the remaining volume target.
func RoundtripsNeeded(remainingVolume, notionalPerTrade, fillProb float64) int {
	volumePerTrade := CalculateVolume(notionalPerTrade, fillProb)
	if volumePerTrade <= 0 {
		return 0
	}
	return int(remainingVolume / volumePerTrade)
}

// EstimateLiquidationMove returns the adverse price move, in percent,
// that would liquidate a position. Isolated margin liquidates at a full
// margin loss; cross is estimated slightly tighter.
func EstimateLiquidationMove(leverage float64, marginMode string) float64 {
	if leverage <= 0 {
		return 0
	}
	if marginMode == "isolated" {
		return 100.0 / leverage
	}
	return 90.0 / leverage
}

// AccumulateTrade applies a closed trade's realized volume, fees and
// funding to the running stats.
func AccumulateTrade(stats *models.Stats, trade *models.Trade, actualFees, fundingPnl float64) {
	stats.TotalVolumeDone += CalculateVolume(trade.Notional, trade.FillProb)
	stats.TotalFees += actualFees
	stats.TotalFundingPnl += fundingPnl
}
