// Package proposals manages the trade proposal lifecycle: creation from
// watcher snapshots, idempotent accept/reject decisions, and expiry.
package proposals

import (
	"fmt"
	"time"

	"github.com/Fershtater/fomo-calc-app/internal/calc"
	"github.com/Fershtater/fomo-calc-app/internal/logger"
	"github.com/Fershtater/fomo-calc-app/internal/models"
)

const (
	// DefaultExpiry is the decision window when none is configured.
	DefaultExpiry = 15 * time.Minute

	// defaultFillProb stands in when a proposal carries no estimates.
	defaultFillProb = 0.8
)

// Sizing carries the trade parameters stamped onto a new proposal.
type Sizing struct {
	Margin         float64
	Leverage       float64
	HoldMin        int
	FeeMode        models.FeeMode
	FundingKind    models.FundingKind
	OpenOffsetBps  float64
	CloseOffsetBps float64
}

// Create builds a PENDING proposal from a scoring result. The score must
// be non-nil; suggested prices come from its matching safe side, falling
// back to the touch prices when the side is absent.
func Create(score *models.SafeEntryScore, coin string, side models.Side, fills models.FillProbs, sizing Sizing, expiry time.Duration, now time.Time) *models.Proposal {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	prices := models.SuggestedPrices{
		BestBid: score.Metrics["best_bid"],
		BestAsk: score.Metrics["best_ask"],
	}
	for i := range score.SafeSides {
		if score.SafeSides[i].Side == side {
			s := score.SafeSides[i]
			prices.OpenLimitPx = s.OpenLimitPx
			prices.CloseLimitPx = s.CloseLimitPx
			prices.BestBid = s.BestBid
			prices.BestAsk = s.BestAsk
			break
		}
	}

	if fills.OpenFillProb == 0 && fills.CloseFillProb == 0 {
		fills = models.FillProbs{OpenFillProb: defaultFillProb, CloseFillProb: defaultFillProb}
	}

	fundingRaw := score.Metrics["funding"]
	fundingHourly := fundingRaw
	if v, ok := score.Metrics["funding_hourly"]; ok {
		fundingHourly = v
	}

	return &models.Proposal{
		ID:              fmt.Sprintf("%s_%s_%d", coin, side, now.Unix()),
		Coin:            coin,
		Side:            side,
		Score:           score.TotalScore,
		Reasons:         score.Reasons,
		Metrics:         score.Metrics,
		SuggestedPrices: prices,
		Offsets: models.Offsets{
			OpenOffsetBps:  sizing.OpenOffsetBps,
			CloseOffsetBps: sizing.CloseOffsetBps,
		},
		FillProbs:     fills,
		Margin:        sizing.Margin,
		Leverage:      sizing.Leverage,
		HoldMin:       sizing.HoldMin,
		FeeMode:       sizing.FeeMode,
		FundingKind:   sizing.FundingKind,
		FundingRaw:    fundingRaw,
		FundingHourly: fundingHourly,
		CreatedAt:     now.UTC(),
		ExpiresAt:     now.UTC().Add(expiry),
		Status:        models.ProposalPending,
	}
}

// Accept transitions a PENDING proposal to ACCEPTED and derives its
// Trade, appending it to state. Unknown ids and already-decided
// proposals return nil without mutation; PENDING but past expiry flips
// to EXPIRED and returns nil.
func Accept(state *models.State, proposalID string, actorID int64, takerFee, makerFee float64, now time.Time) *models.Trade {
	p := state.FindProposal(proposalID)
	if p == nil {
		logger.Warn("Proposal %s not found", proposalID)
		return nil
	}
	if p.Status != models.ProposalPending {
		logger.Info("Proposal %s already %s, ignoring duplicate accept", proposalID, p.Status)
		return nil
	}
	if p.Expired(now) {
		decide(p, models.ProposalExpired, "EXPIRED", actorID, now)
		logger.Warn("Proposal %s expired before decision", proposalID)
		return nil
	}

	decide(p, models.ProposalAccepted, "ACCEPT", actorID, now)

	notional := p.Margin * p.Leverage
	fillProb := (p.FillProbs.OpenFillProb + p.FillProbs.CloseFillProb) / 2.0
	expectedFees, fees := calc.CalculateFees(notional, calc.FeeParams{
		TakerFee: takerFee,
		MakerFee: makerFee,
		FeeMode:  p.FeeMode,
		FillProb: fillProb,
	})
	expectedFunding := calc.FundingPnlUSD(p.Side, notional, p.FundingHourly, calc.HourlyBoundariesCrossed(float64(p.HoldMin)))

	trade := models.Trade{
		ID:                 p.TradeID(),
		Coin:               p.Coin,
		Side:               p.Side,
		Leverage:           p.Leverage,
		Margin:             p.Margin,
		Notional:           notional,
		OpenTimestamp:      now.UTC().Format(time.RFC3339),
		PlannedHoldMin:     p.HoldMin,
		ExpectedFees:       expectedFees,
		ExpectedFundingPnl: expectedFunding,
		OpenPrice:          f64ptr(p.SuggestedPrices.OpenLimitPx),
		OpenLimitPx:        f64ptr(p.SuggestedPrices.OpenLimitPx),
		CloseLimitPx:       f64ptr(p.SuggestedPrices.CloseLimitPx),
		FillProb:           fillProb,
		OpenFeeMode:        fees.OpenFeeMode,
		CloseFeeMode:       fees.CloseFeeMode,
	}
	state.Trades = append(state.Trades, trade)
	calc.AccumulateTrade(&state.Stats, &trade, expectedFees, expectedFunding)

	logger.Info("Proposal %s accepted by user %d, created trade %s", proposalID, actorID, trade.ID)
	return &trade
}

// Reject transitions a PENDING proposal to REJECTED. Returns false for
// unknown ids and already-decided proposals.
func Reject(state *models.State, proposalID string, actorID int64, now time.Time) bool {
	p := state.FindProposal(proposalID)
	if p == nil {
		logger.Warn("Proposal %s not found", proposalID)
		return false
	}
	if p.Status != models.ProposalPending {
		logger.Info("Proposal %s already %s, ignoring duplicate reject", proposalID, p.Status)
		return false
	}

	decide(p, models.ProposalRejected, "REJECT", actorID, now)
	logger.Info("Proposal %s rejected by user %d", proposalID, actorID)
	return true
}

// ExpireAll flips every PENDING proposal past its expiry to EXPIRED,
// recording the decision with actor 0. Returns the number expired.
func ExpireAll(state *models.State, now time.Time) int {
	expired := 0
	for _, p := range state.Proposals {
		if p.Status == models.ProposalPending && p.Expired(now) {
			decide(p, models.ProposalExpired, "EXPIRED", 0, now)
			expired++
		}
	}
	if expired > 0 {
		logger.Info("Expired %d proposals", expired)
	}
	return expired
}

func decide(p *models.Proposal, status models.ProposalStatus, decision string, actorID int64, now time.Time) {
	p.Status = status
	decidedAt := now.UTC()
	p.DecidedAtUTC = &decidedAt
	p.DecidedByUserID = &actorID
	p.Decision = &decision
}

func f64ptr(v float64) *float64 { return &v }
