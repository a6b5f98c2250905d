package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// FundingKind tells how the exchange quotes the funding rate.
type FundingKind string

const (
	// FundingHourly means the raw rate is already per hour.
	FundingHourly FundingKind = "hourly"
	// Funding8h means the raw rate covers an 8-hour interval and must be
	// divided by 8 to get the hourly rate.
	Funding8h FundingKind = "8h"
)

// HourlyRate converts a raw funding rate to an hourly rate according to
// the kind. Unknown kinds are treated as hourly.
func (k FundingKind) HourlyRate(raw float64) float64 {
	if k == Funding8h {
		return raw / 8.0
	}
	return raw
}

// FeeMode selects which fee estimate to charge on a trade leg.
type FeeMode string

const (
	FeeModeMaker FeeMode = "maker"
	FeeModeTaker FeeMode = "taker"
	FeeModeBoth  FeeMode = "both"
)

// Bias is a directional sentiment hint used to nudge fill estimates.
type Bias string

const (
	BiasLong    Bias = "LONG"
	BiasShort   Bias = "SHORT"
	BiasNeutral Bias = "NEUTRAL"
)

// ProposalStatus is the lifecycle state of an alert proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExpired  ProposalStatus = "expired"
)

// Plan holds the user's farming targets and sizing defaults.
type Plan struct {
	Deposit         float64 `json:"deposit"`
	DefaultMargin   float64 `json:"default_margin"`
	DefaultLeverage float64 `json:"default_leverage"`
	TargetVolume    float64 `json:"target_volume"`
	TargetFrozen    float64 `json:"target_frozen"`
	UnfreezeFactor  float64 `json:"unfreeze_factor"`
	LevelFactor     float64 `json:"level_factor"`
}

// DefaultPlan returns the plan used when no saved state exists.
func DefaultPlan() Plan {
	return Plan{
		Deposit:         1000,
		DefaultMargin:   100,
		DefaultLeverage: 10.0,
		TargetVolume:    10000,
		TargetFrozen:    0,
		UnfreezeFactor:  1.75,
		LevelFactor:     0.25,
	}
}

// Stats accumulates realized progress against the plan.
type Stats struct {
	TotalVolumeDone     float64 `json:"total_volume_done"`
	TotalFees           float64 `json:"total_fees"`
	TotalFundingPnl     float64 `json:"total_funding_pnl"`
	FrozenRemaining     float64 `json:"frozen_remaining"`
	EstimatedFomoMinted float64 `json:"estimated_fomo_minted"`
}

// Trade is a planned or executed position created from an accepted proposal.
type Trade struct {
	ID                    string   `json:"id"`
	Coin                  string   `json:"coin"`
	Side                  Side     `json:"side"`
	Leverage              float64  `json:"leverage"`
	Margin                float64  `json:"margin"`
	Notional              float64  `json:"notional"`
	OpenTimestamp         string   `json:"open_timestamp"`
	PlannedHoldMin        int      `json:"planned_hold_min"`
	ExpectedFees          float64  `json:"expected_fees"`
	ExpectedFundingPnl    float64  `json:"expected_funding_pnl"`
	OpenPrice             *float64 `json:"open_price,omitempty"`
	ClosePrice            *float64 `json:"close_price,omitempty"`
	CloseTimestamp        *string  `json:"close_timestamp,omitempty"`
	RealizedPnl           *float64 `json:"realized_pnl,omitempty"`
	OpenLimitPx           *float64 `json:"open_limit_px,omitempty"`
	CloseLimitPx          *float64 `json:"close_limit_px,omitempty"`
	FillProb              float64  `json:"fill_prob"`
	FallbackTakerAfterSec *int     `json:"fallback_taker_after_sec,omitempty"`
	OpenFeeMode           FeeMode  `json:"open_fee_mode"`
	CloseFeeMode          FeeMode  `json:"close_fee_mode"`
	ActualCloseFeeMode    *FeeMode `json:"actual_close_fee_mode,omitempty"`
}

// SuggestedPrices carries the maker limit prices attached to a proposal.
type SuggestedPrices struct {
	OpenLimitPx  float64 `json:"open_limit_px"`
	CloseLimitPx float64 `json:"close_limit_px"`
	BestBid      float64 `json:"best_bid"`
	BestAsk      float64 `json:"best_ask"`
}

// Offsets records the maker offsets (bps from touch) used for the proposal.
type Offsets struct {
	OpenOffsetBps  float64 `json:"open_offset_bps"`
	CloseOffsetBps float64 `json:"close_offset_bps"`
}

// FillProbs carries the estimated maker fill probabilities per leg.
type FillProbs struct {
	OpenFillProb  float64 `json:"open_fill_prob"`
	CloseFillProb float64 `json:"close_fill_prob"`
}

// Proposal is a trade suggestion awaiting a user decision.
type Proposal struct {
	ID              string             `json:"id"`
	Coin            string             `json:"coin"`
	Side            Side               `json:"side"`
	Score           float64            `json:"score"`
	Reasons         []string           `json:"reasons"`
	Metrics         map[string]float64 `json:"metrics"`
	SuggestedPrices SuggestedPrices    `json:"suggested_prices"`
	Offsets         Offsets            `json:"offsets"`
	FillProbs       FillProbs          `json:"fill_probs"`
	Margin          float64            `json:"margin"`
	Leverage        float64            `json:"leverage"`
	HoldMin         int                `json:"hold_min"`
	FeeMode         FeeMode            `json:"fee_mode"`
	FundingKind     FundingKind        `json:"funding_kind"`
	FundingRaw      float64            `json:"funding_raw"`
	FundingHourly   float64            `json:"funding_hourly"`
	CreatedAt       time.Time          `json:"created_at"`
	ExpiresAt       time.Time          `json:"expires_at"`
	MessageID       *int               `json:"message_id,omitempty"`
	ChatID          *int64             `json:"chat_id,omitempty"`
	Status          ProposalStatus     `json:"status"`
	DecidedAtUTC    *time.Time         `json:"decided_at_utc,omitempty"`
	DecidedByUserID *int64             `json:"decided_by_user_id,omitempty"`
	Decision        *string            `json:"decision,omitempty"`
}

// Expired reports whether the proposal's decision window has passed.
func (p *Proposal) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// TradeID derives the trade identifier from the proposal identifier.
func (p *Proposal) TradeID() string {
	return strings.Replace(p.ID, "_", "_TRADE_", 1)
}

// Validate checks fields that must be set before a proposal is persisted.
func (p *Proposal) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("proposal id is required")
	}
	if p.Coin == "" {
		return fmt.Errorf("proposal coin is required")
	}
	if p.Side != SideLong && p.Side != SideShort {
		return fmt.Errorf("proposal side must be LONG or SHORT, got %q", p.Side)
	}
	if p.Status == "" {
		return fmt.Errorf("proposal status is required")
	}
	if p.ExpiresAt.Before(p.CreatedAt) {
		return fmt.Errorf("proposal expires_at precedes created_at")
	}
	return nil
}

// CurrentSchemaVersion is the schema the app writes. Version 1 predates
// proposals and the watcher flag.
const CurrentSchemaVersion = 2

// State is the persisted application state. Proposals are keyed by
// proposal id.
type State struct {
	Plan           Plan                 `json:"plan"`
	Stats          Stats                `json:"stats"`
	Trades         []Trade              `json:"trades"`
	Proposals      map[string]*Proposal `json:"proposals"`
	WatcherEnabled bool                 `json:"watcher_enabled"`
	SchemaVersion  int                  `json:"schema_version"`
}

// NewState returns a fresh state with plan defaults.
func NewState() *State {
	return &State{
		Plan:           DefaultPlan(),
		Stats:          Stats{},
		Trades:         []Trade{},
		Proposals:      map[string]*Proposal{},
		WatcherEnabled: true,
		SchemaVersion:  CurrentSchemaVersion,
	}
}

// Migrate upgrades older persisted states in place. Version 1 states get
// empty proposals and the watcher enabled.
func (s *State) Migrate() {
	if s.SchemaVersion < CurrentSchemaVersion {
		if s.Proposals == nil {
			s.Proposals = map[string]*Proposal{}
		}
		s.WatcherEnabled = true
		s.SchemaVersion = CurrentSchemaVersion
	}
	if s.Trades == nil {
		s.Trades = []Trade{}
	}
	if s.Proposals == nil {
		s.Proposals = map[string]*Proposal{}
	}
}

// AddProposal stores a proposal under its id.
func (s *State) AddProposal(p *Proposal) {
	if s.Proposals == nil {
		s.Proposals = map[string]*Proposal{}
	}
	s.Proposals[p.ID] = p
}

// FindProposal returns the proposal with the given id, or nil.
func (s *State) FindProposal(id string) *Proposal {
	return s.Proposals[id]
}

// PendingProposals returns proposals still awaiting a decision, oldest
// first.
func (s *State) PendingProposals() []*Proposal {
	var out []*Proposal
	for _, p := range s.Proposals {
		if p.Status == ProposalPending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
