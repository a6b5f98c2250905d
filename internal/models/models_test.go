package models

import (
	"testing"
	"time"
)

func TestProposalValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		proposal Proposal
		wantErr  bool
	}{
		{
			name: "valid proposal",
			proposal: Proposal{
				ID:        "BTC_LONG_1700000000",
				Coin:      "BTC",
				Side:      SideLong,
				Status:    ProposalPending,
				CreatedAt: now,
				ExpiresAt: now.Add(15 * time.Minute),
			},
			wantErr: false,
		},
		{
			name: "empty ID",
			proposal: Proposal{
				Coin:      "BTC",
				Side:      SideLong,
				Status:    ProposalPending,
				CreatedAt: now,
				ExpiresAt: now.Add(15 * time.Minute),
			},
			wantErr: true,
		},
		{
			name: "empty coin",
			proposal: Proposal{
				ID:        "BTC_LONG_1700000000",
				Side:      SideLong,
				Status:    ProposalPending,
				CreatedAt: now,
				ExpiresAt: now.Add(15 * time.Minute),
			},
			wantErr: true,
		},
		{
			name: "invalid side",
			proposal: Proposal{
				ID:        "BTC_LONG_1700000000",
				Coin:      "BTC",
				Side:      Side("SIDEWAYS"),
				Status:    ProposalPending,
				CreatedAt: now,
				ExpiresAt: now.Add(15 * time.Minute),
			},
			wantErr: true,
		},
		{
			name: "expiry before creation",
			proposal: Proposal{
				ID:        "BTC_LONG_1700000000",
				Coin:      "BTC",
				Side:      SideLong,
				Status:    ProposalPending,
				CreatedAt: now,
				ExpiresAt: now.Add(-1 * time.Minute),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.proposal.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Proposal.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProposalTradeID(t *testing.T) {
	p := Proposal{ID: "ETH_SHORT_1700000000"}
	want := "ETH_TRADE_SHORT_1700000000"
	if got := p.TradeID(); got != want {
		t.Errorf("TradeID() = %q, want %q", got, want)
	}
}

func TestFundingKindHourlyRate(t *testing.T) {
	tests := []struct {
		name string
		kind FundingKind
		raw  float64
		want float64
	}{
		{name: "hourly passes through", kind: FundingHourly, raw: 0.00008, want: 0.00008},
		{name: "8h divides by eight", kind: Funding8h, raw: 0.0008, want: 0.0001},
		{name: "unknown treated as hourly", kind: FundingKind("weekly"), raw: 0.5, want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.HourlyRate(tt.raw); got != tt.want {
				t.Errorf("HourlyRate(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestWatchConfigValidate(t *testing.T) {
	valid := DefaultWatchConfig()

	tests := []struct {
		name    string
		mutate  func(*WatchConfig)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *WatchConfig) {}, wantErr: false},
		{name: "zero poll interval", mutate: func(c *WatchConfig) { c.PollIntervalSec = 0 }, wantErr: true},
		{name: "zero top n", mutate: func(c *WatchConfig) { c.TopN = 0 }, wantErr: true},
		{name: "bad side", mutate: func(c *WatchConfig) { c.Side = "both" }, wantErr: true},
		{name: "bad funding kind", mutate: func(c *WatchConfig) { c.FundingKind = "daily" }, wantErr: true},
		{name: "threshold above range", mutate: func(c *WatchConfig) { c.ScoreThreshold = 101 }, wantErr: true},
		{name: "negative cooldown", mutate: func(c *WatchConfig) { c.CooldownSec = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("WatchConfig.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStateMigrate(t *testing.T) {
	t.Run("v1 gains proposals and watcher flag", func(t *testing.T) {
		s := &State{
			Plan:          DefaultPlan(),
			SchemaVersion: 1,
		}
		s.Migrate()

		if s.SchemaVersion != CurrentSchemaVersion {
			t.Errorf("SchemaVersion = %d, want %d", s.SchemaVersion, CurrentSchemaVersion)
		}
		if s.Proposals == nil {
			t.Error("Proposals should be initialized")
		}
		if !s.WatcherEnabled {
			t.Error("WatcherEnabled should default to true after migration")
		}
	})

	t.Run("current version keeps fields", func(t *testing.T) {
		s := NewState()
		s.WatcherEnabled = false
		s.Migrate()

		if s.WatcherEnabled {
			t.Error("Migrate should not touch WatcherEnabled on a current-version state")
		}
	})

	t.Run("nil slices repaired", func(t *testing.T) {
		s := &State{SchemaVersion: CurrentSchemaVersion}
		s.Migrate()

		if s.Trades == nil || s.Proposals == nil {
			t.Error("Migrate should repair nil slices")
		}
	})
}

func TestWatchStateNormalize(t *testing.T) {
	w := &WatchState{IsRunning: true}
	w.Normalize()

	if w.IsRunning {
		t.Error("IsRunning must never survive Normalize")
	}
	if w.LastAlertTs == nil || w.MutedCoins == nil || w.LastSafeSnapshot == nil {
		t.Error("Normalize should repair nil maps")
	}

	for i := 0; i < MaxAlertHistory+20; i++ {
		w.AppendAlert(AlertRecord{Coin: "BTC", Side: SideLong})
	}
	if len(w.LastAlerts) != MaxAlertHistory {
		t.Errorf("alert history = %d entries, want %d", len(w.LastAlerts), MaxAlertHistory)
	}
}

func TestStateFindProposal(t *testing.T) {
	s := NewState()
	p := &Proposal{ID: "BTC_LONG_1", Status: ProposalPending}
	s.AddProposal(p)
	s.AddProposal(&Proposal{ID: "ETH_SHORT_2", Status: ProposalAccepted})

	if got := s.FindProposal("BTC_LONG_1"); got != p {
		t.Errorf("FindProposal returned %v, want the pending BTC proposal", got)
	}
	if got := s.FindProposal("missing"); got != nil {
		t.Errorf("FindProposal(missing) = %v, want nil", got)
	}
	if got := s.PendingProposals(); len(got) != 1 || got[0].ID != "BTC_LONG_1" {
		t.Errorf("PendingProposals() = %v, want only the pending proposal", got)
	}
}

func TestAlertKey(t *testing.T) {
	if got := AlertKey("BTC", SideLong); got != "BTC_LONG" {
		t.Errorf("AlertKey() = %q, want %q", got, "BTC_LONG")
	}
}
