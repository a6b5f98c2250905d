package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/Fershtater/fomo-calc-app/internal/models"
)

func sampleProposal() *models.Proposal {
	return &models.Proposal{
		ID:      "BTC_LONG_1756123200",
		Coin:    "BTC",
		Side:    models.SideLong,
		Score:   91.6667,
		Reasons: []string{"spread ok", "depth ok", "funding ok", "oracle ok"},
		Metrics: map[string]float64{
			"spread_bps":     2.0,
			"oracle_dev_bps": 1.5,
			"liquidity":      20000000,
		},
		SuggestedPrices: models.SuggestedPrices{
			OpenLimitPx:  99.9801,
			CloseLimitPx: 100.0099,
			BestBid:      99.99,
			BestAsk:      100.01,
		},
		Offsets:       models.Offsets{OpenOffsetBps: 1.0, CloseOffsetBps: 1.0},
		FillProbs:     models.FillProbs{OpenFillProb: 0.85, CloseFillProb: 0.8},
		Margin:        100,
		Leverage:      10,
		HoldMin:       60,
		FeeMode:       models.FeeModeMaker,
		FundingHourly: 0.00004,
		CreatedAt:     time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		ExpiresAt:     time.Date(2026, 8, 25, 12, 15, 0, 0, time.UTC),
		Status:        models.ProposalPending,
	}
}

func TestFormatProposalMessage(t *testing.T) {
	p := sampleProposal()
	now := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)

	want := strings.Join([]string{
		"<b>📊 Trade Proposal: BTC LONG</b>",
		"<code>ID: BTC_LONG_1756123200</code>",
		"",
		"<b>Score:</b> 92/100",
		"<b>Reasons:</b> spread ok, depth ok, funding ok",
		"",
		"<b>Suggested Limits:</b>",
		"Open: $99.9801",
		"  (offset: 1.0 bps, fill prob: 85.0%)",
		"Close: $100.0099",
		"  (offset: 1.0 bps, fill prob: 80.0%)",
		"",
		"<b>Parameters:</b>",
		"Margin: $100.00 | Leverage: 10x",
		"Notional: $1,000.00 | Hold: 60 min",
		"Fee Mode: MAKER",
		"",
		"<b>Key Metrics:</b>",
		"Spread: 2.00 bps",
		"Oracle Dev: 1.50 bps",
		"Funding (1h): 0.000040",
		"24h Volume: $20,000,000",
		"Bid: $99.9900 | Ask: $100.0100",
		"",
		"<i>Expires: 12:15:00 UTC (10 min) | Created: 2026-08-25T12:00:00 UTC</i>",
		"",
		"<i>⚠️ Paper-only. No trading executed.</i>",
	}, "\n")

	got := formatProposalMessage(p, now)
	if got != want {
		gotLines := strings.Split(got, "\n")
		wantLines := strings.Split(want, "\n")
		for i := 0; i < len(gotLines) && i < len(wantLines); i++ {
			if gotLines[i] != wantLines[i] {
				t.Errorf("line %d:\n got  %q\n want %q", i+1, gotLines[i], wantLines[i])
			}
		}
		if len(gotLines) != len(wantLines) {
			t.Errorf("message has %d lines, want %d", len(gotLines), len(wantLines))
		}
	}
}

func TestFormatProposalMessageNoReasons(t *testing.T) {
	p := sampleProposal()
	p.Reasons = nil

	got := formatProposalMessage(p, p.CreatedAt)
	if !strings.Contains(got, "<b>Reasons:</b> All metrics OK") {
		t.Errorf("message missing reasons fallback:\n%s", got)
	}
}

func TestProposalKeyboard(t *testing.T) {
	p := sampleProposal()
	kb := proposalKeyboard(p)

	if len(kb.InlineKeyboard) != 3 {
		t.Fatalf("keyboard has %d rows, want 3", len(kb.InlineKeyboard))
	}

	wantData := [][]string{
		{"ACCEPT:BTC_LONG_1756123200", "REJECT:BTC_LONG_1756123200"},
		{"PAUSE", "RESUME"},
		{"MUTE:BTC:60", "NEXT"},
	}
	for i, row := range kb.InlineKeyboard {
		if len(row) != len(wantData[i]) {
			t.Fatalf("row %d has %d buttons, want %d", i, len(row), len(wantData[i]))
		}
		for j, btn := range row {
			if btn.CallbackData == nil || *btn.CallbackData != wantData[i][j] {
				t.Errorf("row %d button %d data = %v, want %q", i, j, btn.CallbackData, wantData[i][j])
			}
		}
	}

	if kb.InlineKeyboard[2][0].Text != "🔕 Mute BTC 60m" {
		t.Errorf("mute button text = %q", kb.InlineKeyboard[2][0].Text)
	}
}

func TestDecidedKeyboard(t *testing.T) {
	kb := decidedKeyboard()
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("keyboard has %d rows, want 2", len(kb.InlineKeyboard))
	}
	if *kb.InlineKeyboard[0][0].CallbackData != "NEXT" || *kb.InlineKeyboard[1][0].CallbackData != "STATUS" {
		t.Errorf("keyboard rows = %v", kb.InlineKeyboard)
	}
}

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"a<b>c", "a&lt;b&gt;c"},
		{"fish & chips", "fish &amp; chips"},
		{"<script>", "&lt;script&gt;"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := escapeHTML(tt.input); got != tt.expected {
			t.Errorf("escapeHTML(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}
