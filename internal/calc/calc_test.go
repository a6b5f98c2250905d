package calc

import (
	"math"
	"testing"

	"github.com/Fershtater/fomo-calc-app/internal/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestHourlyBoundariesCrossed(t *testing.T) {
	tests := []struct {
		name    string
		minutes float64
		want    int
	}{
		{name: "under one hour", minutes: 59, want: 0},
		{name: "exactly one hour", minutes: 60, want: 1},
		{name: "ninety minutes", minutes: 90, want: 1},
		{name: "two hours", minutes: 120, want: 2},
		{name: "zero", minutes: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HourlyBoundariesCrossed(tt.minutes); got != tt.want {
				t.Errorf("HourlyBoundariesCrossed(%v) = %d, want %d", tt.minutes, got, tt.want)
			}
		})
	}
}

func TestCalculateFundingPnl(t *testing.T) {
	tests := []struct {
		name    string
		side    models.Side
		rate    float64
		holdMin int
		kind    models.FundingKind
		want    float64
	}{
		{
			// Long pays positive funding: -1 * 10000 * 0.0001 * 2
			name: "long pays positive funding",
			side: models.SideLong, rate: 0.0001, holdMin: 120, kind: models.FundingHourly,
			want: -2.0,
		},
		{
			// Short receives positive funding
			name: "short receives positive funding",
			side: models.SideShort, rate: 0.0001, holdMin: 120, kind: models.FundingHourly,
			want: 2.0,
		},
		{
			// 8h rate divided by 8 before applying
			name: "8h kind converts to hourly",
			side: models.SideLong, rate: 0.0008, holdMin: 60, kind: models.Funding8h,
			want: -1.0,
		},
		{
			name: "no payments inside partial hour",
			side: models.SideLong, rate: 0.0001, holdMin: 45, kind: models.FundingHourly,
			want: 0,
		},
		{
			// Negative funding flips the sign: long receives
			name: "long receives negative funding",
			side: models.SideLong, rate: -0.0001, holdMin: 60, kind: models.FundingHourly,
			want: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateFundingPnl(tt.side, 10000, tt.rate, tt.holdMin, tt.kind)
			if !almostEqual(got, tt.want) {
				t.Errorf("CalculateFundingPnl() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeeRates(t *testing.T) {
	const taker, maker = 0.00045, 0.00015

	t.Run("taker mode ignores fill probability", func(t *testing.T) {
		open, close := FeeRates(models.FeeModeTaker, taker, maker, 0.5)
		if open != taker || close != taker {
			t.Errorf("FeeRates(taker) = (%v, %v), want both %v", open, close, taker)
		}
	})

	t.Run("maker mode blends by fill probability", func(t *testing.T) {
		open, close := FeeRates(models.FeeModeMaker, taker, maker, 0.5)
		want := 0.5*maker + 0.5*taker
		if !almostEqual(open, want) || !almostEqual(close, want) {
			t.Errorf("FeeRates(maker) = (%v, %v), want both %v", open, close, want)
		}
	})

	t.Run("maker mode with certain fill is pure maker", func(t *testing.T) {
		open, close := FeeRates(models.FeeModeMaker, taker, maker, 1.0)
		if !almostEqual(open, maker) || !almostEqual(close, maker) {
			t.Errorf("FeeRates(maker, p=1) = (%v, %v), want both %v", open, close, maker)
		}
	})

	t.Run("both mode opens taker closes blended maker", func(t *testing.T) {
		open, close := FeeRates(models.FeeModeBoth, taker, maker, 1.0)
		if open != taker {
			t.Errorf("open rate = %v, want %v", open, taker)
		}
		if !almostEqual(close, maker) {
			t.Errorf("close rate = %v, want %v", close, maker)
		}
	})
}

func TestCalculateFees(t *testing.T) {
	t.Run("taker round trip", func(t *testing.T) {
		total, detail := CalculateFees(10000, FeeParams{FeeMode: models.FeeModeTaker})
		want := 10000 * (DefaultTakerFee + DefaultTakerFee)
		if !almostEqual(total, want) {
			t.Errorf("total = %v, want %v", total, want)
		}
		if detail.OpenFeeMode != models.FeeModeTaker || detail.CloseFeeMode != models.FeeModeTaker {
			t.Errorf("modes = (%s, %s), want taker/taker", detail.OpenFeeMode, detail.CloseFeeMode)
		}
	})

	t.Run("maker round trip with certain fill", func(t *testing.T) {
		total, _ := CalculateFees(10000, FeeParams{FeeMode: models.FeeModeMaker, FillProb: 1.0})
		want := 10000 * (DefaultMakerFee + DefaultMakerFee)
		if !almostEqual(total, want) {
			t.Errorf("total = %v, want %v", total, want)
		}
	})

	t.Run("per-leg override wins over combined mode", func(t *testing.T) {
		_, detail := CalculateFees(10000, FeeParams{
			FeeMode:      models.FeeModeTaker,
			OpenFeeMode:  models.FeeModeMaker,
			CloseFeeMode: models.FeeModeTaker,
			FillProb:     1.0,
		})
		if detail.OpenFeeMode != models.FeeModeMaker {
			t.Errorf("open mode = %s, want maker", detail.OpenFeeMode)
		}
		if !almostEqual(detail.OpenFee, 10000*DefaultMakerFee) {
			t.Errorf("open fee = %v, want %v", detail.OpenFee, 10000*DefaultMakerFee)
		}
	})

	t.Run("uncertain maker fill raises the estimate", func(t *testing.T) {
		certain, _ := CalculateFees(10000, FeeParams{FeeMode: models.FeeModeMaker, FillProb: 1.0})
		uncertain, _ := CalculateFees(10000, FeeParams{FeeMode: models.FeeModeMaker, FillProb: 0.5})
		if uncertain <= certain {
			t.Errorf("expected blended fees above pure maker: %v <= %v", uncertain, certain)
		}
	})
}

func TestCalculateVolume(t *testing.T) {
	if got := CalculateVolume(1000, 1.0); got != 2000 {
		t.Errorf("CalculateVolume(1000, 1) = %v, want 2000", got)
	}
	if got := CalculateVolume(1000, 0.5); got != 1000 {
		t.Errorf("CalculateVolume(1000, 0.5) = %v, want 1000", got)
	}
}

func TestRoundtripsNeeded(t *testing.T) {
	tests := []struct {
		name      string
		remaining float64
		notional  float64
		fillProb  float64
		want      int
	}{
		{name: "exact multiple", remaining: 10000, notional: 1000, fillProb: 1.0, want: 5},
		{name: "rounds down", remaining: 9999, notional: 1000, fillProb: 1.0, want: 4},
		{name: "zero notional", remaining: 10000, notional: 0, fillProb: 1.0, want: 0},
		{name: "partial fills need more trips", remaining: 10000, notional: 1000, fillProb: 0.5, want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundtripsNeeded(tt.remaining, tt.notional, tt.fillProb); got != tt.want {
				t.Errorf("RoundtripsNeeded() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEstimateLiquidationMove(t *testing.T) {
	if got := EstimateLiquidationMove(10, "isolated"); got != 10.0 {
		t.Errorf("isolated 10x = %v%%, want 10", got)
	}
	if got := EstimateLiquidationMove(10, ""); got != 9.0 {
		t.Errorf("cross 10x = %v%%, want 9", got)
	}
	if got := EstimateLiquidationMove(0, "isolated"); got != 0 {
		t.Errorf("zero leverage = %v, want 0", got)
	}
}

func TestAccumulateTrade(t *testing.T) {
	stats := &models.Stats{}
	trade := &models.Trade{Notional: 1000, FillProb: 1.0}

	AccumulateTrade(stats, trade, 3.0, -1.5)

	if stats.TotalVolumeDone != 2000 {
		t.Errorf("TotalVolumeDone = %v, want 2000", stats.TotalVolumeDone)
	}
	if stats.TotalFees != 3.0 {
		t.Errorf("TotalFees = %v, want 3", stats.TotalFees)
	}
	if stats.TotalFundingPnl != -1.5 {
		t.Errorf("TotalFundingPnl = %v, want -1.5", stats.TotalFundingPnl)
	}
}
