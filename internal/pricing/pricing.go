package pricing

import (
	"math"

	"github.com/Fershtater/fomo-calc-app/internal/models"
)

// Leg distinguishes the opening and closing half of a round trip.
type Leg string

const (
	LegOpen  Leg = "open"
	LegClose Leg = "close"
)

// isBuy reports whether the given leg rests on the bid side of the book.
// Longs buy to open and sell to close; shorts are the mirror.
func isBuy(side models.Side, leg Leg) bool {
	if side == models.SideLong {
		return leg == LegOpen
	}
	return leg == LegClose
}

// ClampMakerPrice bounds a limit price so the order stays passive: buys
// never price above the best bid, sells never below the best ask.
func ClampMakerPrice(price, bestBid, bestAsk float64, side models.Side, leg Leg) float64 {
	if isBuy(side, leg) {
		return math.Min(price, bestBid)
	}
	return math.Max(price, bestAsk)
}

// CalculateLimitPrice computes a maker limit price offset from the touch.
// Buys quote offsetBps below the best bid, sells offsetBps above the best
// ask, and the result is clamped to the passive side of the book.
func CalculateLimitPrice(side models.Side, bestBid, bestAsk, offsetBps float64, leg Leg) float64 {
	var price float64
	if isBuy(side, leg) {
		price = bestBid * (1.0 - offsetBps/10000.0)
	} else {
		price = bestAsk * (1.0 + offsetBps/10000.0)
	}
	return ClampMakerPrice(price, bestBid, bestAsk, side, leg)
}

// SuggestedLimitPrices returns the open and close maker prices for a side
// with independent offsets per leg.
func SuggestedLimitPrices(side models.Side, bestBid, bestAsk, openOffsetBps, closeOffsetBps float64) (float64, float64) {
	openPx := CalculateLimitPrice(side, bestBid, bestAsk, openOffsetBps, LegOpen)
	closePx := CalculateLimitPrice(side, bestBid, bestAsk, closeOffsetBps, LegClose)
	return openPx, closePx
}
