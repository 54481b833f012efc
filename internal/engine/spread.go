package engine

import (
	"math"

	"github.com/coachpo/spreadwatch/internal/schema"
)

// spreadQuote is one evaluated venue-pair spread. PriceA always belongs to
// the lexicographically first venue of the pair.
type spreadQuote struct {
	PriceA        float64
	PriceB        float64
	SpreadAbs     float64
	SpreadPct     float64
	ImpliedProfit float64
	Direction     schema.Direction
}

// computeSpread evaluates a venue pair. It rejects non-positive or non-finite
// inputs and any non-finite derived field.
func computeSpread(priceA, priceB, notionalUnits float64) (spreadQuote, bool) {
	if !schema.FinitePositive(priceA) || !schema.FinitePositive(priceB) {
		return spreadQuote{}, false
	}
	spreadAbs := math.Abs(priceA - priceB)
	mid := (priceA + priceB) / 2
	if mid <= 0 {
		return spreadQuote{}, false
	}
	spreadPct := 100 * spreadAbs / mid
	profit := spreadAbs * notionalUnits
	if !schema.Finite(spreadPct) || !schema.Finite(profit) {
		return spreadQuote{}, false
	}
	direction := schema.DirectionBuyBSellA
	if priceA < priceB {
		direction = schema.DirectionBuyASellB
	}
	return spreadQuote{
		PriceA:        priceA,
		PriceB:        priceB,
		SpreadAbs:     spreadAbs,
		SpreadPct:     spreadPct,
		ImpliedProfit: profit,
		Direction:     direction,
	}, true
}
