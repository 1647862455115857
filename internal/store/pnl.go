package store

import (
	"strconv"
	"strings"
)

// Settlement is the result of reconciling one trade.
type Settlement struct {
	Won bool
	PnL float64
}

// Settle applies the settlement formula to a position.
//
// A BUY of the bet outcome pays price per share and returns 1 per share if the
// outcome resolves, 0 otherwise; a SELL is the complementary position. For
// binary markets "Yes" is the reference outcome. Markets with named outcomes
// use the position's own outcome as the reference.
func Settle(side Side, betOutcome, resolvedOutcome string, size, price float64) Settlement {
	betYes := isYes(betOutcome)
	resolvedYes := isYes(resolvedOutcome)
	if !isBinary(betOutcome) || !isBinary(resolvedOutcome) {
		betYes = true
		resolvedYes = strings.EqualFold(strings.TrimSpace(betOutcome), strings.TrimSpace(resolvedOutcome))
	}

	profitsFromYes := (side == SideBuy && betYes) || (side == SideSell && !betYes)
	won := profitsFromYes == resolvedYes

	var pnl float64
	switch {
	case won && side == SideBuy:
		pnl = size * (1 - price)
	case won:
		pnl = size * price
	case side == SideBuy:
		pnl = -size * price
	default:
		pnl = -size * (1 - price)
	}

	return Settlement{Won: won, PnL: roundCents(pnl)}
}

// roundCents rounds to two decimals using the shortest correctly rounded
// decimal of the binary value, so 2.675 (stored as 2.67499...) becomes 2.67.
func roundCents(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	if err != nil {
		return v
	}
	return r
}

func isYes(outcome string) bool {
	return strings.EqualFold(strings.TrimSpace(outcome), "yes")
}

func isBinary(outcome string) bool {
	o := strings.TrimSpace(outcome)
	return strings.EqualFold(o, "yes") || strings.EqualFold(o, "no")
}
