package value

import "github.com/shopspring/decimal"

// incrementBand maps a price ceiling to the minimum raise required while the
// current price is below that ceiling. Bands are checked in order; the last
// band catches everything above.
type incrementBand struct {
	upTo decimal.Decimal // exclusive ceiling, zero value means "no ceiling"
	step decimal.Decimal
}

//nolint:gochecknoglobals
var incrementBands = []incrementBand{
	{upTo: decimal.NewFromInt(100), step: decimal.NewFromInt(5)},
	{upTo: decimal.NewFromInt(1000), step: decimal.NewFromInt(25)},
	{upTo: decimal.NewFromInt(5000), step: decimal.NewFromInt(50)},
	{upTo: decimal.NewFromInt(20000), step: decimal.NewFromInt(100)},
	{upTo: decimal.NewFromInt(100000), step: decimal.NewFromInt(250)},
	{step: decimal.NewFromInt(500)},
}

// MinIncrement returns the minimum raise over the given current price. The
// step grows with the price band.
func MinIncrement(currentPrice decimal.Decimal) decimal.Decimal {
	for _, band := range incrementBands {
		if band.upTo.IsZero() || currentPrice.LessThan(band.upTo) {
			return band.step
		}
	}

	return incrementBands[len(incrementBands)-1].step
}

// MinAcceptableBid returns the lowest amount that is admissible against the
// given current price. A bid exactly equal to it is accepted.
func MinAcceptableBid(currentPrice decimal.Decimal) decimal.Decimal {
	return currentPrice.Add(MinIncrement(currentPrice))
}
