package auction

import "math/big"

// PriceAt returns the price in effect at time t. The price holds at
// StartPrice before the window opens, declines by one increment per elapsed
// step inside the window, and holds at EndPrice from EndTime onwards. The
// function is pure: it reads no ledger state and never mutates the config.
//
// The discount for step k of n is (StartPrice−EndPrice)×k/n with floor
// division, computed over big.Int so the intermediate product cannot wrap.
func (c Config) PriceAt(t int64) *big.Int {
	if t < c.StartTime {
		return new(big.Int).Set(c.StartPrice)
	}
	if t >= c.EndTime {
		return new(big.Int).Set(c.EndPrice)
	}
	totalSteps := c.TotalSteps()
	if totalSteps <= 0 {
		return new(big.Int).Set(c.EndPrice)
	}
	currentStep := (t - c.StartTime) / c.StepSize
	discount := new(big.Int).Sub(c.StartPrice, c.EndPrice)
	discount.Mul(discount, big.NewInt(currentStep))
	discount.Div(discount, big.NewInt(totalSteps))
	return new(big.Int).Sub(c.StartPrice, discount)
}
