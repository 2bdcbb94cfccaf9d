package risk

import (
	"fmt"
	"math"

	"swingbot/internal/domain"
	"swingbot/internal/ports"
)

// Parameters holds the risk budget used to size entries and derive bracket
// price levels.
type Parameters struct {
	RiskFraction   float64 // fraction of equity risked per trade, e.g. 0.01
	StopFraction   float64 // stop distance from entry, e.g. 0.02
	RewardFraction float64 // take-profit distance from entry, e.g. 0.06
	TrailFraction  float64 // trailing-stop distance from the high-water mark
}

// Validate checks the parameters for internal consistency.
func (p Parameters) Validate() error {
	if p.RiskFraction <= 0 || p.RiskFraction >= 1 {
		return fmt.Errorf("risk fraction must be in (0, 1), got %v", p.RiskFraction)
	}
	if p.StopFraction <= 0 || p.StopFraction >= 1 {
		return fmt.Errorf("stop fraction must be in (0, 1), got %v", p.StopFraction)
	}
	if p.RewardFraction <= 0 {
		return fmt.Errorf("reward fraction must be positive, got %v", p.RewardFraction)
	}
	if p.TrailFraction <= 0 || p.TrailFraction >= 1 {
		return fmt.Errorf("trail fraction must be in (0, 1), got %v", p.TrailFraction)
	}
	return nil
}

// Size converts account equity, a risk budget, and a stop distance into a
// whole-unit quantity:
//
//	quantity = floor(equity * riskFraction / |entryPrice - stopPrice|)
//
// It fails with ErrDegenerateRisk when the stop distance is not positive or
// when the quantity floors to zero. The caller must skip the trade in that
// case; rounding up to one unit would silently exceed the risk ceiling.
func Size(equity, riskFraction, entryPrice, stopPrice float64) (float64, error) {
	riskPerUnit := math.Abs(entryPrice - stopPrice)
	if riskPerUnit <= 0 {
		return 0, fmt.Errorf("%w: stop distance is zero (entry %v, stop %v)", ports.ErrDegenerateRisk, entryPrice, stopPrice)
	}
	riskAmount := equity * riskFraction
	quantity := math.Floor(riskAmount / riskPerUnit)
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: equity %.2f too small for stop distance %.4f at risk fraction %v",
			ports.ErrDegenerateRisk, equity, riskPerUnit, riskFraction)
	}
	return quantity, nil
}

// Bracket holds the protective price levels attached to an entry. The
// take-profit leg is immutable once computed; the stop leg moves only through
// the trailing-stop ratchet.
type Bracket struct {
	StopPrice       float64
	TakeProfitPrice float64
}

// BracketFor derives the bracket levels from the entry price. Long positions
// place the stop below and the take-profit above; short positions mirror.
func BracketFor(side domain.OrderSide, entryPrice float64, p Parameters) Bracket {
	if side == domain.Sell {
		return Bracket{
			StopPrice:       entryPrice * (1 + p.StopFraction),
			TakeProfitPrice: entryPrice * (1 - p.RewardFraction),
		}
	}
	return Bracket{
		StopPrice:       entryPrice * (1 - p.StopFraction),
		TakeProfitPrice: entryPrice * (1 + p.RewardFraction),
	}
}

// CandidateStop computes the trailing-stop level implied by the current
// high-water mark. Whether it is applied is decided by the monotonicity gate
// in the state machine, independent of the broker's replace mechanism.
func CandidateStop(side domain.OrderSide, highWaterMark float64, p Parameters) float64 {
	if side == domain.Sell {
		return highWaterMark * (1 + p.TrailFraction)
	}
	return highWaterMark * (1 - p.TrailFraction)
}

// MoreProtective reports whether candidate is strictly more protective than
// current for the given side. For a long position the stop may only rise; for
// a short position it may only fall.
func MoreProtective(side domain.OrderSide, candidate, current float64) bool {
	if side == domain.Sell {
		return candidate < current
	}
	return candidate > current
}
