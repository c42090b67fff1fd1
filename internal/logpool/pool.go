// Package logpool implements the log-product bonding curve for binary
// YES/NO markets.
//
// The pool holds two reserves (yes, no). Every trade preserves the
// invariant
//
//	k = log2(yes) * log2(no)
//
// fixed at genesis. A trade adds its amount to both sides, then solves the
// traded side back onto the invariant; the difference between the naive
// increment and the solved value is paid out as shares.
//
// All arithmetic is native float64 with no rounding or clamping anywhere
// in this package: identical inputs must produce bit-identical results
// across replay passes.
package logpool

import (
	"errors"
	"math"

	"github.com/logpool/market-engine/internal/model"
)

// GenesisLiquidity is the size of each pool side at market creation.
// log2(512) = 9, so the genesis invariant is k = 9*9 = 81 exactly.
const GenesisLiquidity = 512

var (
	// ErrInvalidAmount is returned when a trade amount is not a positive
	// finite number.
	ErrInvalidAmount = errors.New("logpool: trade amount must be a positive finite number")

	// ErrInvalidDirection is returned for an unknown trade direction.
	ErrInvalidDirection = errors.New("logpool: direction must be BUY_YES or BUY_NO")
)

// Pool is the two-sided reserve of a binary market. Both sides stay
// strictly above 1 for every trade sequence reachable from genesis.
type Pool struct {
	Yes float64 `json:"yes"`
	No  float64 `json:"no"`
}

// Genesis returns the pool state at market creation.
func Genesis() Pool {
	return Pool{Yes: GenesisLiquidity, No: GenesisLiquidity}
}

// K returns the log-product invariant of a pool.
func K(p Pool) float64 {
	return math.Log2(p.Yes) * math.Log2(p.No)
}

// Trade executes one trade against the pool under invariant k and returns
// the new pool state and the shares issued.
//
// The amount is added to both sides; the side matching the trade direction
// is then solved back onto the invariant while the other side's incremented
// value is held fixed. Shares issued are the solved side's shrink relative
// to its naive increment, and are non-negative for any positive amount as
// long as both sides exceed 1 beforehand.
func Trade(p Pool, k, amount float64, direction model.Direction) (Pool, float64, error) {
	if !(amount > 0) || math.IsInf(amount, 1) {
		return p, 0, ErrInvalidAmount
	}

	y := p.Yes + amount
	n := p.No + amount

	switch direction {
	case model.BuyYes:
		solved := math.Exp2(k / math.Log2(n))
		return Pool{Yes: solved, No: n}, y - solved, nil
	case model.BuyNo:
		solved := math.Exp2(k / math.Log2(y))
		return Pool{Yes: y, No: solved}, n - solved, nil
	default:
		return p, 0, ErrInvalidDirection
	}
}
