// Package replay recomputes a market's derived state from its trade log.
//
// Replay is a full-history fold, not an incremental update: every run
// resets the pool to genesis and folds the entire ledger in ascending id
// order. Given an unchanged ledger, repeated runs produce bit-identical
// results. Replay is the single source of truth for per-trade derived
// fields; callers must re-run it after every place or amend before reading
// them.
package replay

import (
	"math"

	"github.com/logpool/market-engine/internal/ledger"
	"github.com/logpool/market-engine/internal/logpool"
	"github.com/logpool/market-engine/internal/model"
)

// StakeEpsilon is the net-position magnitude below which the presentation
// layer treats the trader as having no stake.
const StakeEpsilon = 1e-7

// Result is the output of one replay pass. Output-only, never persisted
// directly; the snapshot is assembled from it.
type Result struct {
	Pool        logpool.Pool
	K           float64
	Probability float64
	Log2Odds    float64

	// YesShares and NoShares are net holdings after offset-redemption;
	// at least one of them is always zero.
	YesShares float64
	NoShares  float64

	// Mana is the trader's net mana flow: BUY_YES trades subtract their
	// amount, BUY_NO trades add it. The asymmetric sign convention is part
	// of the model and reproduced as-is.
	Mana float64

	// Trades is the full trade list with derived fields populated,
	// overwriting any prior values.
	Trades []model.Trade
}

// Run folds the ledger through the pool invariant from genesis and returns
// the fully derived market state.
func Run(l *ledger.Ledger) Result {
	pool := logpool.Genesis()
	k := logpool.K(pool)

	trades := l.Entries()
	var yesTotal, noTotal, mana float64

	for i := range trades {
		t := &trades[i]

		_, before := logpool.State(pool)

		// Placed trades are validated, so the only possible error here is
		// an invalid direction smuggled in through deserialization; the
		// ledger rejects those too.
		newPool, shares, err := logpool.Trade(pool, k, math.Abs(t.Amount), t.Direction)
		if err != nil {
			continue
		}
		pool = newPool

		_, after := logpool.State(pool)

		if t.Direction == model.BuyNo {
			noTotal += shares
			mana += t.Amount
		} else {
			yesTotal += shares
			mana -= t.Amount
		}

		t.SharesReceived = shares
		t.Log2OddsBefore = before
		t.Log2OddsAfter = after
	}

	// Opposing positions net against each other: one YES plus one NO share
	// redeem 1:1 for a guaranteed unit, so the smaller side is fully offset.
	redeemed := math.Min(yesTotal, noTotal)

	probability, log2odds := logpool.State(pool)

	return Result{
		Pool:        pool,
		K:           k,
		Probability: probability,
		Log2Odds:    log2odds,
		YesShares:   yesTotal - redeemed,
		NoShares:    noTotal - redeemed,
		Mana:        mana,
		Trades:      trades,
	}
}

// NetPosition returns the signed aggregate exposure: positive for net YES,
// negative for net NO. Exactly equal residuals favor YES; with netting
// applied both residuals are then zero, so the result is zero either way.
func (r Result) NetPosition() float64 {
	if r.YesShares > r.NoShares {
		return r.YesShares
	}
	return -r.NoShares
}

// HasStake reports whether the net position magnitude is at or above
// StakeEpsilon.
func (r Result) HasStake() bool {
	return math.Abs(r.NetPosition()) >= StakeEpsilon
}
