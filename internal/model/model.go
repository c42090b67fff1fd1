// Package model defines the core domain types shared across the market engine.
// All pool and share values are float64 — the pricing model is defined over
// native floating-point arithmetic and replay must be bit-reproducible.
package model

import "time"

// Direction is the side of a binary market a trade buys into.
type Direction string

const (
	BuyYes Direction = "BUY_YES"
	BuyNo  Direction = "BUY_NO"
)

// Valid reports whether d is a known trade direction.
func (d Direction) Valid() bool {
	return d == BuyYes || d == BuyNo
}

// Trade is one user action against the market. ID is assigned by the ledger
// as its size at insertion time (contiguous from 0, stable under amendment,
// never reused). Timestamp is display-only and does not order replay.
//
// SharesReceived, Log2OddsBefore, and Log2OddsAfter are derived fields
// populated only by replay; replay is the single source of truth for them.
type Trade struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
	Direction Direction `json:"direction"`
	Comment   string    `json:"comment,omitempty"`

	SharesReceived float64 `json:"sharesReceived"`
	Log2OddsBefore float64 `json:"log2oddsBefore"`
	Log2OddsAfter  float64 `json:"log2oddsAfter"`
}

// Resolution is the terminal outcome of a settled market. Settlement itself
// happens outside this engine; the field is carried through persistence.
type Resolution struct {
	Outcome string `json:"outcome"`
}

// PoolDoc is the persisted pool record. The two sides are named yesShares
// and noShares in the document for historical reasons — they are pool
// reserves, not user share holdings.
type PoolDoc struct {
	YesShares float64 `json:"yesShares"`
	NoShares  float64 `json:"noShares"`
	K         float64 `json:"k"`
}

// MarketSnapshot is the externally persisted record of one market: the
// display name, the full trade list with derived fields populated, the last
// computed pool and log2odds, and the signed net position (positive = net
// YES exposure, negative = net NO exposure).
type MarketSnapshot struct {
	Name       string      `json:"name"`
	Bets       []Trade     `json:"bets"`
	Pool       PoolDoc     `json:"pool"`
	Log2Odds   float64     `json:"log2odds"`
	UserShares float64     `json:"userShares"`
	Resolution *Resolution `json:"resolution,omitempty"`
}
