// Package ledger holds the ordered trade log for one market.
//
// The ledger is an explicit append-only sequence: a trade's id is the
// ledger's size at insertion time, so ascending id order equals insertion
// order by construction. Replay determinism depends on that ordering, which
// is why this is a slice indexed by id rather than a generic map. Trades
// are amended in place and never removed.
package ledger

import (
	"errors"
	"math"
	"time"

	"github.com/logpool/market-engine/internal/model"
)

var (
	// ErrTradeNotFound is returned by Amend for an id absent from the ledger.
	ErrTradeNotFound = errors.New("ledger: trade not found")

	// ErrInvalidAmount is returned when a trade amount is not a positive
	// finite number.
	ErrInvalidAmount = errors.New("ledger: amount must be a positive finite number")

	// ErrInvalidDirection is returned for an unknown trade direction.
	ErrInvalidDirection = errors.New("ledger: direction must be BUY_YES or BUY_NO")
)

// Ledger is the ordered trade log. Not safe for concurrent use; the owning
// service serializes access.
type Ledger struct {
	trades []model.Trade
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Len returns the number of trades in the ledger.
func (l *Ledger) Len() int {
	return len(l.trades)
}

// Place appends a new trade. The id is the ledger's current size; a zero
// timestamp defaults to the call time. The amount and direction are
// validated before any mutation.
func (l *Ledger) Place(amount float64, direction model.Direction, comment string, ts time.Time) (model.Trade, error) {
	if err := validate(amount, direction); err != nil {
		return model.Trade{}, err
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	t := model.Trade{
		ID:        len(l.trades),
		Timestamp: ts,
		Amount:    amount,
		Direction: direction,
		Comment:   comment,
	}
	l.trades = append(l.trades, t)
	return t, nil
}

// Amend mutates an existing trade's amount, direction, and comment in
// place. The id and timestamp are immutable, and the trade keeps its
// position in the log. Derived fields are cleared until the next replay.
//
// Validation happens before any mutation: a failed Amend leaves the ledger
// untouched.
func (l *Ledger) Amend(id int, amount float64, direction model.Direction, comment string) (model.Trade, error) {
	if id < 0 || id >= len(l.trades) {
		return model.Trade{}, ErrTradeNotFound
	}
	if err := validate(amount, direction); err != nil {
		return model.Trade{}, err
	}

	t := &l.trades[id]
	t.Amount = amount
	t.Direction = direction
	t.Comment = comment
	t.SharesReceived = 0
	t.Log2OddsBefore = 0
	t.Log2OddsAfter = 0
	return *t, nil
}

// Entries returns the trades in ascending id order. The returned slice is
// a copy; mutating it does not affect the ledger.
func (l *Ledger) Entries() []model.Trade {
	out := make([]model.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func validate(amount float64, direction model.Direction) error {
	if !(amount > 0) || math.IsInf(amount, 1) {
		return ErrInvalidAmount
	}
	if !direction.Valid() {
		return ErrInvalidDirection
	}
	return nil
}
