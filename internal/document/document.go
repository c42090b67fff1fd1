// Package document encodes and decodes the persisted market document.
//
// The document is a UTF-8 JSON snapshot of one market: name, the trade list
// with derived fields, the last computed pool and log2odds, the signed net
// position, and an optional resolution. Each bet entry carries its mana and
// direction nested under "size" and its timestamp as an ISO-8601 string.
//
// Decoding is strict about the parts replay depends on (parseable JSON,
// positive finite mana, known direction); anything else is a
// MalformedSnapshot, recovered by falling back to a fresh market rather
// than surfacing a hard failure.
package document

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/logpool/market-engine/internal/logpool"
	"github.com/logpool/market-engine/internal/model"
)

// DefaultName is the display name given to a market recovered from a
// malformed or missing document.
const DefaultName = "Prediction Market"

// ErrMalformedSnapshot is returned by Decode when the document cannot be
// parsed into a usable MarketSnapshot.
var ErrMalformedSnapshot = errors.New("document: malformed market snapshot")

// betDoc is the wire shape of one bets[] entry.
type betDoc struct {
	Timestamp      time.Time `json:"timestamp"`
	Size           sizeDoc   `json:"size"`
	Comment        string    `json:"comment,omitempty"`
	SharesReceived float64   `json:"sharesReceived"`
	Log2OddsBefore float64   `json:"log2oddsBefore"`
	Log2OddsAfter  float64   `json:"log2oddsAfter"`
}

type sizeDoc struct {
	Mana      float64         `json:"mana"`
	Direction model.Direction `json:"direction"`
}

// marketDoc is the wire shape of the whole document.
type marketDoc struct {
	Name       string            `json:"name"`
	Bets       []betDoc          `json:"bets"`
	Pool       model.PoolDoc     `json:"pool"`
	Log2Odds   float64           `json:"log2odds"`
	UserShares float64           `json:"userShares"`
	Resolution *model.Resolution `json:"resolution,omitempty"`
}

// Fresh returns the default market snapshot: empty trade list, genesis
// pool, even odds, no stake.
func Fresh() *model.MarketSnapshot {
	genesis := logpool.Genesis()
	return &model.MarketSnapshot{
		Name: DefaultName,
		Bets: []model.Trade{},
		Pool: model.PoolDoc{
			YesShares: genesis.Yes,
			NoShares:  genesis.No,
			K:         logpool.K(genesis),
		},
		Log2Odds:   0,
		UserShares: 0,
	}
}

// Decode parses a persisted document. Trade ids are assigned by position,
// which re-establishes id order identical to document order.
func Decode(data []byte) (*model.MarketSnapshot, error) {
	var doc marketDoc
	if err := sonnet.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	bets := make([]model.Trade, 0, len(doc.Bets))
	for i, b := range doc.Bets {
		if !(b.Size.Mana > 0) || math.IsInf(b.Size.Mana, 1) {
			return nil, fmt.Errorf("%w: bet %d has non-positive mana", ErrMalformedSnapshot, i)
		}
		if !b.Size.Direction.Valid() {
			return nil, fmt.Errorf("%w: bet %d has direction %q", ErrMalformedSnapshot, i, b.Size.Direction)
		}
		bets = append(bets, model.Trade{
			ID:             i,
			Timestamp:      b.Timestamp,
			Amount:         b.Size.Mana,
			Direction:      b.Size.Direction,
			Comment:        b.Comment,
			SharesReceived: b.SharesReceived,
			Log2OddsBefore: b.Log2OddsBefore,
			Log2OddsAfter:  b.Log2OddsAfter,
		})
	}

	name := doc.Name
	if name == "" {
		name = DefaultName
	}

	return &model.MarketSnapshot{
		Name:       name,
		Bets:       bets,
		Pool:       doc.Pool,
		Log2Odds:   doc.Log2Odds,
		UserShares: doc.UserShares,
		Resolution: doc.Resolution,
	}, nil
}

// DecodeOrFresh is the load path: it decodes the document and substitutes
// the fresh-market default on any failure. The returned bool reports
// whether a fallback happened, so callers can log it; no error ever
// escapes.
func DecodeOrFresh(data []byte) (*model.MarketSnapshot, bool) {
	snap, err := Decode(data)
	if err != nil {
		return Fresh(), true
	}
	return snap, false
}

// Encode serializes a snapshot back to the persisted document shape.
func Encode(snap *model.MarketSnapshot) ([]byte, error) {
	bets := make([]betDoc, 0, len(snap.Bets))
	for _, t := range snap.Bets {
		bets = append(bets, betDoc{
			Timestamp:      t.Timestamp,
			Size:           sizeDoc{Mana: t.Amount, Direction: t.Direction},
			Comment:        t.Comment,
			SharesReceived: t.SharesReceived,
			Log2OddsBefore: t.Log2OddsBefore,
			Log2OddsAfter:  t.Log2OddsAfter,
		})
	}

	doc := marketDoc{
		Name:       snap.Name,
		Bets:       bets,
		Pool:       snap.Pool,
		Log2Odds:   snap.Log2Odds,
		UserShares: snap.UserShares,
		Resolution: snap.Resolution,
	}

	data, err := sonnet.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("document: encode snapshot: %w", err)
	}
	return data, nil
}
