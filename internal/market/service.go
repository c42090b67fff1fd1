// Package market owns one market document end to end: the trade ledger,
// the replay-derived state, and the HTTP handlers a presentation layer
// talks to.
//
// The service is the single logical owner of its ledger. Handlers replay
// after every mutation, so derived fields in responses are always fresh;
// the ledger itself never auto-recomputes.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/logpool/market-engine/internal/document"
	"github.com/logpool/market-engine/internal/ledger"
	"github.com/logpool/market-engine/internal/logpool"
	"github.com/logpool/market-engine/internal/metrics"
	"github.com/logpool/market-engine/internal/model"
	"github.com/logpool/market-engine/internal/replay"
	"github.com/logpool/market-engine/internal/store"
)

// Service handles market operations for one document. A mutex serializes
// mutation; there is exactly one logical owner of a market's ledger at a
// time, and this service is it.
type Service struct {
	mu         sync.Mutex
	st         store.SnapshotStore
	key        string
	sessionID  string
	name       string
	ledger     *ledger.Ledger
	resolution *model.Resolution
}

// NewService creates a service for the market document stored under key.
// The ledger starts empty; call Load to restore persisted state.
func NewService(st store.SnapshotStore, key string) *Service {
	return &Service{
		st:        st,
		key:       key,
		sessionID: uuid.New().String(),
		name:      document.DefaultName,
		ledger:    ledger.New(),
	}
}

// SetName overrides the market display name (used when configuration names
// the market explicitly).
func (s *Service) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != "" {
		s.name = name
	}
}

// Load restores the market from its persisted document. A missing document
// is a cold start and a malformed one falls back to a fresh market; neither
// is an error. The ledger is rebuilt by re-placing every bet in document
// order, which re-establishes id order identical to document order — even
// when that diverges from timestamp order, replay follows document order.
func (s *Service) Load(ctx context.Context) error {
	data, err := s.st.Load(ctx, s.key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.SnapshotLoads.WithLabelValues("fresh").Inc()
			slog.Info("no market document, starting fresh",
				"key", s.key, "session", s.sessionID)
			return nil
		}
		return err
	}

	snap, fellBack := document.DecodeOrFresh(data)
	if fellBack {
		metrics.SnapshotLoads.WithLabelValues("fallback").Inc()
		slog.Warn("malformed market document, starting fresh",
			"key", s.key, "session", s.sessionID)
	} else {
		metrics.SnapshotLoads.WithLabelValues("ok").Inc()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.name = snap.Name
	s.resolution = snap.Resolution
	s.ledger = ledger.New()
	for _, b := range snap.Bets {
		if _, err := s.ledger.Place(b.Amount, b.Direction, b.Comment, b.Timestamp); err != nil {
			// Decode validated every bet; a rejection here means the
			// document and ledger disagree on what a valid trade is.
			slog.Error("dropping unplaceable bet from document",
				"key", s.key, "bet", b.ID, "err", err)
		}
	}

	slog.Info("market loaded",
		"key", s.key,
		"session", s.sessionID,
		"name", s.name,
		"trades", s.ledger.Len(),
	)
	return nil
}

// Save replays the ledger, assembles the snapshot, and persists it.
func (s *Service) Save(ctx context.Context) error {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	data, err := document.Encode(snap)
	if err != nil {
		return err
	}
	if err := s.st.Save(ctx, s.key, data); err != nil {
		return err
	}

	metrics.SnapshotSaves.Inc()
	slog.Info("market saved",
		"key", s.key,
		"session", s.sessionID,
		"trades", len(snap.Bets),
		"bytes", len(data),
	)
	return nil
}

// snapshotLocked assembles the post-replay MarketSnapshot. Caller holds mu.
func (s *Service) snapshotLocked() *model.MarketSnapshot {
	res := s.replayLocked()
	return &model.MarketSnapshot{
		Name: s.name,
		Bets: res.Trades,
		Pool: model.PoolDoc{
			YesShares: res.Pool.Yes,
			NoShares:  res.Pool.No,
			K:         res.K,
		},
		Log2Odds:   res.Log2Odds,
		UserShares: res.NetPosition(),
		Resolution: s.resolution,
	}
}

// replayLocked runs a full replay pass with instrumentation. Caller holds mu.
func (s *Service) replayLocked() replay.Result {
	start := time.Now()
	res := replay.Run(s.ledger)
	metrics.ReplaysTotal.Inc()
	metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	metrics.ReplayLedgerSize.Observe(float64(s.ledger.Len()))
	return res
}

// --- Request/Response types ---

// PlaceTradeRequest is the JSON body for POST /trades.
type PlaceTradeRequest struct {
	Amount    float64         `json:"amount"`
	Direction model.Direction `json:"direction"`
	Comment   string          `json:"comment,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// AmendTradeRequest is the JSON body for PUT /trades/{tradeID}.
type AmendTradeRequest struct {
	Amount    float64         `json:"amount"`
	Direction model.Direction `json:"direction"`
	Comment   string          `json:"comment,omitempty"`
}

// TradeResponse pairs the affected trade (derived fields freshly replayed)
// with the market state after the mutation.
type TradeResponse struct {
	Trade  model.Trade `json:"trade"`
	Market MarketState `json:"market"`
}

// MarketState is the derived market summary included in responses.
type MarketState struct {
	Probability float64      `json:"probability"`
	Log2Odds    float64      `json:"log2odds"`
	Pool        logpool.Pool `json:"pool"`
	K           float64      `json:"k"`
	NetPosition float64      `json:"netPosition"`
}

// PositionResponse is the JSON body for GET /position.
type PositionResponse struct {
	YesShares   float64 `json:"yesShares"`
	NoShares    float64 `json:"noShares"`
	Mana        float64 `json:"mana"`
	NetPosition float64 `json:"netPosition"`
	HasStake    bool    `json:"hasStake"`
}

func marketState(res replay.Result) MarketState {
	return MarketState{
		Probability: res.Probability,
		Log2Odds:    res.Log2Odds,
		Pool:        res.Pool,
		K:           res.K,
		NetPosition: res.NetPosition(),
	}
}

// --- HTTP Handlers ---

// GetMarket handles GET /api/v1/market
// Returns the full post-replay snapshot in the persisted document shape.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, snap)
}

// GetOdds handles GET /api/v1/market/odds
func (s *Service) GetOdds(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	res := s.replayLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, marketState(res))
}

// GetPosition handles GET /api/v1/market/position
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	res := s.replayLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, PositionResponse{
		YesShares:   res.YesShares,
		NoShares:    res.NoShares,
		Mana:        res.Mana,
		NetPosition: res.NetPosition(),
		HasStake:    res.HasStake(),
	})
}

// ListTrades handles GET /api/v1/trades
// Returns the annotated trade list in ascending id order.
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	res := s.replayLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, res.Trades)
}

// PlaceTrade handles POST /api/v1/trades
func (s *Service) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	var req PlaceTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var ts time.Time
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	s.mu.Lock()
	placed, err := s.ledger.Place(req.Amount, req.Direction, req.Comment, ts)
	if err != nil {
		s.mu.Unlock()
		rejectTrade(w, err)
		return
	}
	res := s.replayLocked()
	s.mu.Unlock()

	metrics.TradesPlaced.WithLabelValues(string(placed.Direction)).Inc()
	slog.Info("trade placed",
		"session", s.sessionID,
		"id", placed.ID,
		"direction", placed.Direction,
		"amount", placed.Amount,
		"shares", res.Trades[placed.ID].SharesReceived,
		"log2odds", res.Log2Odds,
	)

	writeJSON(w, http.StatusCreated, TradeResponse{
		Trade:  res.Trades[placed.ID],
		Market: marketState(res),
	})
}

// AmendTrade handles PUT /api/v1/trades/{tradeID}
// Amends amount, direction, and comment in place; id and timestamp are
// immutable and the trade keeps its position in the log.
func (s *Service) AmendTrade(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "tradeID"))
	if err != nil {
		writeError(w, "trade id must be an integer", http.StatusBadRequest)
		return
	}

	var req AmendTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	amended, err := s.ledger.Amend(id, req.Amount, req.Direction, req.Comment)
	if err != nil {
		s.mu.Unlock()
		rejectTrade(w, err)
		return
	}
	res := s.replayLocked()
	s.mu.Unlock()

	metrics.TradesAmended.Inc()
	slog.Info("trade amended",
		"session", s.sessionID,
		"id", amended.ID,
		"direction", amended.Direction,
		"amount", amended.Amount,
		"log2odds", res.Log2Odds,
	)

	writeJSON(w, http.StatusOK, TradeResponse{
		Trade:  res.Trades[amended.ID],
		Market: marketState(res),
	})
}

// SaveMarket handles POST /api/v1/market/save
func (s *Service) SaveMarket(w http.ResponseWriter, r *http.Request) {
	if err := s.Save(r.Context()); err != nil {
		slog.Error("save failed", "key", s.key, "err", err)
		writeError(w, "failed to save market document", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "key": s.key})
}

// rejectTrade maps ledger errors to HTTP statuses.
func rejectTrade(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrTradeNotFound):
		metrics.TradesRejected.WithLabelValues("not_found").Inc()
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidAmount):
		metrics.TradesRejected.WithLabelValues("invalid_amount").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInvalidDirection):
		metrics.TradesRejected.WithLabelValues("invalid_direction").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		metrics.TradesRejected.WithLabelValues("other").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
