package market_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/logpool/market-engine/internal/document"
	"github.com/logpool/market-engine/internal/market"
	"github.com/logpool/market-engine/internal/model"
	"github.com/logpool/market-engine/internal/store"
)

// newTestEnv creates a test Service with an in-memory store and chi router.
func newTestEnv(t *testing.T) (*market.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := market.NewService(ms, "test-market")

	r := chi.NewRouter()
	r.Get("/api/v1/market", svc.GetMarket)
	r.Get("/api/v1/market/odds", svc.GetOdds)
	r.Get("/api/v1/market/position", svc.GetPosition)
	r.Post("/api/v1/market/save", svc.SaveMarket)
	r.Get("/api/v1/trades", svc.ListTrades)
	r.Post("/api/v1/trades", svc.PlaceTrade)
	r.Put("/api/v1/trades/{tradeID}", svc.AmendTrade)

	return svc, ms, r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func placeTrade(t *testing.T, router chi.Router, amount float64, dir model.Direction) market.TradeResponse {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/trades", market.PlaceTradeRequest{
		Amount:    amount,
		Direction: dir,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp market.TradeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

// --- Place ---

func TestPlaceTrade_BuyYes(t *testing.T) {
	_, _, router := newTestEnv(t)

	resp := placeTrade(t, router, 100, model.BuyYes)

	if resp.Trade.ID != 0 {
		t.Errorf("first trade must have id 0, got %d", resp.Trade.ID)
	}
	if resp.Trade.SharesReceived <= 0 {
		t.Errorf("expected positive shares, got %v", resp.Trade.SharesReceived)
	}
	if resp.Trade.Log2OddsAfter <= resp.Trade.Log2OddsBefore {
		t.Errorf("BUY_YES must raise odds: %+v", resp.Trade)
	}
	if resp.Market.Probability <= 0.5 {
		t.Errorf("expected probability above 0.5, got %v", resp.Market.Probability)
	}
	if resp.Market.K != 81 {
		t.Errorf("expected k=81, got %v", resp.Market.K)
	}
	if resp.Market.NetPosition != resp.Trade.SharesReceived {
		t.Errorf("single YES trade: net position %v != shares %v",
			resp.Market.NetPosition, resp.Trade.SharesReceived)
	}
}

func TestPlaceTrade_SequentialIDs(t *testing.T) {
	_, _, router := newTestEnv(t)

	for i := 0; i < 3; i++ {
		resp := placeTrade(t, router, 10, model.BuyNo)
		if resp.Trade.ID != i {
			t.Errorf("expected id %d, got %d", i, resp.Trade.ID)
		}
	}
}

func TestPlaceTrade_Rejections(t *testing.T) {
	_, _, router := newTestEnv(t)

	tests := []struct {
		name string
		req  market.PlaceTradeRequest
	}{
		{"zero amount", market.PlaceTradeRequest{Amount: 0, Direction: model.BuyYes}},
		{"negative amount", market.PlaceTradeRequest{Amount: -10, Direction: model.BuyYes}},
		{"missing direction", market.PlaceTradeRequest{Amount: 10}},
		{"unknown direction", market.PlaceTradeRequest{Amount: 10, Direction: "SIDEWAYS"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/api/v1/trades", tt.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	// Nothing must have been appended.
	w := doJSON(t, router, "GET", "/api/v1/trades", nil)
	var trades []model.Trade
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 0 {
		t.Errorf("rejected trades must not reach the ledger, got %d", len(trades))
	}
}

func TestPlaceTrade_MalformedBody(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/trades", bytes.NewReader([]byte(`{"amount": "lots"`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// --- Amend ---

func TestAmendTrade_OK(t *testing.T) {
	_, _, router := newTestEnv(t)
	placeTrade(t, router, 100, model.BuyYes)
	placeTrade(t, router, 50, model.BuyNo)

	w := doJSON(t, router, "PUT", "/api/v1/trades/0", market.AmendTradeRequest{
		Amount:    200,
		Direction: model.BuyYes,
		Comment:   "doubling down",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp market.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Trade.ID != 0 || resp.Trade.Amount != 200 || resp.Trade.Comment != "doubling down" {
		t.Errorf("amend not applied: %+v", resp.Trade)
	}
	// Derived fields come back freshly replayed, not cleared.
	if resp.Trade.SharesReceived <= 0 {
		t.Errorf("expected replayed shares in response, got %v", resp.Trade.SharesReceived)
	}
}

func TestAmendTrade_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)
	placeTrade(t, router, 100, model.BuyYes)

	w := doJSON(t, router, "PUT", "/api/v1/trades/5", market.AmendTradeRequest{
		Amount:    10,
		Direction: model.BuyNo,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAmendTrade_NonIntegerID(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "PUT", "/api/v1/trades/abc", market.AmendTradeRequest{
		Amount:    10,
		Direction: model.BuyYes,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// --- Derived state endpoints ---

func TestGetMarket_SnapshotShape(t *testing.T) {
	_, _, router := newTestEnv(t)
	placeTrade(t, router, 100, model.BuyYes)

	w := doJSON(t, router, "GET", "/api/v1/market", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var snap model.MarketSnapshot
	json.Unmarshal(w.Body.Bytes(), &snap)

	if snap.Name != document.DefaultName {
		t.Errorf("expected default name, got %q", snap.Name)
	}
	if len(snap.Bets) != 1 || snap.Bets[0].SharesReceived <= 0 {
		t.Errorf("snapshot bets must carry derived fields: %+v", snap.Bets)
	}
	if snap.Pool.K != 81 {
		t.Errorf("expected k=81, got %v", snap.Pool.K)
	}
	if snap.UserShares != snap.Bets[0].SharesReceived {
		t.Errorf("userShares %v != shares %v", snap.UserShares, snap.Bets[0].SharesReceived)
	}
}

func TestGetPosition_Netting(t *testing.T) {
	_, _, router := newTestEnv(t)
	placeTrade(t, router, 50, model.BuyYes)
	placeTrade(t, router, 50, model.BuyNo)

	w := doJSON(t, router, "GET", "/api/v1/market/position", nil)
	var pos market.PositionResponse
	json.Unmarshal(w.Body.Bytes(), &pos)

	if pos.Mana != 0 {
		t.Errorf("offsetting trades must cancel mana, got %v", pos.Mana)
	}
	if min := math.Min(pos.YesShares, pos.NoShares); min != 0 {
		t.Errorf("expected min(yes, no) == 0, got %v", min)
	}
}

func TestGetOdds_Evolves(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/market/odds", nil)
	var before market.MarketState
	json.Unmarshal(w.Body.Bytes(), &before)
	if before.Probability != 0.5 || before.Log2Odds != 0 {
		t.Fatalf("expected even genesis odds, got %+v", before)
	}

	placeTrade(t, router, 100, model.BuyNo)

	w = doJSON(t, router, "GET", "/api/v1/market/odds", nil)
	var after market.MarketState
	json.Unmarshal(w.Body.Bytes(), &after)
	if after.Probability >= 0.5 || after.Log2Odds >= 0 {
		t.Errorf("BUY_NO must lower the odds, got %+v", after)
	}
}

// --- Persistence round trip ---

func TestSaveLoad_RoundTrip(t *testing.T) {
	_, ms, router := newTestEnv(t)
	placeTrade(t, router, 100, model.BuyYes)
	placeTrade(t, router, 25, model.BuyNo)

	w := doJSON(t, router, "POST", "/api/v1/market/save", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("save failed: %d %s", w.Code, w.Body.String())
	}

	wantSnap := currentSnapshot(t, router)

	// A second service loading the same document reproduces identical
	// derived state: the replay fold is deterministic.
	svc2 := market.NewService(ms, "test-market")
	if err := svc2.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	r2 := chi.NewRouter()
	r2.Get("/api/v1/market", svc2.GetMarket)
	gotSnap := currentSnapshot(t, r2)

	if gotSnap.Pool != wantSnap.Pool {
		t.Errorf("pool drifted across reload: %+v != %+v", gotSnap.Pool, wantSnap.Pool)
	}
	if gotSnap.Log2Odds != wantSnap.Log2Odds || gotSnap.UserShares != wantSnap.UserShares {
		t.Errorf("derived state drifted across reload")
	}
	if len(gotSnap.Bets) != len(wantSnap.Bets) {
		t.Fatalf("bet count drifted: %d != %d", len(gotSnap.Bets), len(wantSnap.Bets))
	}
	for i := range gotSnap.Bets {
		g, want := gotSnap.Bets[i], wantSnap.Bets[i]
		if g.ID != want.ID || g.Amount != want.Amount || g.Direction != want.Direction {
			t.Errorf("bet %d drifted: %+v != %+v", i, g, want)
		}
		if !g.Timestamp.Equal(want.Timestamp) {
			t.Errorf("bet %d timestamp drifted: %v != %v", i, g.Timestamp, want.Timestamp)
		}
		if g.SharesReceived != want.SharesReceived {
			t.Errorf("bet %d shares drifted: %v != %v", i, g.SharesReceived, want.SharesReceived)
		}
	}
}

func currentSnapshot(t *testing.T, router chi.Router) model.MarketSnapshot {
	t.Helper()
	w := doJSON(t, router, "GET", "/api/v1/market", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get market failed: %d", w.Code)
	}
	var snap model.MarketSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func TestLoad_MissingDocumentStartsFresh(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("cold start must not error: %v", err)
	}

	r := chi.NewRouter()
	r.Get("/api/v1/market", svc.GetMarket)
	snap := currentSnapshot(t, r)
	if len(snap.Bets) != 0 || snap.Pool.YesShares != 512 {
		t.Errorf("expected fresh market, got %+v", snap)
	}
}

func TestLoad_MalformedDocumentFallsBack(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Save(context.Background(), "test-market", []byte("{{{ not a market"))

	svc := market.NewService(ms, "test-market")
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("malformed document must not surface an error: %v", err)
	}

	r := chi.NewRouter()
	r.Get("/api/v1/market", svc.GetMarket)
	snap := currentSnapshot(t, r)

	if snap.Name != document.DefaultName {
		t.Errorf("expected default name, got %q", snap.Name)
	}
	if len(snap.Bets) != 0 {
		t.Errorf("expected empty ledger, got %d bets", len(snap.Bets))
	}
	if snap.Pool.YesShares != 512 || snap.Pool.NoShares != 512 || snap.Pool.K != 81 {
		t.Errorf("expected genesis pool, got %+v", snap.Pool)
	}
	if snap.Log2Odds != 0 || snap.UserShares != 0 {
		t.Errorf("expected zero odds and shares, got %+v", snap)
	}
}

func TestLoad_PreservesDocumentOrderOverTimestamps(t *testing.T) {
	// A document whose bets are out of chronological order replays in
	// document order; ids are re-assigned sequentially on load.
	doc := `{
		"name": "Out of order",
		"bets": [
			{"timestamp": "2024-06-01T00:00:00Z", "size": {"mana": 100, "direction": "BUY_YES"}},
			{"timestamp": "2024-01-01T00:00:00Z", "size": {"mana": 50, "direction": "BUY_NO"}}
		],
		"pool": {"yesShares": 512, "noShares": 512, "k": 81}
	}`

	ms := store.NewMemoryStore()
	ms.Save(context.Background(), "test-market", []byte(doc))

	svc := market.NewService(ms, "test-market")
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	r := chi.NewRouter()
	r.Get("/api/v1/trades", svc.ListTrades)
	w := doJSON(t, r, "GET", "/api/v1/trades", nil)

	var trades []model.Trade
	json.Unmarshal(w.Body.Bytes(), &trades)

	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].Direction != model.BuyYes || trades[1].Direction != model.BuyNo {
		t.Errorf("document order must be preserved: %+v", trades)
	}
	if trades[0].Log2OddsBefore != 0 {
		t.Errorf("document's first bet folds first, before=%v", trades[0].Log2OddsBefore)
	}
	if !trades[0].Timestamp.After(trades[1].Timestamp) {
		t.Errorf("timestamps must survive reconstruction untouched")
	}
}
