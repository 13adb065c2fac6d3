package engine

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradearena/ledger-engine/internal/ledger"
	"github.com/tradearena/ledger-engine/internal/market"
	"github.com/tradearena/ledger-engine/internal/model"
	"github.com/tradearena/ledger-engine/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *market.StaticSource) {
	t.Helper()
	quotes := market.NewStaticSource()
	svc := ledger.New(store.NewMemoryStore(), quotes,
		ledger.StaticRegistry{Balance: decimal.NewFromInt(1000)},
		ledger.Params{Fee: decimal.NewFromInt(5), QuoteTimeout: time.Second})

	r := chi.NewRouter()
	NewService(svc, nil).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, quotes
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func initPortfolio(t *testing.T, srv *httptest.Server, traderID string) {
	t.Helper()
	resp := postJSON(t, srv, "/portfolios", InitRequest{TraderID: traderID})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("init portfolio: status %d", resp.StatusCode)
	}
}

func TestInitializePortfolioEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv, "/portfolios", InitRequest{TraderID: "t1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var p model.Portfolio
	decodeBody(t, resp, &p)
	if p.TraderID != "t1" {
		t.Errorf("trader_id = %s", p.TraderID)
	}
	if !p.CashBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("cash_balance = %s, want 1000", p.CashBalance)
	}

	// Second init for the same trader conflicts.
	dup := postJSON(t, srv, "/portfolios", InitRequest{TraderID: "t1"})
	dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", dup.StatusCode)
	}
}

func TestInitializePortfolioEndpoint_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv, "/portfolios", InitRequest{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing trader_id status = %d, want 400", resp.StatusCode)
	}

	raw, err := http.Post(srv.URL+"/portfolios", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatal(err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", raw.StatusCode)
	}
}

func TestGetPortfolioEndpoint(t *testing.T) {
	srv, quotes := newTestServer(t)
	initPortfolio(t, srv, "t1")
	quotes.SetPrice("AAPL", decimal.NewFromInt(50))

	buy := postJSON(t, srv, "/orders/buy", OrderRequest{TraderID: "t1", Symbol: "AAPL", Quantity: 10})
	buy.Body.Close()

	resp, err := http.Get(srv.URL + "/portfolios/t1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body PortfolioResponse
	decodeBody(t, resp, &body)
	if len(body.Positions) != 1 || body.Positions[0].Symbol != "AAPL" {
		t.Errorf("positions = %+v, want one AAPL position", body.Positions)
	}
	if !body.Portfolio.CashBalance.Equal(decimal.RequireFromString("495")) {
		t.Errorf("cash_balance = %s, want 495", body.Portfolio.CashBalance)
	}

	missing, err := http.Get(srv.URL + "/portfolios/ghost")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown trader status = %d, want 404", missing.StatusCode)
	}
}

func TestExecuteBuyEndpoint(t *testing.T) {
	srv, quotes := newTestServer(t)
	initPortfolio(t, srv, "t1")
	quotes.SetPrice("AAPL", decimal.NewFromInt(50))

	resp := postJSON(t, srv, "/orders/buy", OrderRequest{TraderID: "t1", Symbol: "AAPL", Quantity: 10})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var trade model.Trade
	decodeBody(t, resp, &trade)
	if trade.Side != model.SideBuy || trade.Quantity != 10 {
		t.Errorf("trade = %+v", trade)
	}
	if !trade.Total.Equal(decimal.RequireFromString("505")) {
		t.Errorf("total = %s, want 505", trade.Total)
	}
}

func TestExecuteBuyEndpoint_RejectionIs422(t *testing.T) {
	srv, quotes := newTestServer(t)
	initPortfolio(t, srv, "t1")
	quotes.SetPrice("AAPL", decimal.NewFromInt(500))

	resp := postJSON(t, srv, "/orders/buy", OrderRequest{TraderID: "t1", Symbol: "AAPL", Quantity: 10})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	var body RejectionResponse
	decodeBody(t, resp, &body)
	if !body.Rejected || body.Rejection == nil {
		t.Fatalf("body = %+v, want rejection payload", body)
	}
	if body.Rejection.Reason != ledger.ReasonInsufficientFunds {
		t.Errorf("reason = %s, want %s", body.Rejection.Reason, ledger.ReasonInsufficientFunds)
	}
}

func TestExecuteSellEndpoint(t *testing.T) {
	srv, quotes := newTestServer(t)
	initPortfolio(t, srv, "t1")
	quotes.SetPrice("AAPL", decimal.NewFromInt(50))

	buy := postJSON(t, srv, "/orders/buy", OrderRequest{TraderID: "t1", Symbol: "AAPL", Quantity: 10})
	buy.Body.Close()

	quotes.SetPrice("AAPL", decimal.NewFromInt(60))
	resp := postJSON(t, srv, "/orders/sell", OrderRequest{TraderID: "t1", Symbol: "AAPL", Quantity: 10})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var trade model.Trade
	decodeBody(t, resp, &trade)
	if !trade.RealizedPL.Equal(decimal.RequireFromString("95")) {
		t.Errorf("realized_pl = %s, want 95", trade.RealizedPL)
	}

	// Selling without a position is refused, not an error.
	rej := postJSON(t, srv, "/orders/sell", OrderRequest{TraderID: "t1", Symbol: "AAPL", Quantity: 1})
	if rej.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rej.StatusCode)
	}
	var body RejectionResponse
	decodeBody(t, rej, &body)
	if body.Rejection.Reason != ledger.ReasonNoPosition {
		t.Errorf("reason = %s, want %s", body.Rejection.Reason, ledger.ReasonNoPosition)
	}
}

func TestValidateOrderEndpoint_NeverMutates(t *testing.T) {
	srv, quotes := newTestServer(t)
	initPortfolio(t, srv, "t1")
	quotes.SetPrice("AAPL", decimal.NewFromInt(50))

	req := OrderRequest{TraderID: "t1", Symbol: "AAPL", Side: model.SideBuy, Quantity: 10}
	for i := 0; i < 3; i++ {
		resp := postJSON(t, srv, "/orders/validate", req)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var val ledger.Validation
		decodeBody(t, resp, &val)
		if !val.Accepted {
			t.Fatalf("validation = %+v, want accepted", val)
		}
	}

	// Cash is untouched after repeated preflights.
	resp, err := http.Get(srv.URL + "/portfolios/t1")
	if err != nil {
		t.Fatal(err)
	}
	var body PortfolioResponse
	decodeBody(t, resp, &body)
	if !body.Portfolio.CashBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("cash_balance = %s, want 1000", body.Portfolio.CashBalance)
	}
}

func TestDecisionEndpoint(t *testing.T) {
	srv, quotes := newTestServer(t)
	initPortfolio(t, srv, "t1")
	quotes.SetPrice("AAPL", decimal.NewFromInt(50))

	hold := postJSON(t, srv, "/decisions", DecisionRequest{TraderID: "t1", Action: "HOLD"})
	if hold.StatusCode != http.StatusOK {
		t.Fatalf("hold status = %d, want 200", hold.StatusCode)
	}
	var held DecisionResponse
	decodeBody(t, hold, &held)
	if !held.Held || held.Trade != nil {
		t.Errorf("hold response = %+v", held)
	}

	buy := postJSON(t, srv, "/decisions", DecisionRequest{TraderID: "t1", Action: "BUY", Symbol: "AAPL", Quantity: 10})
	if buy.StatusCode != http.StatusOK {
		t.Fatalf("buy status = %d, want 200", buy.StatusCode)
	}
	var executed DecisionResponse
	decodeBody(t, buy, &executed)
	if executed.Action != ActionBuy || executed.Trade == nil {
		t.Fatalf("buy response = %+v", executed)
	}
	if executed.Trade.Quantity != 10 {
		t.Errorf("quantity = %d, want 10", executed.Trade.Quantity)
	}

	bad := postJSON(t, srv, "/decisions", DecisionRequest{TraderID: "t1", Action: "SHORT", Symbol: "AAPL", Quantity: 1})
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", bad.StatusCode)
	}
}

func TestRefreshAndValueEndpoints(t *testing.T) {
	srv, quotes := newTestServer(t)
	initPortfolio(t, srv, "t1")
	quotes.SetPrice("AAPL", decimal.NewFromInt(50))

	buy := postJSON(t, srv, "/orders/buy", OrderRequest{TraderID: "t1", Symbol: "AAPL", Quantity: 10})
	buy.Body.Close()

	quotes.SetPrice("AAPL", decimal.NewFromInt(60))
	refresh := postJSON(t, srv, "/portfolios/t1/refresh", struct{}{})
	if refresh.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", refresh.StatusCode)
	}
	var value model.PortfolioValue
	decodeBody(t, refresh, &value)
	if !value.TotalValue.Equal(decimal.RequireFromString("1095")) {
		t.Errorf("total_value = %s, want 1095", value.TotalValue)
	}

	resp, err := http.Get(srv.URL + "/portfolios/t1/value")
	if err != nil {
		t.Fatal(err)
	}
	var snap model.PortfolioValue
	decodeBody(t, resp, &snap)
	if !snap.TotalValue.Equal(snap.CashBalance.Add(snap.PositionValue)) {
		t.Errorf("total_value = %s, want cash %s + positions %s",
			snap.TotalValue, snap.CashBalance, snap.PositionValue)
	}
}

func TestTradesEndpoint(t *testing.T) {
	srv, quotes := newTestServer(t)
	initPortfolio(t, srv, "t1")
	quotes.SetPrice("AAPL", decimal.NewFromInt(10))

	for i := 0; i < 3; i++ {
		resp := postJSON(t, srv, "/orders/buy", OrderRequest{TraderID: "t1", Symbol: "AAPL", Quantity: 1})
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/portfolios/t1/trades?limit=2")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var trades []model.Trade
	decodeBody(t, resp, &trades)
	if len(trades) != 2 {
		t.Errorf("trades = %d, want 2", len(trades))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, quotes := newTestServer(t)
	initPortfolio(t, srv, "t1")
	quotes.SetPrice("AAPL", decimal.NewFromInt(50))

	buy := postJSON(t, srv, "/orders/buy", OrderRequest{TraderID: "t1", Symbol: "AAPL", Quantity: 5})
	buy.Body.Close()
	quotes.SetPrice("AAPL", decimal.NewFromInt(60))
	sell := postJSON(t, srv, "/orders/sell", OrderRequest{TraderID: "t1", Symbol: "AAPL", Quantity: 5})
	sell.Body.Close()

	resp, err := http.Get(srv.URL + "/portfolios/t1/metrics")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var m model.PerformanceMetrics
	decodeBody(t, resp, &m)
	if m.TotalTrades != 2 || m.SellTrades != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if !m.WinRate.Equal(decimal.NewFromInt(100)) {
		t.Errorf("win_rate = %s, want 100", m.WinRate)
	}
}
