// Package engine exposes the accounting core over HTTP: portfolio
// lifecycle, order preflight, trade execution, valuation, and the
// agent-decision boundary. Handlers are thin; all invariants live in
// the ledger package.
package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tradearena/ledger-engine/internal/ledger"
	"github.com/tradearena/ledger-engine/internal/metrics"
	"github.com/tradearena/ledger-engine/internal/model"
	"github.com/tradearena/ledger-engine/internal/store"
)

// Service handles HTTP requests against the ledger core.
// Pass nil for hub if WebSocket broadcasting is not needed.
type Service struct {
	ledger *ledger.Service
	hub    *EventHub
}

// NewService creates the HTTP service layer.
func NewService(l *ledger.Service, hub *EventHub) *Service {
	return &Service{ledger: l, hub: hub}
}

// Routes mounts all API routes on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/portfolios", s.InitializePortfolio)
	r.Get("/portfolios/{traderID}", s.GetPortfolio)
	r.Post("/portfolios/{traderID}/refresh", s.RefreshValuation)
	r.Get("/portfolios/{traderID}/value", s.GetPortfolioValue)
	r.Get("/portfolios/{traderID}/metrics", s.GetPerformanceMetrics)
	r.Get("/portfolios/{traderID}/trades", s.GetTrades)
	r.Post("/orders/validate", s.ValidateOrder)
	r.Post("/orders/buy", s.ExecuteBuy)
	r.Post("/orders/sell", s.ExecuteSell)
	r.Post("/decisions", s.ExecuteDecision)
}

// --- Request/Response types ---

// InitRequest is the JSON body for portfolio creation.
type InitRequest struct {
	TraderID string `json:"trader_id"`
}

// OrderRequest is the JSON body for order validation and execution.
type OrderRequest struct {
	TraderID string     `json:"trader_id"`
	Symbol   string     `json:"symbol"`
	Side     model.Side `json:"side,omitempty"` // validation only
	Quantity int64      `json:"quantity"`
}

// DecisionRequest is the JSON body for the agent-decision boundary.
type DecisionRequest struct {
	TraderID string `json:"trader_id"`
	Action   string `json:"action"`
	Symbol   string `json:"symbol,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
}

// PortfolioResponse combines the portfolio record with its open positions.
type PortfolioResponse struct {
	Portfolio *model.Portfolio `json:"portfolio"`
	Positions []model.Position `json:"positions"`
}

// RejectionResponse is returned with 422 when an order is refused.
type RejectionResponse struct {
	Rejected  bool              `json:"rejected"`
	Rejection *ledger.Rejection `json:"rejection"`
}

// DecisionResponse reports the outcome of an executed decision.
type DecisionResponse struct {
	Action Action       `json:"action"`
	Held   bool         `json:"held,omitempty"`
	Trade  *model.Trade `json:"trade,omitempty"`
}

// --- Handlers ---

// InitializePortfolio handles POST /api/v1/portfolios
func (s *Service) InitializePortfolio(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TraderID == "" {
		writeError(w, "trader_id is required", http.StatusBadRequest)
		return
	}

	portfolio, err := s.ledger.InitializePortfolio(r.Context(), req.TraderID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeError(w, "portfolio already exists for trader "+req.TraderID, http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.PortfoliosInitialized.Inc()

	writeJSON(w, http.StatusCreated, portfolio)
}

// GetPortfolio handles GET /api/v1/portfolios/{traderID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	traderID := chi.URLParam(r, "traderID")

	portfolio, err := s.ledger.Portfolio(r.Context(), traderID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	positions, err := s.ledger.Positions(r.Context(), traderID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	writeJSON(w, http.StatusOK, PortfolioResponse{Portfolio: portfolio, Positions: positions})
}

// ValidateOrder handles POST /api/v1/orders/validate
// Pure preflight: never mutates state, safe to call repeatedly.
func (s *Service) ValidateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TraderID == "" {
		writeError(w, "trader_id is required", http.StatusBadRequest)
		return
	}

	val, err := s.ledger.Validator.Validate(r.Context(), req.TraderID, req.Symbol, req.Side, req.Quantity)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, val)
}

// ExecuteBuy handles POST /api/v1/orders/buy
func (s *Service) ExecuteBuy(w http.ResponseWriter, r *http.Request) {
	s.executeOrder(w, r, model.SideBuy)
}

// ExecuteSell handles POST /api/v1/orders/sell
func (s *Service) ExecuteSell(w http.ResponseWriter, r *http.Request) {
	s.executeOrder(w, r, model.SideSell)
}

func (s *Service) executeOrder(w http.ResponseWriter, r *http.Request, side model.Side) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TraderID == "" {
		writeError(w, "trader_id is required", http.StatusBadRequest)
		return
	}

	var (
		trade *model.Trade
		rej   *ledger.Rejection
		err   error
	)
	if side == model.SideBuy {
		trade, rej, err = s.ledger.Executor.ExecuteBuy(r.Context(), req.TraderID, req.Symbol, req.Quantity)
	} else {
		trade, rej, err = s.ledger.Executor.ExecuteSell(r.Context(), req.TraderID, req.Symbol, req.Quantity)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if rej != nil {
		writeJSON(w, http.StatusUnprocessableEntity, RejectionResponse{Rejected: true, Rejection: rej})
		return
	}

	s.publishTrade(trade)
	writeJSON(w, http.StatusOK, trade)
}

// ExecuteDecision handles POST /api/v1/decisions
// Narrows an agent's payload into the tagged Hold/Buy/Sell variant before
// anything reaches the validator.
func (s *Service) ExecuteDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TraderID == "" {
		writeError(w, "trader_id is required", http.StatusBadRequest)
		return
	}

	decision, err := ParseDecision(req.Action, req.Symbol, req.Quantity)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	trade, rej, err := executeDecision(r.Context(), s.ledger, req.TraderID, decision)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if rej != nil {
		writeJSON(w, http.StatusUnprocessableEntity, RejectionResponse{Rejected: true, Rejection: rej})
		return
	}

	if decision.Action == ActionHold {
		writeJSON(w, http.StatusOK, DecisionResponse{Action: ActionHold, Held: true})
		return
	}

	s.publishTrade(trade)
	writeJSON(w, http.StatusOK, DecisionResponse{Action: decision.Action, Trade: trade})
}

// RefreshValuation handles POST /api/v1/portfolios/{traderID}/refresh
func (s *Service) RefreshValuation(w http.ResponseWriter, r *http.Request) {
	traderID := chi.URLParam(r, "traderID")

	value, err := s.ledger.Valuer.UpdatePositionValues(r.Context(), traderID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Publish(Event{
			Type:       "valuation_updated",
			TraderID:   traderID,
			TotalValue: value.TotalValue.String(),
		})
	}
	writeJSON(w, http.StatusOK, value)
}

// GetPortfolioValue handles GET /api/v1/portfolios/{traderID}/value
func (s *Service) GetPortfolioValue(w http.ResponseWriter, r *http.Request) {
	traderID := chi.URLParam(r, "traderID")

	value, err := s.ledger.Valuer.PortfolioValue(r.Context(), traderID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// GetPerformanceMetrics handles GET /api/v1/portfolios/{traderID}/metrics
func (s *Service) GetPerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	traderID := chi.URLParam(r, "traderID")

	m, err := s.ledger.Valuer.PerformanceMetrics(r.Context(), traderID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetTrades handles GET /api/v1/portfolios/{traderID}/trades?limit=&offset=
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	traderID := chi.URLParam(r, "traderID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	trades, err := s.ledger.Trades(r.Context(), traderID, limit, offset)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- helpers ---

func (s *Service) publishTrade(t *model.Trade) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(Event{
		Type:       "trade_executed",
		TraderID:   t.TraderID,
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		Quantity:   t.Quantity,
		Price:      t.Price.String(),
		RealizedPL: t.RealizedPL.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps store sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrAlreadyExists):
		writeError(w, "already exists", http.StatusConflict)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
