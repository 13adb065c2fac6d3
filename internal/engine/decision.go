package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradearena/ledger-engine/internal/ledger"
	"github.com/tradearena/ledger-engine/internal/model"
)

// Action is what a trading agent decided to do.
type Action string

const (
	ActionHold Action = "HOLD"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

var (
	ErrUnknownAction   = errors.New("engine: unknown decision action")
	ErrDecisionSymbol  = errors.New("engine: buy/sell decision requires a symbol")
	ErrDecisionQty     = errors.New("engine: buy/sell decision requires a positive quantity")
	ErrHoldWithPayload = errors.New("engine: hold decision must not carry symbol or quantity")
)

// Decision is the tagged variant an agent's free-form output is narrowed
// into before it reaches the order validator: Hold, or Buy/Sell with a
// symbol and quantity. Construct via ParseDecision so invalid payloads
// are refused at the system boundary.
type Decision struct {
	Action   Action `json:"action"`
	Symbol   string `json:"symbol,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
}

// ParseDecision validates a raw decision payload into a Decision.
func ParseDecision(action string, symbol string, quantity int64) (Decision, error) {
	switch Action(action) {
	case ActionHold:
		if symbol != "" || quantity != 0 {
			return Decision{}, ErrHoldWithPayload
		}
		return Decision{Action: ActionHold}, nil
	case ActionBuy, ActionSell:
		if symbol == "" {
			return Decision{}, ErrDecisionSymbol
		}
		if quantity <= 0 {
			return Decision{}, ErrDecisionQty
		}
		return Decision{Action: Action(action), Symbol: symbol, Quantity: quantity}, nil
	default:
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// executeDecision routes a parsed decision to the executor. Hold is a
// no-op returning neither trade nor rejection.
func executeDecision(ctx context.Context, svc *ledger.Service, traderID string, d Decision) (*model.Trade, *ledger.Rejection, error) {
	switch d.Action {
	case ActionBuy:
		return svc.Executor.ExecuteBuy(ctx, traderID, d.Symbol, d.Quantity)
	case ActionSell:
		return svc.Executor.ExecuteSell(ctx, traderID, d.Symbol, d.Quantity)
	default:
		return nil, nil, nil
	}
}
