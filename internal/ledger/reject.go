// Package ledger is the accounting core of the trading simulation: per-trader
// cash balances, open positions with weighted-average cost basis, and an
// append-only trade history. All money is shopspring/decimal.
//
// Order rejections are values, not errors. A Go error from this package
// means infrastructure failure (store, quotes); a *Rejection means the
// order was refused for a business reason the caller can act on.
package ledger

import "fmt"

// Reason is a machine-checkable rejection code.
type Reason string

const (
	ReasonInvalidSide        Reason = "invalid_side"
	ReasonInvalidQuantity    Reason = "invalid_quantity"
	ReasonInvalidSymbol      Reason = "invalid_symbol"
	ReasonMarketClosed       Reason = "market_closed"
	ReasonInsufficientFunds  Reason = "insufficient_funds"
	ReasonInsufficientShares Reason = "insufficient_shares"
	ReasonNoPosition         Reason = "no_position"
	ReasonPriceUnavailable   Reason = "price_unavailable"
)

// Rejection is a structured order refusal: a reason code plus a
// human-readable message. The engine never retries a rejected order;
// retry policy belongs to the caller.
type Rejection struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
