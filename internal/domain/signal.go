package domain

import (
	"fmt"
	"time"
)

// Action is what a signal asks the execution stage to do.
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionClose Action = "close"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionClose:
		return true
	}
	return false
}

// Signal is emitted by the decision stage to request order execution.
type Signal struct {
	ID         string    `json:"id"` // UUID for dedup
	Source     string    `json:"source"`
	Action     Action    `json:"action"`
	Symbol     string    `json:"symbol"`
	LimitPrice float64   `json:"limit_price"`
	Quantity   float64   `json:"quantity"`
	BestBid    float64   `json:"best_bid"`
	BestAsk    float64   `json:"best_ask"`
	Sequence   uint64    `json:"sequence"` // book snapshot the signal was derived from
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks the fields the execution stage relies on.
func (s Signal) Validate() error {
	if !s.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidSignal, s.Action)
	}
	if s.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidSignal)
	}
	if s.Action != ActionClose && s.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be > 0", ErrInvalidSignal)
	}
	if s.LimitPrice <= 0 {
		return fmt.Errorf("%w: limit price must be > 0", ErrInvalidSignal)
	}
	return nil
}

// OrderSide is the side of an order sent to the broker.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderRequest is a limit order derived from a signal.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Quantity      string // decimal string, already rounded to the quantity step
	LimitPrice    string // decimal string, already rounded to the tick size
	TimeInForce   string
}

// OrderResult is the broker's answer to an OrderRequest.
type OrderResult struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Status        string    `json:"status"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Quantity      string    `json:"quantity"`
	LimitPrice    string    `json:"limit_price"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Position is the broker's view of an open position.
type Position struct {
	Symbol   string
	Side     string // "long" or "short"
	Quantity float64
}

// Execution records the outcome of acting on one signal.
type Execution struct {
	SignalID  string
	Action    Action
	Symbol    string
	Result    *OrderResult
	Skipped   string // non-empty when no order was sent
	Err       string
	CreatedAt time.Time
}
