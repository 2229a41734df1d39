package alpaca

import (
	"encoding/json"
	"time"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Message type tags used on the market data stream.
const (
	msgOrderbook    = "o"
	msgSuccess      = "success"
	msgSubscription = "subscription"
	msgError        = "error"
)

// StreamMessage is one element of a stream payload. The server sends either
// a single object or an array of them. Pointer fields distinguish absent
// values from zeros so incomplete frames can be rejected.
type StreamMessage struct {
	Type      string      `json:"T"`
	Symbol    string      `json:"S"`
	Timestamp string      `json:"t"`
	Bids      []WireLevel `json:"b"`
	Asks      []WireLevel `json:"a"`
	Reset     bool        `json:"r"`

	// Control message fields.
	Msg  string `json:"msg"`
	Code int    `json:"code"`

	// Trade messages carry lower-case "p" and "s" keys. encoding/json matches
	// keys case-insensitively, so they must be absorbed here or "s" would be
	// decoded into Symbol.
	TradePrice json.RawMessage `json:"p,omitempty"`
	TradeSize  json.RawMessage `json:"s,omitempty"`
}

// WireLevel is a price level as sent on the wire.
type WireLevel struct {
	Price *float64 `json:"p"`
	Size  *float64 `json:"s"`
}

// streamCommand is sent to the server for auth and subscription changes.
type streamCommand struct {
	Action     string   `json:"action"`
	Key        string   `json:"key,omitempty"`
	Secret     string   `json:"secret,omitempty"`
	Orderbooks []string `json:"orderbooks,omitempty"`
}

// APIOrder is the order object returned by the trading API.
type APIOrder struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id"`
	Status        string    `json:"status"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Qty           string    `json:"qty"`
	LimitPrice    string    `json:"limit_price"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// ToDomain converts the API order into a domain.OrderResult.
func (o APIOrder) ToDomain() domain.OrderResult {
	return domain.OrderResult{
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Status:        o.Status,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Quantity:      o.Qty,
		LimitPrice:    o.LimitPrice,
		SubmittedAt:   o.SubmittedAt,
	}
}

// APIPosition is the subset of the position object the executor needs.
type APIPosition struct {
	Symbol string      `json:"symbol"`
	Side   string      `json:"side"`
	Qty    json.Number `json:"qty"`
}

// ToDomain converts the API position into a domain.Position.
func (p APIPosition) ToDomain() (domain.Position, error) {
	qty, err := p.Qty.Float64()
	if err != nil {
		return domain.Position{}, err
	}
	return domain.Position{Symbol: p.Symbol, Side: p.Side, Quantity: qty}, nil
}

// APIError is the error body returned by the trading API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
