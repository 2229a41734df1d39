package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// TradingClient is the REST client for the brokerage trading API. It places
// limit orders and reads positions.
type TradingClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// NewTradingClient creates a trading client.
//
// baseURL is the API root, e.g. "https://paper-api.alpaca.markets".
func NewTradingClient(baseURL, apiKey, apiSecret string) *TradingClient {
	return &TradingClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PlaceOrder submits a limit order and returns the accepted order.
func (c *TradingClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	tif := req.TimeInForce
	if tif == "" {
		tif = "ioc"
	}
	body := map[string]any{
		"type":          "limit",
		"time_in_force": tif,
		"symbol":        req.Symbol,
		"qty":           req.Quantity,
		"side":          string(req.Side),
		"limit_price":   req.LimitPrice,
	}
	if req.ClientOrderID != "" {
		body["client_order_id"] = req.ClientOrderID
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v2/orders", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("alpaca/rest: place order: %w", err)
	}

	var order APIOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return domain.OrderResult{}, fmt.Errorf("alpaca/rest: decode order: %w", err)
	}
	return order.ToDomain(), nil
}

// GetPosition returns the open position for symbol. A flat account returns
// an error wrapping domain.ErrNotFound.
func (c *TradingClient) GetPosition(ctx context.Context, symbol string) (domain.Position, error) {
	path := "/v2/positions/" + url.PathEscape(strings.ReplaceAll(symbol, "/", ""))

	respBody, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Position{}, fmt.Errorf("alpaca/rest: get position %s: %w", symbol, err)
	}

	var pos APIPosition
	if err := json.Unmarshal(respBody, &pos); err != nil {
		return domain.Position{}, fmt.Errorf("alpaca/rest: decode position: %w", err)
	}
	out, err := pos.ToDomain()
	if err != nil {
		return domain.Position{}, fmt.Errorf("alpaca/rest: parse position qty: %w", err)
	}
	return out, nil
}

func (c *TradingClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(body)
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthFailed, msg)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrOrderRejected, msg)
	default:
		return fmt.Errorf("http %d: %s", statusCode, msg)
	}
}
