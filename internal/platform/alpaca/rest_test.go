package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

func TestTradingClient_PlaceOrder(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"id":"ord-1","client_order_id":"c-1","status":"accepted","symbol":"BTC/USD","side":"buy","qty":"0.001","limit_price":"71001"}`))
	}))
	defer srv.Close()

	c := NewTradingClient(srv.URL+"/", "key", "secret")
	res, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		ClientOrderID: "c-1",
		Symbol:        "BTC/USD",
		Side:          domain.OrderSideBuy,
		Quantity:      "0.001",
		LimitPrice:    "71001",
	})
	require.NoError(t, err)

	assert.Equal(t, "ord-1", res.OrderID)
	assert.Equal(t, domain.OrderSideBuy, res.Side)
	assert.Equal(t, "limit", got["type"])
	assert.Equal(t, "ioc", got["time_in_force"])
	assert.Equal(t, "0.001", got["qty"])
	assert.Equal(t, "71001", got["limit_price"])
	assert.Equal(t, "c-1", got["client_order_id"])
}

func TestTradingClient_OrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":42210000,"message":"insufficient balance"}`))
	}))
	defer srv.Close()

	_, err := NewTradingClient(srv.URL, "k", "s").PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "BTC/USD"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestTradingClient_GetPosition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/positions/BTCUSD":
			_, _ = w.Write([]byte(`{"symbol":"BTCUSD","side":"long","qty":"0.0035"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":40410000,"message":"position does not exist"}`))
		}
	}))
	defer srv.Close()

	c := NewTradingClient(srv.URL, "k", "s")
	pos, err := c.GetPosition(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, "long", pos.Side)
	assert.InDelta(t, 0.0035, pos.Quantity, 1e-12)

	_, err = c.GetPosition(context.Background(), "ETH/USD")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
