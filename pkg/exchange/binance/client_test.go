package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridwire-api/pkg/exchange"
)

const (
	testAPIKey    = "test-api-key"
	testAPISecret = "test-api-secret"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(testAPIKey, testAPISecret, WithBaseURL(srv.URL), WithRateLimit(1000))
	require.NoError(t, err)
	return client, srv
}

func verifySignature(t *testing.T, r *http.Request) {
	t.Helper()
	query := r.URL.Query()
	sig := query.Get("signature")
	require.NotEmpty(t, sig, "signed endpoint must carry a signature")
	require.NotEmpty(t, query.Get("timestamp"))

	query.Del("signature")
	mac := hmac.New(sha256.New, []byte(testAPISecret))
	mac.Write([]byte(query.Encode()))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
}

func TestSignedRequestCarriesAuth(t *testing.T) {
	var seen *http.Request
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(r.Context())
		w.Write([]byte(`[]`))
	}))

	_, err := client.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, testAPIKey, seen.Header.Get("X-MBX-APIKEY"))
	assert.Equal(t, "BTCUSDT", seen.URL.Query().Get("symbol"))
	verifySignature(t, seen)
}

func TestAPIErrorMapping(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	}))

	_, err := client.GetOrder(context.Background(), "BTCUSDT", 42)
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok, "expected *APIError, got %T", err)
	assert.Equal(t, -2019, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Contains(t, apiErr.Message, "insufficient")
	assert.False(t, IsTransient(err))
}

func TestTransientClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       *APIError
		transient bool
	}{
		{"rate limited", &APIError{HTTPStatus: 400, Code: -1003}, true},
		{"venue timeout", &APIError{HTTPStatus: 400, Code: -1007}, true},
		{"server busy", &APIError{HTTPStatus: 400, Code: -1008}, true},
		{"http 503", &APIError{HTTPStatus: 503, Code: -1000}, true},
		{"http 429", &APIError{HTTPStatus: 429}, true},
		{"bad quantity", &APIError{HTTPStatus: 400, Code: -1111}, false},
		{"insufficient margin", &APIError{HTTPStatus: 400, Code: -2019}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, tc.err.Transient())
		})
	}
}

func TestSyncTimeAdjustsTimestamp(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	var stamped string
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/time", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"serverTime":1700000005000}`))
	})
	mux.HandleFunc("/fapi/v1/openOrders", func(w http.ResponseWriter, r *http.Request) {
		stamped = r.URL.Query().Get("timestamp")
		w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(testAPIKey, testAPISecret,
		WithBaseURL(srv.URL),
		WithClock(func() time.Time { return fixed }),
		WithRateLimit(1000))
	require.NoError(t, err)
	require.NoError(t, client.SyncTime(context.Background()))

	_, err = client.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "1700000005000", stamped, "timestamp must carry the server offset")
}

func TestPlaceBatchOrders(t *testing.T) {
	var batchRaw string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/fapi/v1/batchOrders", r.URL.Path)
		batchRaw = r.URL.Query().Get("batchOrders")
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","orderId":100,"status":"NEW","side":"BUY","type":"LIMIT","price":"98000.10","origQty":"0.010"},
			{"code":-2021,"msg":"Order would immediately trigger."}
		]`))
	}))

	specs := []exchange.OrderSpec{
		{Symbol: "BTCUSDT", Side: exchange.Buy, Type: exchange.Limit, Quantity: "0.010", Price: "98000.10", TimeInForce: exchange.GTC},
		{Symbol: "BTCUSDT", Side: exchange.Sell, Type: exchange.StopMarket, StopPrice: "97000", ClosePosition: true},
	}
	acks, err := client.PlaceBatchOrders(context.Background(), specs)
	require.Error(t, err, "rejected entry must surface")
	require.Len(t, acks, 1)
	assert.Equal(t, int64(100), acks[0].OrderID)
	assert.Equal(t, exchange.StatusNew, acks[0].Status)
	assert.Equal(t, 98000.10, acks[0].Price)

	// Boolean flags travel as strings, closePosition forces quantity "0".
	assert.Contains(t, batchRaw, `"closePosition":"true"`)
	assert.Contains(t, batchRaw, `"quantity":"0"`)
}

func TestPlaceBatchOrdersRejectsOversizedBatch(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the server")
	}))
	specs := make([]exchange.OrderSpec, exchange.BatchLimit+1)
	for i := range specs {
		specs[i] = exchange.OrderSpec{Symbol: "BTCUSDT", Side: exchange.Buy, Type: exchange.Market, Quantity: "1"}
	}
	_, err := client.PlaceBatchOrders(context.Background(), specs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestGetInstruments(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","pricePrecision":2,"quantityPrecision":3,
			 "filters":[{"filterType":"PRICE_FILTER","tickSize":"0.10"},{"filterType":"MIN_NOTIONAL","notional":"100"}]},
			{"symbol":"DELISTED","status":"SETTLING","pricePrecision":4,"quantityPrecision":0,"filters":[]}
		]}`))
	}))

	instruments, err := client.GetInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, instruments, 1, "non-trading symbols are skipped")
	inst := instruments[0]
	assert.Equal(t, "BTCUSDT", inst.Symbol)
	assert.Equal(t, 0.10, inst.TickSize)
	assert.Equal(t, 2, inst.PricePrecision)
	assert.Equal(t, 3, inst.QuantityPrecision)
	assert.Equal(t, 100.0, inst.MinNotional)
}

func TestGetPositionFlatWhenAbsent(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	pos, err := client.GetPosition(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", pos.Symbol)
	assert.True(t, pos.IsFlat())
}

func TestGetAvailableBalance(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r)
		w.Write([]byte(`[
			{"asset":"BNB","balance":"0","availableBalance":"0"},
			{"asset":"USDT","balance":"1523.40","availableBalance":"1011.25"}
		]`))
	}))
	bal, err := client.GetAvailableBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 1523.40, bal.Balance)
	assert.Equal(t, 1011.25, bal.AvailableBalance)

	_, err = client.GetAvailableBalance(context.Background(), "DOGE")
	require.Error(t, err)
}

func TestCancelAllOpenOrders(t *testing.T) {
	var method, path string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.Write([]byte(`{"code":200,"msg":"success"}`))
	}))
	require.NoError(t, client.CancelAllOpenOrders(context.Background(), "BTCUSDT"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/fapi/v1/allOpenOrders", path)
}

func TestStreamURLJoinsListenKey(t *testing.T) {
	client, err := NewClient(testAPIKey, testAPISecret)
	require.NoError(t, err)
	u := client.StreamURL("abc123")
	assert.True(t, strings.HasSuffix(u, "/ws/abc123"), "got %s", u)
	_, parseErr := url.Parse(u)
	assert.NoError(t, parseErr)
}
