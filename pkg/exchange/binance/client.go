package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/ratelimit"
)

const (
	mainnetBaseURL   = "https://fapi.binance.com"
	testnetBaseURL   = "https://testnet.binancefuture.com"
	mainnetStreamURL = "wss://fstream.binance.com/ws/"
	testnetStreamURL = "wss://stream.binancefuture.com/ws/"

	defaultHTTPTimeout = 10 * time.Second
	defaultRecvWindow  = "5000"
	defaultRequestsPS  = 8
)

// Client issues signed REST requests against the Binance USD-M futures API.
type Client struct {
	baseURL    string
	streamURL  string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	logger     *log.Logger
	clock      func() time.Time

	mu         sync.RWMutex
	timeOffset int64 // serverTime - localTime, milliseconds
}

// ClientOption customises the Binance client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBaseURL points the client at an alternative REST endpoint. Primarily
// for tests against httptest servers.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithTestnet switches REST and stream endpoints to the futures testnet.
func WithTestnet(testnet bool) ClientOption {
	return func(c *Client) {
		if testnet {
			c.baseURL = testnetBaseURL
			c.streamURL = testnetStreamURL
		}
	}
}

// WithLogger attaches a custom logger (defaults to log.Default()).
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source (primarily for testing).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRateLimit sets the request budget in requests per second.
func WithRateLimit(rps int) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = ratelimit.New(rps)
		}
	}
}

// NewClient constructs a client for the given API credentials.
func NewClient(apiKey, apiSecret string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("binance: api key and secret are required")
	}
	c := &Client{
		baseURL:    mainnetBaseURL,
		streamURL:  mainnetStreamURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		limiter:    ratelimit.New(defaultRequestsPS),
		logger:     log.Default(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SyncTime aligns the client clock with the exchange server clock. Signed
// requests drift outside the recv window without it.
func (c *Client) SyncTime(ctx context.Context) error {
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/time", nil, false)
	if err != nil {
		return err
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("binance: parse server time: %w", err)
	}
	c.mu.Lock()
	c.timeOffset = out.ServerTime - c.clock().UnixMilli()
	c.mu.Unlock()
	return nil
}

func (c *Client) serverNow() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clock().UnixMilli() + c.timeOffset
}

func (c *Client) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest executes one REST call. Signed requests get timestamp, recvWindow
// and an HMAC signature over the encoded query string.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	c.limiter.Take()

	if params == nil {
		params = url.Values{}
	}
	reqURL, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("binance: parse url: %w", err)
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(c.serverNow(), 10))
		params.Set("recvWindow", defaultRecvWindow)
	}
	reqURL.RawQuery = params.Encode()
	if signed {
		reqURL.RawQuery += "&signature=" + c.sign(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("binance: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"msg"`
		}
		if err := json.Unmarshal(body, &apiErr); err != nil {
			return nil, &APIError{HTTPStatus: resp.StatusCode, Message: string(body)}
		}
		return nil, &APIError{HTTPStatus: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}
	return body, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
