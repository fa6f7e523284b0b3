// Package notify pushes fire-and-forget event notifications to an external
// webhook after major state transitions. Delivery failures are logged and
// never propagate into the trading path.
package notify

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"resty.dev/v3"
)

const defaultTimeout = 5 * time.Second

// Event is one notification document.
type Event struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side,omitempty"`
	Type   string  `json:"type"`
	Msg    string  `json:"msg"`
	Entry  float64 `json:"entry,omitempty"`
}

// Client posts events to a single webhook endpoint. A client with an empty
// endpoint swallows every event, which keeps call sites unconditional.
type Client struct {
	http     *resty.Client
	endpoint string
	logger   logx.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithAuthToken sets a bearer token on every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.http.SetAuthToken(token)
		}
	}
}

// NewClient builds a notification client for the endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		http:     resty.New().SetTimeout(defaultTimeout),
		endpoint: endpoint,
		logger:   logx.WithContext(context.Background()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the underlying transport.
func (c *Client) Close() {
	if c.http != nil {
		c.http.Close()
	}
}

// Notify posts the event. Errors are logged, never returned.
func (c *Client) Notify(ctx context.Context, ev Event) {
	if c.endpoint == "" {
		return
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ev).
		Post(c.endpoint)
	if err != nil {
		c.logger.Errorf("notify: post %s event for %s: %v", ev.Type, ev.Symbol, err)
		return
	}
	if res.IsError() {
		c.logger.Errorf("notify: endpoint returned %s for %s event on %s", res.Status(), ev.Type, ev.Symbol)
	}
}
