package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// ListenKey opens a user-data stream session and returns its key.
func (c *Client) ListenKey(ctx context.Context) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, false)
	if err != nil {
		return "", err
	}
	var raw struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("binance: parse listen key: %w", err)
	}
	if raw.ListenKey == "" {
		return "", fmt.Errorf("binance: empty listen key")
	}
	return raw.ListenKey, nil
}

// KeepAliveListenKey extends the user-data stream session. The exchange
// closes the stream if no keepalive arrives within 60 minutes.
func (c *Client) KeepAliveListenKey(ctx context.Context, key string) error {
	params := url.Values{}
	params.Set("listenKey", key)
	_, err := c.doRequest(ctx, http.MethodPut, "/fapi/v1/listenKey", params, false)
	return err
}

// StreamURL returns the websocket endpoint for a listen key.
func (c *Client) StreamURL(key string) string {
	return c.streamURL + key
}
