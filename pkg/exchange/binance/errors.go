package binance

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// APIError is a structured exchange rejection. Code carries the venue error
// code (negative numbers), HTTPStatus the transport status.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: api error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Venue error codes the engine needs to distinguish.
const (
	codeTooManyRequests = -1003
	codeTimeout         = -1007
	codeServerBusy      = -1008
)

// Transient reports whether the failure is worth retrying with backoff.
// Terminal rejections (bad quantity, insufficient margin, unknown symbol)
// must surface to the caller unretried.
func (e *APIError) Transient() bool {
	switch e.Code {
	case codeTooManyRequests, codeTimeout, codeServerBusy:
		return true
	}
	return e.HTTPStatus >= http.StatusInternalServerError ||
		e.HTTPStatus == http.StatusTooManyRequests
}

// IsTransient classifies any error from this package: API errors by code,
// transport errors as retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
