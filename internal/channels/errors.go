package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// Common channel errors
var (
	ErrNotConfigured      = errors.New("channel not configured")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrRejected           = errors.New("rejected by remote service")
)

// Error codes carried by DeliveryError
const (
	CodeInvalidDestination = "INVALID_DESTINATION"
	CodeNetwork            = "NETWORK_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeRateLimit          = "RATE_LIMIT"
	CodeServer             = "SERVER_ERROR"
	CodeRejected           = "REJECTED"
)

// DeliveryError represents a failed delivery on one channel
type DeliveryError struct {
	Channel string `json:"channel"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Channel, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Channel, e.Code, e.Message)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError creates a new delivery error
func NewDeliveryError(channel, code, message string, err error) *DeliveryError {
	return &DeliveryError{
		Channel: channel,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsTemporary checks if a delivery error may succeed on retry
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		switch deliveryErr.Code {
		case CodeNetwork, CodeTimeout, CodeRateLimit, CodeServer:
			return true
		}
	}
	return false
}

// transportError classifies an error returned before any response arrived
func transportError(channel string, err error) *DeliveryError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewDeliveryError(channel, CodeTimeout, "request timed out", err)
	}
	return NewDeliveryError(channel, CodeNetwork, "request failed", err)
}

// statusError classifies a non-2xx HTTP response
func statusError(channel string, status int, body string) *DeliveryError {
	msg := fmt.Sprintf("remote returned status %d", status)
	if body != "" {
		msg = fmt.Sprintf("%s: %s", msg, truncate(body, 200))
	}
	switch {
	case status == http.StatusTooManyRequests:
		return NewDeliveryError(channel, CodeRateLimit, msg, ErrRejected)
	case status >= 500:
		return NewDeliveryError(channel, CodeServer, msg, ErrRejected)
	default:
		return NewDeliveryError(channel, CodeRejected, msg, ErrRejected)
	}
}

// truncate shortens s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
