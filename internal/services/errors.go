package services

import "errors"

// Common service errors
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidToken      = errors.New("invalid webhook token")
	ErrRateLimitExceeded = errors.New("daily alert limit reached")
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrInvalidCode       = errors.New("invalid or expired connection code")
	ErrAlertNotFound     = errors.New("alert not found")
	ErrEmailTaken        = errors.New("email already registered")
	ErrAppendOnly        = errors.New("alert records are append-only")
	ErrInvalidWebhookURL = errors.New("invalid discord webhook url")
)
