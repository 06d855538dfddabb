package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Cyvadra/tv-alert-relay/internal/formatter"
	"github.com/Cyvadra/tv-alert-relay/internal/linking"
	"github.com/Cyvadra/tv-alert-relay/internal/services"
)

// maxBodyBytes bounds an inbound alert body
const maxBodyBytes = 64 << 10

// Handler serves the webhook and the account read API
type Handler struct {
	accounts   *services.AccountService
	alerts     *services.AlertService
	dispatcher *services.Dispatcher
	codes      *linking.Store
	logger     zerolog.Logger
}

// NewHandler creates a new handler
func NewHandler(
	accounts *services.AccountService,
	alerts *services.AlertService,
	dispatcher *services.Dispatcher,
	codes *linking.Store,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		accounts:   accounts,
		alerts:     alerts,
		dispatcher: dispatcher,
		codes:      codes,
		logger:     logger.With().Str("component", "http").Logger(),
	}
}

// HandleWebhook handles incoming TradingView alerts
func (h *Handler) HandleWebhook(c *gin.Context) {
	accountID := c.Param("accountId")
	log := h.logger.With().Str("account_id", accountID).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn().Int64("limit", tooLarge.Limit).Msg("request body too large")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": "Alert body is too large"})
			return
		}
		log.Warn().Err(err).Msg("failed to read request body")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Failed to read request body"})
		return
	}

	payload := formatter.Parse(body)
	if payload.Empty() && !payload.Test {
		log.Warn().Int("bytes", len(body)).Msg("alert body carries no fields")
	}

	account, err := h.accounts.Authenticate(c.Request.Context(), accountID, c.Param("token"))
	if err != nil {
		h.fail(c, log, err)
		return
	}

	if payload.Test {
		summary, err := h.dispatcher.Test(c.Request.Context(), account.ID)
		if err != nil {
			h.fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"message":         "Test notification sent",
			"remainingAlerts": summary.RemainingAlerts,
			"notifications":   summary.Notifications(),
		})
		return
	}

	summary, err := h.dispatcher.Dispatch(c.Request.Context(), account.ID, payload)
	if err != nil {
		h.fail(c, log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         "Alert processed successfully",
		"alertId":         summary.AlertID,
		"remainingAlerts": summary.RemainingAlerts,
		"notifications":   summary.Notifications(),
	})
}

// fail maps service errors onto status codes
func (h *Handler) fail(c *gin.Context, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Invalid webhook ID"})
	case errors.Is(err, services.ErrInvalidToken):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Invalid webhook token"})
	case errors.Is(err, services.ErrRateLimitExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":         false,
			"message":         "Daily alert limit reached",
			"remainingAlerts": 0,
		})
	case errors.Is(err, services.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Alert not found"})
	case errors.Is(err, services.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid or expired connection code"})
	case errors.Is(err, services.ErrInvalidWebhookURL):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid Discord webhook URL"})
	default:
		log.Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to process alert"})
	}
}
