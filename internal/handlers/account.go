package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Cyvadra/tv-alert-relay/internal/models"
	"github.com/Cyvadra/tv-alert-relay/internal/services"
)

const maxPageSize = 100

// authenticated resolves the account addressed by the path, writing the error response when it fails
func (h *Handler) authenticated(c *gin.Context) (*models.Account, bool) {
	account, err := h.accounts.Authenticate(c.Request.Context(), c.Param("accountId"), c.Param("token"))
	if err != nil {
		h.fail(c, h.logger, err)
		return nil, false
	}
	return account, true
}

// GetAlerts retrieves an account's alerts with pagination
func (h *Handler) GetAlerts(c *gin.Context) {
	account, ok := h.authenticated(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > maxPageSize {
		limit = 10
	}
	status := c.Query("status")
	if status != "" && !models.AlertStatus(status).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid status filter"})
		return
	}

	alerts, total, err := h.alerts.ListAlerts(c.Request.Context(), account.ID, page, limit, status)
	if err != nil {
		h.fail(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// GetAlert retrieves one alert by its public ID
func (h *Handler) GetAlert(c *gin.Context) {
	account, ok := h.authenticated(c)
	if !ok {
		return
	}

	alert, err := h.alerts.GetAlert(c.Request.Context(), account.ID, c.Param("alertId"))
	if err != nil {
		h.fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// GetUsage reports the account's quota for today
func (h *Handler) GetUsage(c *gin.Context) {
	account, ok := h.authenticated(c)
	if !ok {
		return
	}

	usage, err := h.dispatcher.Usage(c.Request.Context(), account)
	if err != nil {
		h.fail(c, h.logger, err)
		return
	}
	rejected, err := h.alerts.CountSince(c.Request.Context(), account.ID, models.AlertStatusRateLimited, usage.DayStart)
	if err != nil {
		h.fail(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plan":             usage.Plan,
		"dailyAlertLimit":  usage.DailyAlertLimit,
		"alertsUsedToday":  usage.AlertsUsedToday,
		"remainingAlerts":  usage.RemainingAlerts,
		"rateLimitedToday": rejected,
	})
}

type notificationsRequest struct {
	Email    *bool `json:"email"`
	Telegram *bool `json:"telegram"`
	Discord  *bool `json:"discord"`
}

// UpdateNotifications applies a partial update of the account's notification preferences
func (h *Handler) UpdateNotifications(c *gin.Context) {
	account, ok := h.authenticated(c)
	if !ok {
		return
	}

	var req notificationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid notification settings"})
		return
	}

	updated, err := h.accounts.UpdateNotifications(c.Request.Context(), account.ID, services.Preferences{
		Email:    req.Email,
		Telegram: req.Telegram,
		Discord:  req.Discord,
	})
	if err != nil {
		h.fail(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"notifications": gin.H{
			"email":    updated.NotifyEmail,
			"telegram": updated.NotifyTelegram,
			"discord":  updated.NotifyDiscord,
		},
		"channels": updated.DeliverableChannels(),
	})
}

type discordRequest struct {
	WebhookURL string `json:"webhookUrl" binding:"required"`
}

// ConnectDiscord stores the Discord webhook alerts are posted to
func (h *Handler) ConnectDiscord(c *gin.Context) {
	account, ok := h.authenticated(c)
	if !ok {
		return
	}

	var req discordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "webhookUrl is required"})
		return
	}
	if err := h.accounts.SetDiscordWebhook(c.Request.Context(), account.ID, req.WebhookURL); err != nil {
		h.fail(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Discord webhook connected successfully"})
}

// DisconnectDiscord removes the account's Discord webhook
func (h *Handler) DisconnectDiscord(c *gin.Context) {
	account, ok := h.authenticated(c)
	if !ok {
		return
	}
	if err := h.accounts.SetDiscordWebhook(c.Request.Context(), account.ID, ""); err != nil {
		h.fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Discord webhook disconnected"})
}

// DiscordStatus reports whether a Discord webhook is configured
func (h *Handler) DiscordStatus(c *gin.Context) {
	account, ok := h.authenticated(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"connected": account.DiscordWebhookURL != "",
		"enabled":   account.NotifyDiscord,
	})
}

type connectRequest struct {
	Code string `json:"code" binding:"required"`
}

// ConnectTelegram links the chat that requested code to the account
func (h *Handler) ConnectTelegram(c *gin.Context) {
	account, ok := h.authenticated(c)
	if !ok {
		return
	}

	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "code is required"})
		return
	}

	chatID, err := h.codes.Redeem(req.Code)
	if err != nil {
		h.fail(c, h.logger, services.ErrInvalidCode)
		return
	}
	if err := h.accounts.LinkTelegram(c.Request.Context(), account.ID, chatID); err != nil {
		h.fail(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Telegram connected"})
}
