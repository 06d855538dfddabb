package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyvadra/tv-alert-relay/internal/channels"
	"github.com/Cyvadra/tv-alert-relay/internal/config"
	"github.com/Cyvadra/tv-alert-relay/internal/database"
	"github.com/Cyvadra/tv-alert-relay/internal/formatter"
	"github.com/Cyvadra/tv-alert-relay/internal/linking"
	"github.com/Cyvadra/tv-alert-relay/internal/metrics"
	"github.com/Cyvadra/tv-alert-relay/internal/models"
	"github.com/Cyvadra/tv-alert-relay/internal/ratecounter"
	"github.com/Cyvadra/tv-alert-relay/internal/services"
)

type recordingChannel struct {
	kind string
	err  error

	mu   sync.Mutex
	sent []formatter.Message
}

func (r *recordingChannel) Kind() string { return r.kind }

func (r *recordingChannel) Deliver(_ context.Context, _ string, msg formatter.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

func (r *recordingChannel) messages() []formatter.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]formatter.Message(nil), r.sent...)
}

type harness struct {
	router   *gin.Engine
	accounts *services.AccountService
	account  *models.Account
	telegram *recordingChannel
	codes    *linking.Store
}

func newHarness(t *testing.T, telegramErr error) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "relay.db"),
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	billing := config.BillingConfig{DefaultPlan: "free", Plans: map[string]int{"free": 2}}
	accounts := services.NewAccountService(db, billing, zerolog.Nop())
	alerts := services.NewAlertService(db)

	account, err := accounts.CreateAccount(context.Background(), services.NewAccount{Email: "trader@example.com"})
	require.NoError(t, err)
	require.NoError(t, accounts.LinkTelegram(context.Background(), account.ID, 4242))
	off := false
	account, err = accounts.UpdateNotifications(context.Background(), account.ID, services.Preferences{Email: &off})
	require.NoError(t, err)

	telegram := &recordingChannel{kind: models.ChannelTelegram, err: telegramErr}
	dispatcher := services.NewDispatcher(
		accounts,
		ratecounter.NewMemoryCounter(ratecounter.NewCalendar(time.UTC, nil)),
		alerts,
		channels.NewRegistry(telegram),
		formatter.New(time.UTC),
		metrics.New(),
		services.DispatcherOptions{ChannelTimeout: time.Second},
		zerolog.Nop(),
	)
	codes := linking.NewStore(time.Minute, nil)
	h := NewHandler(accounts, alerts, dispatcher, codes, zerolog.Nop())

	r := gin.New()
	r.POST("/webhook/:accountId/:token", h.HandleWebhook)
	r.GET("/accounts/:accountId/:token/alerts", h.GetAlerts)
	r.GET("/accounts/:accountId/:token/alerts/:alertId", h.GetAlert)
	r.GET("/accounts/:accountId/:token/usage", h.GetUsage)
	r.PUT("/accounts/:accountId/:token/notifications", h.UpdateNotifications)
	r.POST("/accounts/:accountId/:token/telegram/connect", h.ConnectTelegram)
	r.GET("/accounts/:accountId/:token/discord/status", h.DiscordStatus)
	r.POST("/accounts/:accountId/:token/discord/connect", h.ConnectDiscord)
	r.DELETE("/accounts/:accountId/:token/discord", h.DisconnectDiscord)

	return &harness{router: r, accounts: accounts, account: account, telegram: telegram, codes: codes}
}

func (h *harness) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if strings.HasPrefix(strings.TrimSpace(body), "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func (h *harness) webhook() string {
	return "/webhook/" + h.account.ID + "/" + h.account.WebhookToken
}

func (h *harness) accountPath(suffix string) string {
	return "/accounts/" + h.account.ID + "/" + h.account.WebhookToken + suffix
}

func TestWebhookDeliversAndCountsDown(t *testing.T) {
	h := newHarness(t, nil)

	w, resp := h.do(t, http.MethodPost, h.webhook(), `{"symbol":"BTCUSDT","exchange":"BINANCE","price":50000,"message":"Cross up"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.EqualValues(t, 1, resp["remainingAlerts"])
	assert.NotEmpty(t, resp["alertId"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"channel": "telegram", "delivered": true},
	}, resp["notifications"])

	sent := h.telegram.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "BTCUSDT")
	assert.Contains(t, sent[0].Text, "Cross up")

	w, resp = h.do(t, http.MethodPost, h.webhook(), "plain text alert")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, resp["remainingAlerts"])

	w, resp = h.do(t, http.MethodPost, h.webhook(), `{"symbol":"ETHUSDT"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.EqualValues(t, 0, resp["remainingAlerts"])
	assert.Len(t, h.telegram.messages(), 2, "rate limited alert is not delivered")

	w, resp = h.do(t, http.MethodGet, h.accountPath("/alerts?status=rate_limited"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, resp["total"])

	w, resp = h.do(t, http.MethodGet, h.accountPath("/alerts"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, resp["total"])
}

func TestWebhookAuthFailures(t *testing.T) {
	h := newHarness(t, nil)

	w, resp := h.do(t, http.MethodPost, "/webhook/"+h.account.ID+"/wrong", `{"symbol":"X"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, false, resp["success"])

	w, _ = h.do(t, http.MethodPost, "/webhook/missing/"+h.account.WebhookToken, `{"symbol":"X"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, h.telegram.messages())
}

func TestWebhookTestModeLeavesUsage(t *testing.T) {
	h := newHarness(t, nil)

	w, resp := h.do(t, http.MethodPost, h.webhook(), `{"test":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.EqualValues(t, 2, resp["remainingAlerts"])

	sent := h.telegram.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, services.TestMessage, sent[0].Text)

	w, resp = h.do(t, http.MethodGet, h.accountPath("/usage"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, resp["alertsUsedToday"])
	assert.EqualValues(t, 2, resp["remainingAlerts"])
	assert.Equal(t, "free", resp["plan"])

	_, resp = h.do(t, http.MethodGet, h.accountPath("/alerts"), "")
	assert.EqualValues(t, 0, resp["total"])
}

func TestWebhookChannelFailureIsNotAnError(t *testing.T) {
	h := newHarness(t, errors.New("chat not found"))

	w, resp := h.do(t, http.MethodPost, h.webhook(), `{"symbol":"BTCUSDT"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{
		map[string]interface{}{"channel": "telegram", "delivered": false, "error": "chat not found"},
	}, resp["notifications"])
}

func TestGetAlert(t *testing.T) {
	h := newHarness(t, nil)

	_, resp := h.do(t, http.MethodPost, h.webhook(), `{"symbol":"BTCUSDT"}`)
	id, _ := resp["alertId"].(string)
	require.NotEmpty(t, id)

	w, resp := h.do(t, http.MethodGet, h.accountPath("/alerts/"+id), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, resp["id"])
	assert.Equal(t, "triggered", resp["status"])
	assert.Equal(t, "BTCUSDT", resp["symbol"])

	w, _ = h.do(t, http.MethodGet, h.accountPath("/alerts/nope"), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = h.do(t, http.MethodGet, h.accountPath("/alerts?status=received"), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConnectTelegram(t *testing.T) {
	h := newHarness(t, nil)

	code, err := h.codes.Issue(9001)
	require.NoError(t, err)

	w, resp := h.do(t, http.MethodPost, h.accountPath("/telegram/connect"), `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])

	linked, err := h.accounts.FindByTelegramChat(context.Background(), 9001)
	require.NoError(t, err)
	assert.Equal(t, h.account.ID, linked.ID)

	w, _ = h.do(t, http.MethodPost, h.accountPath("/telegram/connect"), `{"code":"`+code+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "codes are single use")

	w, _ = h.do(t, http.MethodPost, h.accountPath("/telegram/connect"), `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	h := newHarness(t, nil)

	body := `{"symbol":"BTCUSDT","message":"` + strings.Repeat("x", 70<<10) + `"}`
	w, resp := h.do(t, http.MethodPost, h.webhook(), body)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.NotEmpty(t, resp["message"])
	assert.Empty(t, h.telegram.messages())

	_, resp = h.do(t, http.MethodGet, h.accountPath("/usage"), "")
	assert.EqualValues(t, 0, resp["alertsUsedToday"])
	assert.EqualValues(t, 2, resp["remainingAlerts"])

	_, resp = h.do(t, http.MethodGet, h.accountPath("/alerts"), "")
	assert.EqualValues(t, 0, resp["total"])

	w, _ = h.do(t, http.MethodPost, h.webhook(), `{"symbol":"BTCUSDT","message":"`+strings.Repeat("x", 60<<10)+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	sent := h.telegram.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, strings.Repeat("x", 60<<10))
}

func TestGetUsageReportsRateLimited(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 3; i++ {
		h.do(t, http.MethodPost, h.webhook(), `{"symbol":"BTCUSDT"}`)
	}

	w, resp := h.do(t, http.MethodGet, h.accountPath("/usage"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, resp["dailyAlertLimit"])
	assert.EqualValues(t, 2, resp["alertsUsedToday"])
	assert.EqualValues(t, 0, resp["remainingAlerts"])
	assert.EqualValues(t, 1, resp["rateLimitedToday"])
}

func TestUpdateNotifications(t *testing.T) {
	h := newHarness(t, nil)

	w, resp := h.do(t, http.MethodPut, h.accountPath("/notifications"), `{"telegram":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"email": false, "telegram": false, "discord": true}, resp["notifications"])
	assert.Empty(t, resp["channels"])

	w, _ = h.do(t, http.MethodPost, h.webhook(), `{"symbol":"BTCUSDT"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, h.telegram.messages(), "disabled channel is skipped")

	w, resp = h.do(t, http.MethodPut, h.accountPath("/notifications"), `{"telegram":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"telegram"}, resp["channels"])

	w, _ = h.do(t, http.MethodPut, h.accountPath("/notifications"), `{"telegram":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = h.do(t, http.MethodPut, "/accounts/"+h.account.ID+"/wrong/notifications", `{"telegram":true}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConnectDiscord(t *testing.T) {
	h := newHarness(t, nil)

	w, resp := h.do(t, http.MethodGet, h.accountPath("/discord/status"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["connected"])

	w, _ = h.do(t, http.MethodPost, h.accountPath("/discord/connect"), `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = h.do(t, http.MethodPost, h.accountPath("/discord/connect"), `{"webhookUrl":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["success"])

	w, resp = h.do(t, http.MethodPost, h.accountPath("/discord/connect"), `{"webhookUrl":"https://discord.com/api/webhooks/1/abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])

	_, resp = h.do(t, http.MethodGet, h.accountPath("/discord/status"), "")
	assert.Equal(t, true, resp["connected"])

	account, err := h.accounts.GetAccount(context.Background(), h.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://discord.com/api/webhooks/1/abc", account.DiscordWebhookURL)

	w, _ = h.do(t, http.MethodDelete, h.accountPath("/discord"), "")
	require.Equal(t, http.StatusOK, w.Code)
	_, resp = h.do(t, http.MethodGet, h.accountPath("/discord/status"), "")
	assert.Equal(t, false, resp["connected"])
}
