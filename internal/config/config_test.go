package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "server:\n  port: \"9090\"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr())
	assert.Equal(t, "UTC", cfg.App.Timezone)
	assert.Equal(t, "database", cfg.RateLimit.Backend)
	assert.Equal(t, "@hourly", cfg.RateLimit.SweepSchedule)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.ChannelTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Telegram.CodeTTL)
	assert.Equal(t, 7, cfg.Billing.Plans["free"])
	assert.Equal(t, 100, cfg.Billing.Plans["pro"])
	assert.Equal(t, "free", cfg.Billing.DefaultPlan)
	assert.Equal(t, []string{"BINANCE"}, cfg.Quotes.Exchanges)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "app:\n  name: relay\n")
	t.Setenv("TVRELAY_DISPATCH_CHANNEL_TIMEOUT", "3s")
	t.Setenv("TVRELAY_TELEGRAM_ENABLED", "true")
	t.Setenv("TVRELAY_TELEGRAM_TOKEN", "123:abc")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Dispatch.ChannelTimeout)
	assert.True(t, cfg.Telegram.Enabled)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:       AppConfig{Timezone: "UTC"},
			RateLimit: RateLimitConfig{Backend: "memory"},
			Dispatch:  DispatchConfig{ChannelTimeout: time.Second},
			Billing:   BillingConfig{DefaultPlan: "free", Plans: map[string]int{"free": 7}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad timezone", mutate: func(c *Config) { c.App.Timezone = "Mars/Olympus" }, wantErr: "app.timezone"},
		{name: "unknown backend", mutate: func(c *Config) { c.RateLimit.Backend = "redis" }, wantErr: "rate_limit.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.RateLimit.Backend = "postgres" }, wantErr: "postgres_dsn"},
		{name: "zero channel timeout", mutate: func(c *Config) { c.Dispatch.ChannelTimeout = 0 }, wantErr: "channel_timeout"},
		{name: "negative plan", mutate: func(c *Config) { c.Billing.Plans["free"] = -1 }, wantErr: "cannot be negative"},
		{name: "unknown default plan", mutate: func(c *Config) { c.Billing.DefaultPlan = "gold" }, wantErr: "default_plan"},
		{name: "telegram without token", mutate: func(c *Config) { c.Telegram.Enabled = true }, wantErr: "telegram.token"},
		{name: "email without key", mutate: func(c *Config) { c.Email.Enabled = true }, wantErr: "email.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadAccountsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "accounts.yaml", `
accounts:
  - id: acct-1
    email: one@example.com
    plan: pro
    webhook_token: secret-1
    telegram_chat_id: "42"
    notifications:
      discord: false
  - id: acct-2
    email: two@example.com
    webhook_token: secret-2
`)

	file, err := LoadAccountsFile(path)
	require.NoError(t, err)
	require.Len(t, file.Accounts, 2)

	one := file.GetAccount("acct-1")
	require.NotNil(t, one)
	assert.Equal(t, "pro", one.Plan)
	assert.Equal(t, "42", one.TelegramChatID)
	assert.True(t, Enabled(one.Notifications.Telegram))
	assert.False(t, Enabled(one.Notifications.Discord))
	assert.Nil(t, file.GetAccount("missing"))

	out := filepath.Join(dir, "copy.yaml")
	require.NoError(t, SaveAccountsFile(file, out))
	again, err := LoadAccountsFile(out)
	require.NoError(t, err)
	assert.Equal(t, file.Accounts[1].Email, again.Accounts[1].Email)
}

func TestLoadAccountsFileRequiresFields(t *testing.T) {
	path := writeFile(t, t.TempDir(), "accounts.yaml", "accounts:\n  - id: a\n    email: a@example.com\n")
	_, err := LoadAccountsFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook_token")
}

func TestWatchFileDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "accounts.yaml", "accounts: []\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- WatchFile(ctx, path, 50*time.Millisecond, zerolog.Nop(), func() { calls.Add(1) })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		writeFile(t, dir, "accounts.yaml", "accounts: []\n")
	}
	writeFile(t, dir, "unrelated.yaml", "x: 1\n")

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestLoadAccountsFileRejectsDuplicateIDs(t *testing.T) {
	path := writeFile(t, t.TempDir(), "accounts.yaml", `
accounts:
  - id: a
    email: a@example.com
    webhook_token: one
  - id: a
    email: b@example.com
    webhook_token: two
`)
	_, err := LoadAccountsFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate id "a"`)
}
