package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Cyvadra/tv-alert-relay/internal/config"
	"github.com/Cyvadra/tv-alert-relay/internal/models"
)

// NewAccount holds the fields needed to register an account
type NewAccount struct {
	Email    string
	Name     string
	Password string
	Plan     string
}

// Preferences is a partial update of notification preferences; nil leaves a flag unchanged
type Preferences struct {
	Email    *bool
	Telegram *bool
	Discord  *bool
}

// AccountService handles account-related operations
type AccountService struct {
	db      *gorm.DB
	billing config.BillingConfig
	logger  zerolog.Logger
	now     func() time.Time
}

// NewAccountService creates a new account service
func NewAccountService(db *gorm.DB, billing config.BillingConfig, logger zerolog.Logger) *AccountService {
	return &AccountService{
		db:      db,
		billing: billing,
		logger:  logger.With().Str("component", "accounts").Logger(),
		now:     time.Now,
	}
}

// LimitForPlan returns the daily alert limit of a plan
func (s *AccountService) LimitForPlan(plan string) (int, error) {
	limit, ok := s.billing.Plans[plan]
	if !ok {
		return 0, fmt.Errorf("%s: %w", plan, ErrUnknownPlan)
	}
	return limit, nil
}

// GetAccount retrieves an account by ID
func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	return &account, nil
}

// Authenticate returns the account when token matches its webhook token
func (s *AccountService) Authenticate(ctx context.Context, id, token string) (*models.Account, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(account.WebhookToken)) != 1 {
		return nil, ErrInvalidToken
	}
	return account, nil
}

// CreateAccount registers an account, hashing its password and issuing a webhook token
func (s *AccountService) CreateAccount(ctx context.Context, req NewAccount) (*models.Account, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	plan := req.Plan
	if plan == "" {
		plan = s.billing.DefaultPlan
	}
	limit, err := s.LimitForPlan(plan)
	if err != nil {
		return nil, err
	}

	var hash string
	if req.Password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		hash = string(b)
	}

	token, err := GenerateWebhookToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	account := models.Account{
		ID:              uuid.New().String(),
		Email:           email,
		Name:            req.Name,
		PasswordHash:    hash,
		Plan:            plan,
		PlanActivatedAt: now,
		DailyAlertLimit: limit,
		WebhookToken:    token,
		NotifyEmail:     true,
		NotifyTelegram:  true,
		NotifyDiscord:   true,
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.Account{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	if existing > 0 {
		return nil, ErrEmailTaken
	}

	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info().Str("account_id", account.ID).Str("plan", plan).Msg("account created")
	return &account, nil
}

// UpdatePlan switches an account to plan and applies its daily limit
func (s *AccountService) UpdatePlan(ctx context.Context, id, plan string) (*models.Account, error) {
	limit, err := s.LimitForPlan(plan)
	if err != nil {
		return nil, err
	}
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	account.Plan = plan
	account.DailyAlertLimit = limit
	account.PlanActivatedAt = s.now()
	if err := s.db.WithContext(ctx).Model(account).Select("plan", "daily_alert_limit", "plan_activated_at").Updates(account).Error; err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}

	s.logger.Info().Str("account_id", id).Str("plan", plan).Int("daily_alert_limit", limit).Msg("plan updated")
	return account, nil
}

// UpdateNotifications applies a partial update of notification preferences
func (s *AccountService) UpdateNotifications(ctx context.Context, id string, prefs Preferences) (*models.Account, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if prefs.Email != nil {
		account.NotifyEmail = *prefs.Email
	}
	if prefs.Telegram != nil {
		account.NotifyTelegram = *prefs.Telegram
	}
	if prefs.Discord != nil {
		account.NotifyDiscord = *prefs.Discord
	}
	if err := s.db.WithContext(ctx).Model(account).
		Select("notify_email", "notify_telegram", "notify_discord").
		Updates(account).Error; err != nil {
		return nil, fmt.Errorf("failed to update notifications: %w", err)
	}
	return account, nil
}

// SetDiscordWebhook stores the Discord webhook URL of an account; an empty URL disconnects Discord
func (s *AccountService) SetDiscordWebhook(ctx context.Context, id, webhookURL string) error {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL != "" {
		u, err := url.Parse(webhookURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return ErrInvalidWebhookURL
		}
	}
	if err := s.updateField(ctx, id, "discord_webhook_url", webhookURL); err != nil {
		return err
	}
	s.logger.Info().Str("account_id", id).Bool("connected", webhookURL != "").Msg("discord webhook updated")
	return nil
}

// LinkTelegram stores the chat an account receives Telegram alerts in
func (s *AccountService) LinkTelegram(ctx context.Context, id string, chatID int64) error {
	if err := s.updateField(ctx, id, "telegram_chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	s.logger.Info().Str("account_id", id).Int64("chat_id", chatID).Msg("telegram linked")
	return nil
}

// FindByTelegramChat returns the account linked to chatID
func (s *AccountService) FindByTelegramChat(ctx context.Context, chatID int64) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).
		Where("telegram_chat_id = ?", strconv.FormatInt(chatID, 10)).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	return &account, nil
}

// RotateWebhookToken issues a new webhook token, invalidating the old one
func (s *AccountService) RotateWebhookToken(ctx context.Context, id string) (string, error) {
	token, err := GenerateWebhookToken()
	if err != nil {
		return "", err
	}
	if err := s.updateField(ctx, id, "webhook_token", token); err != nil {
		return "", err
	}
	return token, nil
}

func (s *AccountService) updateField(ctx context.Context, id, column string, value interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("failed to update %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ImportAccounts upserts accounts from a YAML seed and returns how many were written
func (s *AccountService) ImportAccounts(ctx context.Context, file *config.AccountsFile) (int, error) {
	if file == nil {
		return 0, nil
	}

	now := s.now()
	accounts := make([]models.Account, 0, len(file.Accounts))
	for _, entry := range file.Accounts {
		plan := entry.Plan
		if plan == "" {
			plan = s.billing.DefaultPlan
		}
		limit, err := s.LimitForPlan(plan)
		if err != nil {
			return 0, fmt.Errorf("account %s: %w", entry.ID, err)
		}
		accounts = append(accounts, models.Account{
			ID:                entry.ID,
			Email:             strings.ToLower(strings.TrimSpace(entry.Email)),
			Name:              entry.Name,
			Plan:              plan,
			PlanActivatedAt:   now,
			DailyAlertLimit:   limit,
			WebhookToken:      entry.WebhookToken,
			TelegramChatID:    entry.TelegramChatID,
			DiscordWebhookURL: entry.DiscordWebhookURL,
			NotifyEmail:       config.Enabled(entry.Notifications.Email),
			NotifyTelegram:    config.Enabled(entry.Notifications.Telegram),
			NotifyDiscord:     config.Enabled(entry.Notifications.Discord),
		})
	}
	if len(accounts) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "name", "plan", "daily_alert_limit", "webhook_token",
			"telegram_chat_id", "discord_webhook_url",
			"notify_email", "notify_telegram", "notify_discord", "updated_at",
		}),
	}).Create(&accounts).Error
	if err != nil {
		return 0, fmt.Errorf("failed to import accounts: %w", err)
	}

	s.logger.Info().Int("count", len(accounts)).Msg("accounts imported")
	return len(accounts), nil
}

// GenerateWebhookToken returns 32 random bytes hex-encoded
func GenerateWebhookToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate webhook token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ExportAccounts returns every account as a YAML seed that ImportAccounts can read back
func (s *AccountService) ExportAccounts(ctx context.Context) (*config.AccountsFile, error) {
	var accounts []models.Account
	if err := s.db.WithContext(ctx).Order("id").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	file := &config.AccountsFile{Accounts: make([]config.AccountEntry, 0, len(accounts))}
	for i := range accounts {
		a := &accounts[i]
		email, telegram, discord := a.NotifyEmail, a.NotifyTelegram, a.NotifyDiscord
		file.Accounts = append(file.Accounts, config.AccountEntry{
			ID:                a.ID,
			Email:             a.Email,
			Name:              a.Name,
			Plan:              a.Plan,
			WebhookToken:      a.WebhookToken,
			TelegramChatID:    a.TelegramChatID,
			DiscordWebhookURL: a.DiscordWebhookURL,
			Notifications: config.NotificationEntry{
				Email:    &email,
				Telegram: &telegram,
				Discord:  &discord,
			},
		})
	}
	return file, nil
}
