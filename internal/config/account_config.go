package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AccountsFile represents a YAML seed of relay accounts
type AccountsFile struct {
	Accounts []AccountEntry `yaml:"accounts"`
}

// AccountEntry represents a single seeded account
type AccountEntry struct {
	ID                string            `yaml:"id"`
	Email             string            `yaml:"email"`
	Name              string            `yaml:"name,omitempty"`
	Plan              string            `yaml:"plan,omitempty"`
	WebhookToken      string            `yaml:"webhook_token"`
	TelegramChatID    string            `yaml:"telegram_chat_id,omitempty"`
	DiscordWebhookURL string            `yaml:"discord_webhook_url,omitempty"`
	Notifications     NotificationEntry `yaml:"notifications"`
}

// NotificationEntry mirrors the per-channel preferences; unset means enabled
type NotificationEntry struct {
	Email    *bool `yaml:"email,omitempty"`
	Telegram *bool `yaml:"telegram,omitempty"`
	Discord  *bool `yaml:"discord,omitempty"`
}

// LoadAccountsFile loads account seeds from a YAML file
func LoadAccountsFile(filename string) (*AccountsFile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var file AccountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}

	for i, entry := range file.Accounts {
		if entry.ID == "" || entry.Email == "" || entry.WebhookToken == "" {
			return nil, fmt.Errorf("accounts[%d]: id, email and webhook_token are required", i)
		}
		if first := file.GetAccount(entry.ID); first != &file.Accounts[i] {
			return nil, fmt.Errorf("accounts[%d]: duplicate id %q", i, entry.ID)
		}
	}

	return &file, nil
}

// SaveAccountsFile writes account seeds to a YAML file
func SaveAccountsFile(file *AccountsFile, filename string) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal accounts file: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write accounts file: %w", err)
	}

	return nil
}

// GetAccount finds a seeded account by id
func (f *AccountsFile) GetAccount(id string) *AccountEntry {
	for i := range f.Accounts {
		if f.Accounts[i].ID == id {
			return &f.Accounts[i]
		}
	}
	return nil
}

// Enabled resolves an optional preference flag
func Enabled(flag *bool) bool {
	return flag == nil || *flag
}
