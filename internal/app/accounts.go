package app

import (
	"context"

	"github.com/Cyvadra/tv-alert-relay/internal/config"
	"github.com/Cyvadra/tv-alert-relay/internal/models"
	"github.com/Cyvadra/tv-alert-relay/internal/services"
)

// CreateAccount registers an account and returns it with its webhook token.
func (a *App) CreateAccount(ctx context.Context, req services.NewAccount) (*models.Account, error) {
	rt, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return rt.accounts.CreateAccount(ctx, req)
}

// UpdatePlan moves an account to another billing plan.
func (a *App) UpdatePlan(ctx context.Context, id, plan string) (*models.Account, error) {
	rt, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return rt.accounts.UpdatePlan(ctx, id, plan)
}

// RotateToken issues a new webhook token for an account.
func (a *App) RotateToken(ctx context.Context, id string) (string, error) {
	rt, err := a.openStore()
	if err != nil {
		return "", err
	}
	defer rt.Close()
	return rt.accounts.RotateWebhookToken(ctx, id)
}

// ImportAccounts upserts the accounts listed in a YAML file.
func (a *App) ImportAccounts(ctx context.Context, path string) (int, error) {
	rt, err := a.openStore()
	if err != nil {
		return 0, err
	}
	defer rt.Close()
	return a.importAccountsFile(ctx, rt.accounts, path)
}

// ExportAccounts writes every account to a YAML file in the import format.
func (a *App) ExportAccounts(ctx context.Context, path string) (int, error) {
	rt, err := a.openStore()
	if err != nil {
		return 0, err
	}
	defer rt.Close()

	file, err := rt.accounts.ExportAccounts(ctx)
	if err != nil {
		return 0, err
	}
	if err := config.SaveAccountsFile(file, path); err != nil {
		return 0, err
	}
	return len(file.Accounts), nil
}

// WebhookURL returns the public webhook URL of an account.
func (a *App) WebhookURL(account *models.Account) string {
	return a.Config.App.PublicURL + "/api/v1/webhook/" + account.ID + "/" + account.WebhookToken
}
