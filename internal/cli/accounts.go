package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Cyvadra/tv-alert-relay/internal/services"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage relay accounts",
}

var newAccount services.NewAccount

var accountsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register an account and print its webhook URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		account, err := a.CreateAccount(cmd.Context(), newAccount)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id: %s\n", account.ID)
		fmt.Fprintf(out, "plan: %s (%d alerts/day)\n", account.Plan, account.DailyAlertLimit)
		fmt.Fprintf(out, "webhook: %s\n", a.WebhookURL(account))
		return nil
	},
}

var accountsPlanCmd = &cobra.Command{
	Use:   "plan <account-id> <plan>",
	Short: "Move an account to another billing plan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, err := getApp().UpdatePlan(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d alerts/day)\n", account.ID, account.Plan, account.DailyAlertLimit)
		return nil
	},
}

var accountsRotateCmd = &cobra.Command{
	Use:   "rotate-token <account-id>",
	Short: "Issue a new webhook token, invalidating the old URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := getApp().RotateToken(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var accountsImportCmd = &cobra.Command{
	Use:   "import <accounts.yaml>",
	Short: "Upsert accounts from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := getApp().ImportAccounts(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d accounts\n", n)
		return nil
	},
}

var accountsExportCmd = &cobra.Command{
	Use:   "export <accounts.yaml>",
	Short: "Write all accounts to a YAML file that import can read back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := getApp().ExportAccounts(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d accounts\n", n)
		return nil
	},
}

func init() {
	accountsCreateCmd.Flags().StringVar(&newAccount.Email, "email", "", "Account e-mail (required)")
	accountsCreateCmd.Flags().StringVar(&newAccount.Name, "name", "", "Display name")
	accountsCreateCmd.Flags().StringVar(&newAccount.Password, "password", "", "Dashboard password")
	accountsCreateCmd.Flags().StringVar(&newAccount.Plan, "plan", "", "Billing plan (defaults to billing.default_plan)")
	_ = accountsCreateCmd.MarkFlagRequired("email")

	accountsCmd.AddCommand(accountsCreateCmd, accountsPlanCmd, accountsRotateCmd, accountsImportCmd, accountsExportCmd)
}
