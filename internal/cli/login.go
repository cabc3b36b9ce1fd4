package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mgit-dev/mgit/internal/account"
	"github.com/mgit-dev/mgit/internal/provider"

	_ "github.com/mgit-dev/mgit/internal/provider/azuredevops"
	_ "github.com/mgit-dev/mgit/internal/provider/bitbucket"
	_ "github.com/mgit-dev/mgit/internal/provider/github"
)

var (
	loginProvider   string
	loginName       string
	loginBaseURL    string
	loginToken      string
	loginUsername   string
	loginDefaultOrg string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Add and validate a provider account",
	Long: `login prompts for (or accepts via flags) the credentials for one
provider account, validates them against the provider, and persists them to
the local account store.

Examples:
  mgit login --provider github --name acme-gh --token $GITHUB_TOKEN
  mgit login --provider azure-devops --name acme-ado --base-url https://dev.azure.com/acme --token $ADO_PAT
  mgit login --provider bitbucket --name acme-bb --username me --token $APP_PASSWORD`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVar(&loginProvider, "provider", "", "provider kind: azure-devops, github, or bitbucket")
	loginCmd.Flags().StringVar(&loginName, "name", "", "account name to store credentials under")
	loginCmd.Flags().StringVar(&loginBaseURL, "base-url", "", "organization URL (Azure DevOps) or API base URL")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "access token / personal access token / app password")
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "username (Bitbucket app-password auth only)")
	loginCmd.Flags().StringVar(&loginDefaultOrg, "default-org", "", "default organization for this account")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := promptMissingLoginFields(); err != nil {
		return err
	}

	acc := provider.Account{
		Name:       loginName,
		Kind:       provider.Kind(loginProvider),
		BaseURL:    loginBaseURL,
		Token:      loginToken,
		Username:   loginUsername,
		DefaultOrg: loginDefaultOrg,
	}

	adapter, err := provider.New(acc)
	if err != nil {
		return err
	}

	pterm.Info.Println("validating credentials...")
	authCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := adapter.Authenticate(authCtx); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrAuth, err)
	}

	store, err := account.NewFileStore(account.DefaultStorePath())
	if err != nil {
		return err
	}
	if err := store.Save(acc); err != nil {
		return err
	}

	pterm.Success.Printf("account %q saved\n", acc.Name)
	return nil
}

func promptMissingLoginFields() error {
	if loginProvider == "" {
		if err := survey.AskOne(&survey.Select{
			Message: "Provider:",
			Options: []string{string(provider.KindGitHub), string(provider.KindAzureDevOps), string(provider.KindBitbucket)},
		}, &loginProvider); err != nil {
			return err
		}
	}
	if loginName == "" {
		if err := survey.AskOne(&survey.Input{Message: "Account name:"}, &loginName, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	if provider.Kind(loginProvider) == provider.KindAzureDevOps && loginBaseURL == "" {
		if err := survey.AskOne(&survey.Input{Message: "Organization URL:"}, &loginBaseURL, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	if provider.Kind(loginProvider) == provider.KindBitbucket && loginUsername == "" {
		if err := survey.AskOne(&survey.Input{Message: "Username:"}, &loginUsername, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	if loginToken == "" {
		if err := survey.AskOne(&survey.Password{Message: "Token / app password:"}, &loginToken, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	return nil
}
