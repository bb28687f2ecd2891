package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iotdash/iotdash/internal/model"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	cmd.AddCommand(newAccountCreateCmd())
	cmd.AddCommand(newAccountListCmd())

	return cmd
}

// ---------- account create ----------

func newAccountCreateCmd() *cobra.Command {
	var (
		name  string
		owner string
	)

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create an account owned by an existing user",
		Example: `  iotdash account create --name Greenhouse --owner alice@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountCreate(name, owner)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Account name (required)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner user id or email; becomes the account admin (required)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runAccountCreate(name, owner string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open directory store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	u, err := findUser(ctx, store, owner)
	if err != nil {
		return err
	}
	acct := &model.Account{Name: name}
	if err := store.CreateAccount(ctx, acct, u.ID); err != nil {
		return fmt.Errorf("create account: %w", err)
	}

	fmt.Printf("Created account %q\n", acct.Name)
	fmt.Printf("  ID:    %s\n", acct.ID)
	fmt.Printf("  Admin: %s\n", u.Email)
	return nil
}

// ---------- account list ----------

func newAccountListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAccountList(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open directory store: %w", err)
	}
	defer store.Close()

	accounts, err := store.ListAccounts(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		if accounts == nil {
			accounts = []model.Account{}
		}
		return printJSON(accounts)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts yet. Use 'iotdash account create' to create one.")
		return nil
	}

	fmt.Printf("%-36s %-30s\n", "ID", "NAME")
	fmt.Printf("%-36s %-30s\n", "--", "----")
	for _, a := range accounts {
		fmt.Printf("%-36s %-30s\n", a.ID, a.Name)
	}
	return nil
}
