package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/iotdash/iotdash/internal/config"
	"github.com/iotdash/iotdash/internal/model"
	"github.com/iotdash/iotdash/internal/service"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage dashboard users",
		Long:  "Create and list users in the directory and change their global role.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserGrantCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Example: `  iotdash user create --email ops@example.com --role sysadmin
  iotdash user create --email alice@example.com --password secret123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, password, name, role)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "User password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", model.RoleUser, "Global role: user, sysadmin or system")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(email, password, name, role string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	if !model.IsGlobalRole(role) {
		return fmt.Errorf("invalid global role %q (want one of %s)", role, strings.Join(model.GlobalRoles, ", "))
	}

	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}
	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open directory store: %w", err)
	}
	defer store.Close()

	u := &model.User{Email: email, PasswordHash: hash, Name: name, Role: role}
	if err := store.CreateUser(context.Background(), u); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created user %q\n", u.Email)
	fmt.Printf("  ID:   %s\n", u.ID)
	fmt.Printf("  Role: %s\n", u.Role)
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open directory store: %w", err)
	}
	defer store.Close()

	users, err := store.ListUsers(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		if users == nil {
			users = []model.User{}
		}
		return printJSON(users)
	}

	if len(users) == 0 {
		fmt.Println("No users yet. Use 'iotdash user create' to create one.")
		return nil
	}

	fmt.Printf("%-36s %-30s %-10s\n", "ID", "EMAIL", "ROLE")
	fmt.Printf("%-36s %-30s %-10s\n", "--", "-----", "----")
	for _, u := range users {
		fmt.Printf("%-36s %-30s %-10s\n", u.ID, u.Email, u.Role)
	}
	return nil
}

// ---------- user grant ----------

func newUserGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant <user-id|email> <role>",
		Short: "Set a user's global role",
		Long: `Set a user's global role. The change takes effect on the user's next
request: roles are read from the directory, not from the token.`,
		Example: `  iotdash user grant ops@example.com sysadmin
  iotdash user grant ops@example.com user`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserGrant(args[0], args[1])
		},
	}
	return cmd
}

func runUserGrant(who, role string) error {
	if !model.IsGlobalRole(role) {
		return fmt.Errorf("invalid global role %q (want one of %s)", role, strings.Join(model.GlobalRoles, ", "))
	}

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
	u, err := findUser(ctx, store, who)
	if err != nil {
		return err
	}
	if err := store.SetUserRole(ctx, u.ID, role); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	fmt.Printf("User %q now has role %s\n", u.Email, role)
	return nil
}

// findUser looks a user up by email when who contains "@", else by id.
func findUser(ctx context.Context, store *config.Store, who string) (*model.User, error) {
	var (
		u   *model.User
		err error
	)
	if strings.Contains(who, "@") {
		u, err = store.GetUserByEmail(ctx, who)
	} else {
		u, err = store.GetUser(ctx, who)
	}
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", who, err)
	}
	return u, nil
}
