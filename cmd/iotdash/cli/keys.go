package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iotdash/iotdash/internal/keys"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the token signing key pair",
	}

	cmd.AddCommand(newKeysGenerateCmd())

	return cmd
}

// ---------- keys generate ----------

func newKeysGenerateCmd() *cobra.Command {
	var (
		bits  int
		force bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an RSA key pair at the configured paths",
		Example: `  iotdash keys generate
  iotdash keys generate --bits 4096 --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysGenerate(bits, force)
		},
	}

	cmd.Flags().IntVar(&bits, "bits", keys.DefaultBits, "RSA modulus size")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing key files")

	return cmd
}

func runKeysGenerate(bits int, force bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	priv, pub := cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath

	if !force {
		for _, path := range []string{priv, pub} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
	}

	pair, err := keys.Generate(bits)
	if err != nil {
		return err
	}
	if err := pair.Write(priv, pub); err != nil {
		return err
	}

	fmt.Println("Key pair generated:")
	fmt.Printf("  Private: %s\n", priv)
	fmt.Printf("  Public:  %s\n", pub)
	fmt.Println()
	fmt.Println("  Keep the private key secret. Replicas that only verify tokens need the public key.")
	return nil
}
