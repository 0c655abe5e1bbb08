package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/towerops/tower/internal/auth"
	"github.com/towerops/tower/internal/config"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the one-time-code secret that gates replies",
}

var authSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate a fresh shared secret and provisioning URI",
	Long: `Generate a fresh TOTP secret, store it in the configured secret file,
and print the otpauth:// URI to load into an authenticator app. Refuses
to overwrite an existing secret unless --force is given.`,
	RunE: runAuthSetup,
}

var authImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Store an existing shared secret",
	Long: `Store a secret you already have, read from the terminal without echo,
into the configured secret file.`,
	RunE: runAuthImport,
}

var authCodeCmd = &cobra.Command{
	Use:   "code",
	Short: "Print the currently valid code",
	Long: `Print the code that is valid right now for the stored secret. Useful
for checking that an authenticator app and this machine agree.`,
	RunE: runAuthCode,
}

var authForce bool

func init() {
	authSetupCmd.Flags().BoolVar(&authForce, "force", false, "overwrite an existing secret")
	authCmd.AddCommand(authSetupCmd)
	authCmd.AddCommand(authImportCmd)
	authCmd.AddCommand(authCodeCmd)
	rootCmd.AddCommand(authCmd)
}

func secretFilePath() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return config.ExpandHome(cfg.Auth.SecretFile), nil
}

func writeSecretFile(path, secret string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secret directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing secret file: %w", err)
	}
	return nil
}

func runAuthSetup(cmd *cobra.Command, args []string) error {
	path, err := secretFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !authForce {
		return fmt.Errorf("secret file %s already exists, use --force to replace it", path)
	}

	secret, uri, err := auth.GenerateSecret("Tower", "operator")
	if err != nil {
		return fmt.Errorf("generating secret: %w", err)
	}
	if err := writeSecretFile(path, secret); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Secret written to %s\n\n", path)
	fmt.Fprintln(out, "Add it to your authenticator app with this URI:")
	fmt.Fprintf(out, "  %s\n", uri)
	return nil
}

func runAuthImport(cmd *cobra.Command, args []string) error {
	path, err := secretFilePath()
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), "Secret (base32): ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("reading secret: %w", err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return fmt.Errorf("empty secret")
	}

	// Reject secrets the verifier could never match.
	if _, err := auth.CurrentCode(secret); err != nil {
		return fmt.Errorf("secret is not valid base32: %w", err)
	}
	if err := writeSecretFile(path, secret); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Secret written to %s\n", path)
	return nil
}

func runAuthCode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	secret, err := cfg.ReadSecret()
	if err != nil {
		return err
	}
	code, err := auth.CurrentCode(secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), code)
	return nil
}
