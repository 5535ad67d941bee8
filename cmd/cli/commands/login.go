package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the dashboard and store the session token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptPassword()
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("password is required")
		}

		var resp struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		if err := apiRequest("POST", "/api/auth/login", map[string]string{"password": password}, &resp); err != nil {
			return err
		}

		cfg := loadCLIConfig()
		cfg.Server = serverURL()
		cfg.Token = resp.Token
		if err := saveCLIConfig(cfg); err != nil {
			return err
		}

		fmt.Printf("✅ Logged in to %s\n", cfg.Server)
		fmt.Printf("   Session valid until %s\n", resp.ExpiresAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

// promptPassword reads the admin password without echoing it. Piped
// input falls back to a plain line read.
func promptPassword() (string, error) {
	fmt.Print("🔑 Admin password: ")

	if term.IsTerminal(int(os.Stdin.Fd())) {
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(string(password)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(input), nil
}
