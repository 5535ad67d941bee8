// Package commands implements the fleetpulse-cli command tree.
package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultServerURL = "http://localhost:3001"

var (
	serverFlag string
	cliVersion = "dev"
)

var rootCmd = &cobra.Command{
	Use:           "fleetpulse-cli",
	Short:         "Manage a FleetPulse dashboard from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "dashboard URL (defaults to the stored login, then "+defaultServerURL+")")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(watchCmd)
}

// SetVersion wires the build-time version into the root command.
func SetVersion(v string) {
	cliVersion = v
	rootCmd.Version = v
}

func Execute() error {
	return rootCmd.Execute()
}

// ============================================================================
// CLI config (stored login)
// ============================================================================

type cliConfig struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token"`
}

func cliConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(configDir, "fleetpulse", "cli.yaml"), nil
}

func loadCLIConfig() *cliConfig {
	cfg := &cliConfig{}

	path, err := cliConfigPath()
	if err != nil {
		return cfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	// A corrupt file is treated the same as a missing one
	yaml.Unmarshal(data, cfg)
	return cfg
}

func saveCLIConfig(cfg *cliConfig) error {
	path, err := cliConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	// The token is a credential, keep the file private
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// serverURL resolves the dashboard base URL: flag, then stored login,
// then the localhost default.
func serverURL() string {
	if serverFlag != "" {
		return strings.TrimSuffix(serverFlag, "/")
	}
	if cfg := loadCLIConfig(); cfg.Server != "" {
		return strings.TrimSuffix(cfg.Server, "/")
	}
	return defaultServerURL
}

// ============================================================================
// API client
// ============================================================================

var httpClient = &http.Client{Timeout: 10 * time.Second}

// apiRequest performs an authenticated JSON request against the
// dashboard and decodes the response into out (when non-nil).
func apiRequest(method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to serialize request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL()+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := loadCLIConfig().Token; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("unauthorized: run 'fleetpulse-cli login' first")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: %s", method, path, apiErrorMessage(resp))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// apiErrorMessage extracts the {"error": ...} body the dashboard sends
// on failures, falling back to the HTTP status.
func apiErrorMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return apiErr.Error
	}
	return resp.Status
}

// wsURL converts the dashboard base URL to its WebSocket equivalent.
func wsURL(path string) string {
	url := serverURL()
	if strings.HasPrefix(url, "https") {
		url = "wss" + url[5:]
	} else if strings.HasPrefix(url, "http") {
		url = "ws" + url[4:]
	}
	return url + path
}
