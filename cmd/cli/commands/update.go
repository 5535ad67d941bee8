package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var updateURL string

var updateCmd = &cobra.Command{
	Use:   "update <server-id>",
	Short: "Tell a connected agent to update itself",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var body map[string]string
		if updateURL != "" {
			body = map[string]string{"download_url": updateURL}
		}

		var resp struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		if err := apiRequest("POST", "/api/servers/"+args[0]+"/update", body, &resp); err != nil {
			return err
		}

		if !resp.Success {
			return fmt.Errorf("❌ %s", resp.Message)
		}

		fmt.Printf("✅ %s\n", resp.Message)
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateURL, "url", "", "download URL for the new agent binary (defaults to the hub's release endpoint)")
}
