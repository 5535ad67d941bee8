package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"fleetpulse/internal/common"
)

// dashboardSnapshot mirrors the frame the dashboard broadcasts to
// browser clients; the CLI only cares about a few of its fields.
type dashboardSnapshot struct {
	Type    string           `json:"type"`
	Servers []snapshotServer `json:"servers"`
}

type snapshotServer struct {
	ServerID   string                `json:"server_id"`
	ServerName string                `json:"server_name"`
	Location   string                `json:"location"`
	Online     bool                  `json:"online"`
	Metrics    *common.SystemMetrics `json:"metrics"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dashboard health and fleet summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		health := checkHealth()

		// The poll endpoint returns a bare array of per-server updates
		var servers []snapshotServer
		if err := apiRequest("GET", "/api/metrics/all", nil, &servers); err != nil {
			return err
		}

		online := 0
		for _, srv := range servers {
			if srv.Online {
				online++
			}
		}

		var viewers struct {
			Count int `json:"count"`
		}
		if err := apiRequest("GET", "/api/online-users", nil, &viewers); err != nil {
			return err
		}

		fmt.Printf("Dashboard:  %s\n", serverURL())
		fmt.Printf("Health:     %s\n", health)
		fmt.Printf("Servers:    %d online / %d total\n", online, len(servers))
		fmt.Printf("Viewers:    %d connected\n", viewers.Count)
		return nil
	},
}

// checkHealth probes the plain-text health endpoint.
func checkHealth() string {
	resp, err := httpClient.Get(serverURL() + "/health")
	if err != nil {
		return fmt.Sprintf("unreachable (%v)", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = resp.Status
	}
	return text
}
