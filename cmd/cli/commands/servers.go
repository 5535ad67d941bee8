package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// remoteServer mirrors the dashboard's server record.
type remoteServer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Provider string `json:"provider"`
	Tag      string `json:"tag"`
	Token    string `json:"token"`
	Version  string `json:"version"`
	IP       string `json:"ip"`
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage registered servers",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var servers []remoteServer
		if err := apiRequest("GET", "/api/servers", nil, &servers); err != nil {
			return err
		}

		if len(servers) == 0 {
			fmt.Println("No servers registered.")
			return nil
		}

		fmt.Printf("%-36s  %-20s  %-16s  %-12s  %s\n", "ID", "NAME", "LOCATION", "PROVIDER", "VERSION")
		for _, srv := range servers {
			fmt.Printf("%-36s  %-20s  %-16s  %-12s  %s\n",
				srv.ID, srv.Name, srv.Location, srv.Provider, srv.Version)
		}
		return nil
	},
}

var (
	addName     string
	addLocation string
	addProvider string
	addTag      string
)

var serversAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new server and print its agent token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{
			"name":     addName,
			"location": addLocation,
			"provider": addProvider,
			"tag":      addTag,
		}

		var created remoteServer
		if err := apiRequest("POST", "/api/servers", body, &created); err != nil {
			return err
		}

		fmt.Println("✅ Server registered!")
		fmt.Printf("   ID:    %s\n", created.ID)
		fmt.Printf("   Token: %s\n", created.Token)
		fmt.Println()
		fmt.Println("Configure the agent on the target machine with these credentials,")
		fmt.Println("or run the install script from the dashboard instead.")
		return nil
	},
}

var serversRmCmd = &cobra.Command{
	Use:   "rm <server-id>",
	Short: "Remove a server and its live session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiRequest("DELETE", "/api/servers/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Printf("✅ Server %s removed\n", args[0])
		return nil
	},
}

func init() {
	serversAddCmd.Flags().StringVar(&addName, "name", "", "server display name (required)")
	serversAddCmd.Flags().StringVar(&addLocation, "location", "", "server location")
	serversAddCmd.Flags().StringVar(&addProvider, "provider", "", "hosting provider")
	serversAddCmd.Flags().StringVar(&addTag, "tag", "", "free-form tag")
	serversAddCmd.MarkFlagRequired("name")

	serversCmd.AddCommand(serversListCmd)
	serversCmd.AddCommand(serversAddCmd)
	serversCmd.AddCommand(serversRmCmd)
}
