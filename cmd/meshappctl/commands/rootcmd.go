package commands

import (
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meshappctl",
		Short: "CLI client for the meshapp daemon",
		Long:  "meshappctl communicates with the meshapp daemon over its local admin API to inspect peers, subscribers, and the settings store.",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			client = newAPIClient(serverAddr)
			return nil
		},
		// Silence cobra's built-in usage/error printing so we control it.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&serverAddr, "addr", "127.0.0.1:8780",
		"meshapp daemon admin address (host:port)")
	cmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	cmd.AddCommand(statusCmd())
	cmd.AddCommand(peerCmd())
	cmd.AddCommand(subscriberCmd())
	cmd.AddCommand(settingsCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}
