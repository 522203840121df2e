package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hro-mesh/meshapp/internal/adminapi"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon identity and table occupancy",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var status adminapi.StatusResponse
			if err := client.getJSON("/v1/status", &status); err != nil {
				return fmt.Errorf("get status: %w", err)
			}

			out, err := formatStatus(status, outputFormat)
			if err != nil {
				return fmt.Errorf("format status: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
