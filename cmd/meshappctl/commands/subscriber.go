package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hro-mesh/meshapp/internal/observer"
)

func subscriberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriber",
		Short: "Inspect the subscriber table",
	}

	cmd.AddCommand(subscriberListCmd())

	return cmd
}

func subscriberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all subscribers and their observed URIs",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var subs []observer.SubscriberInfo
			if err := client.getJSON("/v1/subscribers", &subs); err != nil {
				return fmt.Errorf("list subscribers: %w", err)
			}

			out, err := formatSubscribers(subs, outputFormat)
			if err != nil {
				return fmt.Errorf("format subscribers: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
