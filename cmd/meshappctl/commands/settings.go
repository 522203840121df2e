package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hro-mesh/meshapp/internal/adminapi"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and manage the non-volatile settings store",
	}

	cmd.AddCommand(settingsShowCmd())
	cmd.AddCommand(settingsFlushCmd())
	cmd.AddCommand(settingsWipeCmd())

	return cmd
}

func settingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List stored records and flush state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp adminapi.SettingsResponse
			if err := client.getJSON("/v1/settings", &resp); err != nil {
				return fmt.Errorf("show settings: %w", err)
			}

			out, err := formatSettings(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format settings: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func settingsFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Force an immediate flush of the RAM working copy to flash",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := client.do("POST", "/v1/settings/flush"); err != nil {
				return fmt.Errorf("flush settings: %w", err)
			}

			fmt.Println("Settings flushed")

			return nil
		},
	}
}

func settingsWipeCmd() *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Erase every stored record",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if !confirmed {
				return errWipeNotConfirmed
			}
			if err := client.do("POST", "/v1/settings/wipe"); err != nil {
				return fmt.Errorf("wipe settings: %w", err)
			}

			fmt.Println("Settings wiped")

			return nil
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the wipe")

	return cmd
}
