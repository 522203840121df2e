package commands

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/hro-mesh/meshapp/internal/pair"
)

func peerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Inspect the paired-peer table",
	}

	cmd.AddCommand(peerListCmd())
	cmd.AddCommand(peerDeleteCmd())

	return cmd
}

func peerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all paired peers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var peers []pair.PeerInfo
			if err := client.getJSON("/v1/peers", &peers); err != nil {
				return fmt.Errorf("list peers: %w", err)
			}

			out, err := formatPeers(peers, outputFormat)
			if err != nil {
				return fmt.Errorf("format peers: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func peerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <canonical-name>",
		Short: "Remove a peer from the table",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := client.do("DELETE", "/v1/peers/"+url.PathEscape(args[0])); err != nil {
				return fmt.Errorf("delete peer: %w", err)
			}

			fmt.Printf("Peer %s deleted\n", args[0])

			return nil
		},
	}
}
