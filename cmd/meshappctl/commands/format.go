package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/hro-mesh/meshapp/internal/adminapi"
	"github.com/hro-mesh/meshapp/internal/observer"
	"github.com/hro-mesh/meshapp/internal/pair"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// errWipeNotConfirmed guards the destructive settings wipe behind --yes.
var errWipeNotConfirmed = errors.New("settings wipe requires --yes")

// formatPeers renders the peer table in the requested format.
func formatPeers(peers []pair.PeerInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(peers)
	case formatTable:
		return formatPeersTable(peers)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatPeersTable(peers []pair.PeerInfo) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tTYPE\tURIS\tSUBSCRIBED")

	for _, p := range peers {
		subscribed := 0
		paths := make([]string, 0, len(p.URIs))
		for _, u := range p.URIs {
			paths = append(paths, u.Path)
			if u.Subscribed {
				subscribed++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\n",
			p.Name,
			p.IP,
			p.Type,
			strings.Join(paths, ","),
			subscribed,
			len(p.URIs),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// formatSubscribers renders the subscriber table in the requested format.
func formatSubscribers(subs []observer.SubscriberInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(subs)
	case formatTable:
		return formatSubscribersTable(subs)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSubscribersTable(subs []observer.SubscriberInfo) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tURI-INDEX\tTOKEN")

	for _, s := range subs {
		for _, u := range s.URIs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%08x\n", s.Name, s.IP, u.URIIndex, u.Token)
		}
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// formatSettings renders the settings listing in the requested format.
func formatSettings(resp adminapi.SettingsResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(resp)
	case formatTable:
		return formatSettingsTable(resp)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSettingsTable(resp adminapi.SettingsResponse) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tLENGTH")

	for _, rec := range resp.Records {
		fmt.Fprintf(w, "0x%04x\t%d\n", rec.Key, rec.Length)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	fmt.Fprintf(&buf, "\nBuffer: %d bytes used, flushed: %v\n", resp.BufPos, resp.Flushed)

	return buf.String(), nil
}

// formatStatus renders the daemon status in the requested format.
func formatStatus(status adminapi.StatusResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(status)
	case formatTable:
		return formatStatusTable(status)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStatusTable(status adminapi.StatusResponse) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Version:\t%s\n", status.Version)
	fmt.Fprintf(w, "Name:\t%s\n", status.Name)
	fmt.Fprintf(w, "SRP State:\t%s\n", status.SRPState)
	fmt.Fprintf(w, "Peers:\t%d\n", status.PeerCount)
	fmt.Fprintf(w, "Subscribers:\t%d\n", status.SubscriberCount)
	fmt.Fprintf(w, "Settings Buffer:\t%d bytes\n", status.SettingsBufPos)
	fmt.Fprintf(w, "Settings Flushed:\t%v\n", status.SettingsFlushed)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
