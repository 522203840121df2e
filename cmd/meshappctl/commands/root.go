// Package commands implements the meshappctl CLI commands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var (
	// client talks to the daemon's admin HTTP/JSON API, initialized in
	// PersistentPreRunE.
	client *apiClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon admin address (host:port).
	serverAddr string
)

// apiClient is a minimal JSON-over-HTTP client for the daemon's admin
// surface.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// getJSON GETs path and decodes the response body into out.
func (c *apiClient) getJSON(path string, out any) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(path, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// do issues a body-less request (POST/DELETE) and checks for success.
func (c *apiClient) do(method, path string) error {
	req, err := http.NewRequestWithContext(context.Background(), method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(path, resp)
	}
	return nil
}

func statusError(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(body) > 0 {
		return fmt.Errorf("%s: %s: %s", path, resp.Status, string(body))
	}
	return fmt.Errorf("%s: %s", path, resp.Status)
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
