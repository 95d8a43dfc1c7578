package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var triggerAdminURL string

// newTriggerCmd is a thin HTTP client that POSTs to the admin API's
// trigger endpoint for a single source.
func newTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger <source-id>",
		Short: "Enqueue a one-shot fetch job for a source via the admin API",
		Args:  cobra.ExactArgs(1),
		RunE:  runTriggerCommand,
	}
	cmd.Flags().StringVar(&triggerAdminURL, "admin-url", "http://localhost:8080", "base URL of the running admin API")
	return cmd
}

func runTriggerCommand(_ *cobra.Command, args []string) error {
	sourceID := args[0]
	url := fmt.Sprintf("%s/v1/sources/%s/trigger", triggerAdminURL, sourceID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("trigger request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("admin api returned %d: %s", resp.StatusCode, string(body))
	}
	fmt.Println(string(body))
	return nil
}
