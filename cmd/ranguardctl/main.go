package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const version = "0.1.0"

var (
	serverURL string
	authToken string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ranguardctl",
		Short: "ranguardctl - drive a running ranguard server",
		Long: `ranguardctl is a command-line interface for the ranguard admin API.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "ranguard server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("RANGUARD_TOKEN"), "Bearer token for authenticated servers")

	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newSchedulerCommand())
	rootCmd.AddCommand(newEventCommand())
	rootCmd.AddCommand(newIssueCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newLogsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("RANGUARD_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8080"
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: serverURL,
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)
	if params != nil {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = strings.NewReader(string(jsonData))
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return respBody, nil
}

func (c *Client) get(path string, params url.Values) ([]byte, error) {
	return c.do("GET", path, params, nil)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	return c.do("POST", path, nil, data)
}

func (c *Client) put(path string, data interface{}) ([]byte, error) {
	return c.do("PUT", path, nil, data)
}

// streamSSE reads an SSE stream and prints each event's data field.
func (c *Client) streamSSE(path string, params url.Values) error {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)
	if params != nil {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return err
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	client := &http.Client{} // no timeout, the stream is long-lived
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server error (%d)", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			fmt.Println(line[6:])
		}
	}
	return scanner.Err()
}

func outputJSON(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// --- Login ---

func newLoginCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and print a bearer token",
		Long:  "Prompts for a password and prints the issued token. Export it as RANGUARD_TOKEN for subsequent commands.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(os.Stderr, "Password for %s: ", username)
			password, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			client := newClient()
			data, err := client.post("/auth/login", map[string]string{
				"username": username,
				"password": string(password),
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "admin", "Username")
	return cmd
}

// --- Status and scheduler ---

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health and scheduler state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get("/api/v1/scheduler/status", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newSchedulerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Control the periodic guardian cycle",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the periodic cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/scheduler/start", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the periodic cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/scheduler/stop", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run-once",
		Short: "Run one full event+issue cycle now and wait for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/scheduler/run-once", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})
	return cmd
}

// --- Events ---

func newEventCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Inspect and process monitored events",
	}
	cmd.AddCommand(newEventListCommand())
	cmd.AddCommand(&cobra.Command{
		Use:     "show <event-id>",
		Short:   "Show event details",
		Args:    cobra.ExactArgs(1),
		Example: `  ranguardctl event show ev-20260831-001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/events/"+args[0], nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "process <event-id>",
		Short: "Force a risk assessment of one event now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post(fmt.Sprintf("/api/v1/events/%s/process", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})
	return cmd
}

func newEventListCommand() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upcoming events",
		Example: `  ranguardctl event list
  ranguardctl event list --from=2026-08-31T00:00:00Z --to=2026-09-01T00:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if from != "" {
				params.Set("from", from)
			}
			if to != "" {
				params.Set("to", to)
			}
			data, err := newClient().get("/api/v1/events", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Window start (RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "Window end (RFC 3339)")
	return cmd
}

// --- Issues ---

func newIssueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Inspect, approve, and reject issues",
	}
	cmd.AddCommand(newIssueListCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show issue details including tasks and risk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/issues/"+args[0], nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "approve <issue-id>",
		Short:   "Approve a pending configuration change",
		Args:    cobra.ExactArgs(1),
		Example: `  ranguardctl issue approve ev-20260831-001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post(fmt.Sprintf("/api/v1/issues/%s/approve", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reject <issue-id>",
		Short: "Reject a pending configuration change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post(fmt.Sprintf("/api/v1/issues/%s/reject", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "process <issue-id>",
		Short: "Advance one issue through a cycle step now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post(fmt.Sprintf("/api/v1/issues/%s/process", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})
	return cmd
}

func newIssueListCommand() *cobra.Command {
	var openOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues in risk order",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if openOnly {
				params.Set("open", "true")
			}
			data, err := newClient().get("/api/v1/issues", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().BoolVar(&openOnly, "open", false, "Only issues that are not resolved")
	return cmd
}

// --- Config ---

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update the guardian tunables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active tunables",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/config", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})
	cmd.AddCommand(newConfigSetCommand())
	return cmd
}

func newConfigSetCommand() *cobra.Command {
	var (
		runInterval string
		batchSize   int
		radius      int
	)
	cmd := &cobra.Command{
		Use:     "set",
		Short:   "Update hot-reloadable tunables",
		Example: `  ranguardctl config set --run-interval=5m --batch-size=20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()

			// Fetch the current values so unset flags keep them.
			data, err := client.get("/api/v1/config", nil)
			if err != nil {
				return err
			}
			var current map[string]interface{}
			if err := json.Unmarshal(data, &current); err != nil {
				return fmt.Errorf("failed to parse current config: %w", err)
			}

			if runInterval != "" {
				d, err := time.ParseDuration(runInterval)
				if err != nil {
					return fmt.Errorf("invalid --run-interval: %w", err)
				}
				current["run_interval"] = int64(d)
			}
			if batchSize > 0 {
				current["batch_size"] = batchSize
			}
			if radius > 0 {
				current["node_radius_meters"] = radius
			}

			data, err = client.put("/api/v1/config", current)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&runInterval, "run-interval", "", "Cycle interval (e.g. 5m)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Max events/issues per cycle")
	cmd.Flags().IntVar(&radius, "node-radius", 0, "Nearby-node search radius in meters")
	return cmd
}

// --- Logs ---

func newLogsCommand() *cobra.Command {
	var (
		follow bool
		limit  int
		level  string
		source string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Fetch or follow server logs",
		Example: `  ranguardctl logs --limit=50
  ranguardctl logs -f --level=error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if level != "" {
				params.Set("level", level)
			}
			if source != "" {
				params.Set("source", source)
			}

			client := newClient()
			if follow {
				return client.streamSSE("/api/v1/logs/stream", params)
			}

			params.Set("limit", fmt.Sprintf("%d", limit))
			data, err := client.get("/api/v1/logs/recent", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream logs as they arrive")
	cmd.Flags().IntVar(&limit, "limit", 100, "Number of entries to fetch")
	cmd.Flags().StringVar(&level, "level", "", "Filter by level (info, warn, error)")
	cmd.Flags().StringVar(&source, "source", "", "Filter by source component")
	return cmd
}
