package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tab-relay/common"
	"tab-relay/internal/models"
)

// URLFile is the JSON document accepted by `relayctl start --file`.
type URLFile struct {
	URLs []string `json:"urls"`
}

var errNoURLs = errors.New("no urls given")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Control client for the tab-relay orchestrator.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", common.GetEnv("RELAY_ADDR", "http://localhost:8080"), "orchestrator base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")

	clientFor := func() (*relayClient, error) {
		return newRelayClient(addr, &http.Client{Timeout: timeout})
	}

	root.AddCommand(
		newPingCmd(clientFor),
		newStartCmd(clientFor),
		newStopCmd(clientFor),
		newListCmd(clientFor),
		newStatusCmd(clientFor),
		newHarvestCmd(clientFor, &timeout),
	)
	return root
}

type clientFactory func() (*relayClient, error)

func newPingCmd(clientFor clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the orchestrator is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := clientFor()
			if err != nil {
				return err
			}
			if err := c.waitReady(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "pong")
			return nil
		},
	}
}

func newStartCmd(clientFor clientFactory) *cobra.Command {
	var (
		sessionID  string
		backendURL string
		file       string
	)
	cmd := &cobra.Command{
		Use:   "start [url...]",
		Short: "Start a session over profile URLs given as arguments or in --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := args
			if file != "" {
				fromFile, err := loadURLFile(file)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return errNoURLs
			}
			c, err := clientFor()
			if err != nil {
				return err
			}
			return startSession(cmd.Context(), cmd.OutOrStdout(), c, sessionID, backendURL, urls)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (generated when empty)")
	cmd.Flags().StringVar(&backendURL, "backend", "", "backend base URL for this session")
	cmd.Flags().StringVarP(&file, "file", "f", "", `JSON file of the form {"urls": [...]}`)
	return cmd
}

func startSession(ctx context.Context, out io.Writer, c *relayClient, sessionID, backendURL string, urls []string) error {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	var resp models.ActionResponse
	err := c.action(ctx, models.StartSearchRequest{
		Action:     models.ActionStartSearch,
		SessionID:  sessionID,
		URLs:       urls,
		BackendURL: backendURL,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("start rejected: %s", resp.Error)
	}
	fmt.Fprintf(out, "%s: %s\n", sessionID, resp.Message)
	return nil
}

func newStopCmd(clientFor clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFor()
			if err != nil {
				return err
			}
			var resp models.ActionResponse
			if err := c.action(cmd.Context(), models.StopSearchRequest{
				Action:    models.ActionStopSearch,
				SessionID: args[0],
			}, &resp); err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("stop %s: %s", args[0], resp.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
}

func newListCmd(clientFor clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := clientFor()
			if err != nil {
				return err
			}
			var resp models.ActiveSearchesResponse
			if err := c.action(cmd.Context(), models.ActionRequest{Action: models.ActionGetActiveSearches}, &resp); err != nil {
				return err
			}
			for _, id := range resp.Searches {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newStatusCmd(clientFor clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the progress of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFor()
			if err != nil {
				return err
			}
			status, err := c.status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session:  %s\n", status.SessionID)
			fmt.Fprintf(out, "progress: %s\n", status.Progress)
			fmt.Fprintf(out, "errors:   %d total, %d consecutive\n", status.TotalErrors, status.ConsecutiveErrors)
			if status.ActiveJob != nil {
				fmt.Fprintf(out, "active:   %s\n", status.ActiveJob.URL)
			}
			if status.IsStopping {
				fmt.Fprintln(out, "stopping")
			}
			return nil
		},
	}
}

func newHarvestCmd(clientFor clientFactory, timeout *time.Duration) *cobra.Command {
	var (
		pattern    string
		limit      int
		robots     bool
		start      bool
		sessionID  string
		backendURL string
	)
	cmd := &cobra.Command{
		Use:   "harvest <listing-url...>",
		Short: "Collect profile links from listing pages, optionally starting a session with them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			links, err := harvestProfileLinks(args, harvestOptions{
				Pattern:       pattern,
				UserAgent:     "relayctl/1.0",
				Timeout:       *timeout,
				Limit:         limit,
				RespectRobots: robots,
			})
			if err != nil {
				return err
			}
			if !start {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(URLFile{URLs: links})
			}
			if len(links) == 0 {
				return errNoURLs
			}
			c, err := clientFor()
			if err != nil {
				return err
			}
			return startSession(cmd.Context(), cmd.OutOrStdout(), c, sessionID, backendURL, links)
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "linkedin.com/in/", "substring a link must contain")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many links (0 = no limit)")
	cmd.Flags().BoolVar(&robots, "respect-robots", true, "honour robots.txt of the listing site")
	cmd.Flags().BoolVar(&start, "start", false, "start a session with the harvested links")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id when --start is set")
	cmd.Flags().StringVar(&backendURL, "backend", "", "backend base URL when --start is set")
	return cmd
}

// loadURLFile reads a URLFile and returns its non-empty URLs.
func loadURLFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f URLFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	urls := make([]string, 0, len(f.URLs))
	for _, u := range f.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, errNoURLs
	}
	return urls, nil
}
