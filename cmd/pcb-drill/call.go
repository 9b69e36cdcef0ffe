package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pcbdrill/pcb-drill/internal/client"
	"github.com/pcbdrill/pcb-drill/internal/protocol"
	"github.com/pcbdrill/pcb-drill/internal/state"
	"github.com/pcbdrill/pcb-drill/internal/storage"
	"github.com/pcbdrill/pcb-drill/internal/tui/console"
	"github.com/pcbdrill/pcb-drill/internal/tui/watch"
)

func newCallCommand(opts *rootOptions) *cobra.Command {
	var url string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "call <command> [key=value ...]",
		Short: "Send one request to the worker and print the reply envelope",
		Example: `  pcb-drill call commands
  pcb-drill call capture_image filename=board.png width=1024 height=768
  pcb-drill call generate_gcode filename=mask.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if url == "" {
				url = cfg.Web.DaemonURL
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.Web.RequestTimeout
			}

			reqArgs, err := protocol.ParseArgs(args[1:])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCall(ctx, opts, url, timeout, args[0], reqArgs)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "worker WebSocket URL (default web.daemon_url)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (default web.request_timeout, 0 waits forever)")
	return cmd
}

// runCall prints the reply envelope. A failure envelope exits with status 2
// so scripts can tell it apart from a delivery error.
func runCall(ctx context.Context, opts *rootOptions, url string, timeout time.Duration, command string, args protocol.Args) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c, err := client.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("connect to worker at %s: %w", url, err)
	}
	defer c.Close()

	resp, err := c.Do(ctx, command, args)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(opts.stdout, string(out))
	if !resp.Success {
		return &exitError{code: 2}
	}
	return nil
}

func newConsoleCommand(opts *rootOptions) *cobra.Command {
	var url string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive terminal client for the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if url == "" {
				url = cfg.Web.DaemonURL
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.Web.RequestTimeout
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			c := client.Lazy(url)
			defer c.Close()

			p := tea.NewProgram(console.New(ctx, c, url, timeout), tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "worker WebSocket URL (default web.daemon_url)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per request timeout (default web.request_timeout)")
	return cmd
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var apiURL, apiKey string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of commands relayed by the web front end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if apiURL == "" {
				apiURL = "http://" + cfg.Web.Listen
			}
			if apiKey == "" {
				apiKey = os.Getenv("PCB_DRILL_API_KEY")
			}
			if apiKey == "" {
				apiKey = cfg.Web.APIKey
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			_, err = tea.NewProgram(watch.New(ctx, apiURL, apiKey)).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "", "web front end base URL (default http://<web.listen>)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (default $PCB_DRILL_API_KEY, then web.api_key)")
	return cmd
}

func newRequestsCommand(opts *rootOptions) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Show the worker's most recent requests from its state database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Daemon.StatePath == "" {
				return fmt.Errorf("daemon.state_path is not set, the worker keeps no request log")
			}
			db, err := storage.OpenSQLite(cmd.Context(), cfg.Daemon.StatePath)
			if err != nil {
				return err
			}
			defer db.Close()

			recs, err := state.NewStore(db).RecentRequests(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(opts.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(requestViews(recs))
			}
			if len(recs) == 0 {
				fmt.Fprintln(opts.stdout, "No requests recorded.")
				return nil
			}
			for _, rec := range recs {
				outcome := "ok"
				if !rec.Success {
					outcome = "FAILED: " + rec.Error
				}
				fmt.Fprintf(opts.stdout, "%s  %-20s %8.3fs  %s  %s\n",
					rec.At.Local().Format("2006-01-02 15:04:05"), rec.Command, rec.Duration.Seconds(), rec.ID, outcome)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of requests to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}
