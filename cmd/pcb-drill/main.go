package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pcbdrill/pcb-drill/internal/config"
)

const version = "0.1.0"

// configEnv names a config path used when --config is not given.
const configEnv = "PCB_DRILL_CONFIG"

// exitError ends the process with code without printing anything further.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type rootOptions struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "pcb-drill",
		Short: "Camera guided PCB drilling: worker, web front end and tools",
		Long: `pcb-drill drives a camera equipped PCB drill.

The worker (pcb-drill daemon) owns the camera and answers one request at a
time over a WebSocket. The web front end (pcb-drill web) serves the G-code
library and relays commands to the worker. The remaining subcommands are
clients and offline tools.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file or directory (default $"+configEnv+", then ./config.yaml)")

	root.AddCommand(
		newDaemonCommand(opts),
		newWebCommand(opts),
		newCallCommand(opts),
		newConsoleCommand(opts),
		newWatchCommand(opts),
		newRequestsCommand(opts),
		newInspectCommand(opts),
		newGCodeCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(opts),
	)
	return root
}

// resolveConfigPath picks the config to load. An empty result means
// built-in defaults.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		path, _ := filepath.Abs("config.yaml")
		return path
	}
	return ""
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.resolveConfigPath()
	cfg, err := config.LoadOrDefaults(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(opts.stdout, "pcb-drill version %s\n", version)
		},
	}
}
