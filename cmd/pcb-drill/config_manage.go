package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pcbdrill/pcb-drill/internal/config"
	"github.com/pcbdrill/pcb-drill/internal/doctor"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration integrity and inspection",
	}
	cmd.AddCommand(newConfigLockCommand(opts), newConfigCheckCommand(opts), newConfigShowCommand(opts))
	return cmd
}

func newConfigLockCommand(opts *rootOptions) *cobra.Command {
	var verbose, dryRun bool

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Authorize the current config files (write BLAKE3 checksums)",
		Long: `Hash the config file and every file it includes and write a .checksums
manifest next to them. Later loads refuse files whose hash no longer matches.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			path := opts.resolveConfigPath()
			if path == "" {
				return fmt.Errorf("no config file to lock (use --config)")
			}
			report, err := config.Lock(path, dryRun)
			if err != nil {
				return fmt.Errorf("failed to lock config: %w", err)
			}

			if verbose {
				for _, f := range report.Files {
					fmt.Fprintf(opts.stdout, "  HASH %s: %s\n", f.Path, f.Hash)
				}
			}
			for _, m := range report.Manifests {
				if dryRun {
					fmt.Fprintf(opts.stdout, "  DRY-RUN %s (not written)\n", m)
				} else {
					fmt.Fprintf(opts.stdout, "  WROTE %s\n", m)
				}
			}
			if dryRun {
				fmt.Fprintf(opts.stdout, "Dry run completed for %d file(s), nothing written\n", len(report.Files))
			} else {
				fmt.Fprintf(opts.stdout, "Locked %d file(s)\n", len(report.Files))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each file hash")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute hashes without writing manifests")
	return cmd
}

func newConfigCheckCommand(opts *rootOptions) *cobra.Command {
	var strict, jsonOut bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate syntax, values, integrity and the host environment",
		Long: `Load the configuration (verifying checksums when a manifest exists) and
check it against this host: camera programs, image owner, storage
directories, API key exposure and worker address.

Exit status is 1 when the configuration is invalid, and 2 when --strict is
given and there are warnings.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			result := doctor.New(cfg).Validate()

			if jsonOut {
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(opts.stdout, out)
			} else {
				if path := opts.resolveConfigPath(); path != "" {
					files, err := config.DiscoverConfigFiles(path)
					if err != nil {
						return err
					}
					for _, f := range files {
						fmt.Fprintf(opts.stdout, "  LOADED %s\n", f)
					}
				}
				fmt.Fprint(opts.stdout, doctor.FormatHuman(result))
			}

			if !result.Valid {
				return &exitError{code: 1}
			}
			if strict && len(result.Warnings) > 0 {
				return &exitError{code: 2}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newConfigShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			cfg.Include = nil
			if cfg.Web.APIKey != "" {
				cfg.Web.APIKey = "********"
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = opts.stdout.Write(data)
			return err
		},
	}
}
