package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pcbdrill/pcb-drill/internal/imagestore"
	"github.com/pcbdrill/pcb-drill/internal/inspect"
	"github.com/pcbdrill/pcb-drill/internal/log"
	"github.com/pcbdrill/pcb-drill/internal/state"
	"github.com/pcbdrill/pcb-drill/internal/storage"
)

func newInspectCommand(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "inspect <image>",
		Short: "Show the worker's cached holes, mask sessions and derived files for an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			images, err := imagestore.New(cfg.Daemon.ImageStorage, imagestore.WithLogger(log.Discard()))
			if err != nil {
				return err
			}

			var st inspect.State
			if cfg.Daemon.StatePath != "" {
				db, err := storage.OpenSQLite(cmd.Context(), cfg.Daemon.StatePath)
				if err != nil {
					return err
				}
				defer db.Close()
				st = state.NewStore(db)
			}

			var out string
			if jsonOut {
				out, err = inspect.BuildJSONReport(cmd.Context(), st, images, args[0])
			} else {
				out, err = inspect.BuildReport(cmd.Context(), st, images, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.stdout, out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}
