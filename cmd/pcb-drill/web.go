package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/pcbdrill/pcb-drill/internal/api"
	"github.com/pcbdrill/pcb-drill/internal/client"
	"github.com/pcbdrill/pcb-drill/internal/config"
	"github.com/pcbdrill/pcb-drill/internal/gcode"
	"github.com/pcbdrill/pcb-drill/internal/imagestore"
	"github.com/pcbdrill/pcb-drill/internal/library"
	"github.com/pcbdrill/pcb-drill/internal/log"
	"github.com/pcbdrill/pcb-drill/internal/metrics"
)

func newWebCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "web",
		Short: "Run the web front end",
		Long: `Run the HTTP front end: the G-code library, preset rendering, image
upload and download, and a relay of commands to the worker at web.daemon_url.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWeb(ctx, cfg)
		},
	}
}

func runWeb(ctx context.Context, cfg *config.Config) error {
	log.Setup(cfg.Web.LogLevel, cfg.Web.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("pcb-drill web starting", "version", version, "listen", cfg.Web.Listen, "daemon", cfg.Web.DaemonURL)

	lib, err := library.New(cfg.Web.GCodeLibrary,
		library.WithPresetOptions(presetOptions(cfg.GCode)...),
		library.WithLogger(log.WithComponent("library")),
	)
	if err != nil {
		return err
	}
	images, err := imagestore.New(cfg.Web.ImageStorage, imagestore.WithLogger(log.WithComponent("imagestore")))
	if err != nil {
		return err
	}

	daemon := client.Lazy(cfg.Web.DaemonURL)
	defer daemon.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())

	if cfg.Web.APIKey == "" {
		logger.Warn("web.api_key is empty, every route is open")
	}
	srv := api.New(api.Config{
		Listen:          cfg.Web.Listen,
		APIKey:          cfg.Web.APIKey,
		RequestTimeout:  cfg.Web.RequestTimeout,
		LineNumbers:     cfg.GCode.LineNumbers,
		VerboseComments: cfg.GCode.Verbose(),
		HoleFormat:      cfg.GCode.HoleFormat,
	}, daemon, lib, images,
		api.WithLogger(log.WithComponent("api")),
		api.WithMetrics(metrics.NewCollector(promReg), promReg),
	)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("pcb-drill web stopped")
	return nil
}

// presetOptions renders library presets with the configured generator
// settings.
func presetOptions(g config.GCodeConfig) []gcode.Option {
	return []gcode.Option{
		gcode.WithLineNumbers(g.LineNumbers),
		gcode.WithVerboseComments(g.Verbose()),
		gcode.WithHoleFormat(g.HoleFormat),
	}
}
