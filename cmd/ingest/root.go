package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/traffic-incident-ingest/internal/config"
	"github.com/couchcryptid/traffic-incident-ingest/internal/observability"
)

// version is set at build time via -ldflags.
var version = "dev"

// globals is populated by the root command before any subcommand runs.
type globals struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	serve := newServeCmd(g)

	root := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest Maryland and DC traffic incidents",
		Long: "ingest polls the CHART JSON incident feed and the WTOP traffic page,\n" +
			"normalizes both into canonical incidents and persists them.",
		Version:      version,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			g.cfg = cfg
			g.logger = observability.NewLogger(cfg)
			return nil
		},
		RunE: serve.RunE,
	}
	root.AddCommand(serve, newOnceCmd(g), newMigrateCmd(g))
	return root
}
