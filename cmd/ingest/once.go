package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/traffic-incident-ingest/internal/observability"
	"github.com/couchcryptid/traffic-incident-ingest/internal/pipeline"
)

func newOnceCmd(g *globals) *cobra.Command {
	var (
		sources []string
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single ingestion cycle and print per-source counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), g, cmd.OutOrStdout(), sources, migrate)
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", allSources, "sources to ingest (CHART, WTOP)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create tables before ingesting")
	return cmd
}

func runOnce(ctx context.Context, g *globals, out io.Writer, sources []string, migrate bool) error {
	// Nothing scrapes a one-shot run, so its metrics stay private.
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	a, err := newApp(ctx, g.cfg, g.logger, metrics, sources)
	if err != nil {
		return err
	}
	defer a.close()

	if migrate {
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.CycleTimeout)
	defer cancel()

	var errs []error
	for _, ing := range a.ingesters {
		res := ing.Run(ctx)
		printResult(out, res)
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

func printResult(out io.Writer, res pipeline.Result) {
	if res.Err != nil {
		fmt.Fprintf(out, "%-5s persisted=%d total=%d duration=%s error=%q\n",
			res.Source, res.Persisted, res.Total, res.Duration.Round(time.Millisecond), res.Err.Error())
		return
	}
	fmt.Fprintf(out, "%-5s persisted=%d total=%d duration=%s\n",
		res.Source, res.Persisted, res.Total, res.Duration.Round(time.Millisecond))
}
