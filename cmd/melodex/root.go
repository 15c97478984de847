package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/melodex"
	"github.com/hupe1980/melodex/config"
	"github.com/hupe1980/melodex/server"
)

const timeRounding = 10 * time.Millisecond

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "melodex",
		Short:         "Semantic similarity search for music tracks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(
		newServeCmd(&configPath),
		newIngestCmd(&configPath),
		newBackfillCmd(&configPath),
		newReindexCmd(&configPath),
	)

	return cmd
}

// newEngine loads the configuration and builds an engine. The caller owns
// the returned engine and must Close it.
func newEngine(configPath string) (*melodex.Engine, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cfg, err
	}

	eng, err := melodex.New(cfg)
	if err != nil {
		return nil, cfg, err
	}

	return eng, cfg, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP search API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, cfg, err := newEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := eng.Start(ctx); err != nil {
				return err
			}

			srv := server.New(eng, cfg.Server.Addr)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				return srv.Shutdown(context.Background())
			}
		},
	}
}

func newIngestCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <csv>",
		Short: "Load a CSV track catalog into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := newEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			report, err := eng.Ingest(cmd.Context(), f)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "read %d rows, inserted %d, skipped %d\n",
				report.Read, report.Inserted, report.Skipped)

			return nil
		},
	}
}

func newBackfillCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Embed all tracks lacking a vector under the current model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, err := newEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := eng.Backfill(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "embedded %d tracks in %s (%.1f tracks/sec)\n",
				report.Processed, report.Duration.Round(timeRounding), report.Rate)

			return nil
		},
	}
}

func newReindexCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the ANN index from stored embeddings and snapshot it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, err := newEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Reindex(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "index rebuilt and snapshot written")

			return nil
		},
	}
}
