package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/wolfman30/ciro-tutor/internal/archive"
)

type usageSource interface {
	HandlerUsage(ctx context.Context, since time.Time) ([]archive.HandlerUsage, error)
}

func statsCmd(flags *globalFlags) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize archived turns per handler (requires DATABASE_URL)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := flags.load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()
			return printUsage(cmd.Context(), cmd.OutOrStdout(), archive.NewStore(pool, logger), time.Now().Add(-window))
		},
	}
	cmd.Flags().DurationVar(&window, "since", 7*24*time.Hour, "look-back window")
	return cmd
}

func printUsage(ctx context.Context, w io.Writer, src usageSource, since time.Time) error {
	rows, err := src.HandlerUsage(ctx, since)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HANDLER\tTURNS")
	var total int64
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\n", r.Handler, r.Turns)
		total += r.Turns
	}
	fmt.Fprintf(tw, "total\t%d\n", total)
	return tw.Flush()
}
