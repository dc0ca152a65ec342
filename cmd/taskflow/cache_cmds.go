package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/taskflow-client/pkg/metrics"
)

func (c *cli) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the local response cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show entries per cache category",
		Args:  cobra.NoArgs,
	}
	stats.RunE = c.run(func(ctx context.Context, a *app) error {
		st := a.svc.CacheStats(ctx)
		if c.jsonOutput {
			return printJSON(a.out, st)
		}
		printCacheStats(a.out, st)
		return nil
	})

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached response",
		Args:  cobra.NoArgs,
	}
	clearCmd.RunE = c.run(func(ctx context.Context, a *app) error {
		a.svc.ClearCache(ctx)
		fmt.Fprintln(a.out, "Cache cleared.")
		return nil
	})

	warmup := &cobra.Command{
		Use:   "warmup",
		Short: "Preload the profile and statistics",
		Args:  cobra.NoArgs,
	}
	warmup.RunE = c.run(func(ctx context.Context, a *app) error {
		n := a.svc.Warmup(ctx)
		fmt.Fprintf(a.out, "Warmed up %d resource(s).\n", n)
		return nil
	})

	cmd.AddCommand(stats, clearCmd, warmup)
	return cmd
}

func (c *cli) metricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print client metrics recorded by this process",
		Long: `Print the client metrics recorded by this invocation. With
--warmup the profile and statistics are fetched first, which exercises the
transport and the cache.`,
		Args: cobra.NoArgs,
	}
	var warm bool
	cmd.Flags().BoolVar(&warm, "warmup", false, "warm the cache before printing")

	cmd.RunE = c.run(func(ctx context.Context, a *app) error {
		if warm {
			a.svc.Warmup(ctx)
		}
		samples, err := metrics.Snapshot(metrics.Gatherer)
		if err != nil {
			return invalid("%v", err)
		}
		if c.jsonOutput {
			return printJSON(a.out, samples)
		}
		printMetrics(a.out, samples)
		return nil
	})
	return cmd
}
