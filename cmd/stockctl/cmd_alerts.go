package main

import (
	"fmt"
	"text/tabwriter"

	"stockpos/internal/config"
	"stockpos/internal/infra"
	"stockpos/internal/worker"

	"github.com/spf13/cobra"
)

var dlqLimit int64

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect the low-stock alert queue",
}

// stockctl alerts dlq
var alertsDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List alert jobs that exhausted their retries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		rdb, err := infra.NewRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()

		total, err := worker.DLQLength(cmd.Context(), rdb, worker.QueueAlerts)
		if err != nil {
			return err
		}
		entries, err := worker.DLQPeek(cmd.Context(), rdb, worker.QueueAlerts, dlqLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d dead alert job(s)\n", total)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FAILED AT\tTYPE\tATTEMPTS\tREASON")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.FailedAt, e.JobType, e.Attempts, e.Reason)
		}
		return tw.Flush()
	},
}

func init() {
	alertsDLQCmd.Flags().Int64Var(&dlqLimit, "limit", 20, "entries to show")
	alertsCmd.AddCommand(alertsDLQCmd)
}
