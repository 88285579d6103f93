package main

import (
	"github.com/spf13/cobra"

	"scoring-service/internal/queue"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print queue entry counts by state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		m, err := queue.NewRedisQueue(client, cfg).Metrics(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), m)
	},
}

var failedCount int64

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List the most recently failed job ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		ids, err := queue.NewRedisQueue(client, cfg).Failed(cmd.Context(), failedCount)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"items": ids})
	},
}

func init() {
	failedCmd.Flags().Int64VarP(&failedCount, "count", "n", 20, "Maximum ids to list")
	rootCmd.AddCommand(metricsCmd, failedCmd)
}
