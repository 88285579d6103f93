package main

import (
	"github.com/spf13/cobra"

	"scoring-service/internal/queue"
	"scoring-service/internal/store"
)

var showQueueEntry bool

var jobCmd = &cobra.Command{
	Use:   "job <job_id>",
	Short: "Print a score job record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		job, err := store.NewScoreJobs(store.NewRecords(client), cfg.ScoreJobTTL).Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !showQueueEntry {
			return printJSON(cmd.OutOrStdout(), job)
		}
		out := map[string]any{"record": job}
		if entry, err := queue.NewRedisQueue(client, cfg).Get(cmd.Context(), args[0]); err == nil {
			out["queue"] = map[string]any{
				"state":         entry.State,
				"attempts_made": entry.AttemptsMade,
				"max_attempts":  entry.MaxAttempts,
				"last_error":    entry.LastError,
			}
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var submissionCmd = &cobra.Command{
	Use:   "submission <submission_id>",
	Short: "Print a submission record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		sub, err := store.NewSubmissions(store.NewRecords(client), cfg.SubmissionTTL).Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sub)
	},
}

func init() {
	jobCmd.Flags().BoolVar(&showQueueEntry, "queue", false, "Include the queue entry state")
	rootCmd.AddCommand(jobCmd, submissionCmd)
}
