package main

import (
	"errors"

	"github.com/spf13/cobra"

	"scoring-service/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit <job_id>",
	Short: "Print the audit trail of a score job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if cfg.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is not set")
		}
		pg, err := audit.NewPostgres(cmd.Context(), cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()

		events, err := pg.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"job_id": args[0], "events": events})
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
