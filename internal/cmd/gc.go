package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var gcMaxAge time.Duration

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reap stale multipart sessions and provisional records",
	Long: `Abort multipart upload sessions that were initiated but never completed,
and remove metadata records whose upload was never observed. Only debris
older than --max-age is touched.`,
	RunE: runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
	gcCmd.Flags().DurationVar(&gcMaxAge, "max-age", 24*time.Hour, "minimum age of sessions and records to reap")
}

func runGC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.manager.CollectGarbage(ctx, gcMaxAge)
	if err != nil {
		return err
	}

	a.logger.Info("garbage collection finished",
		zap.Int("sessions_aborted", report.SessionsAborted),
		zap.Int("records_removed", report.RecordsRemoved))
	return nil
}
