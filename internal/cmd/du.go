package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var duCmd = &cobra.Command{
	Use:   "du <prefix>",
	Short: "Report aggregate size under a prefix",
	Long: `Sum the sizes of every object under the given key prefix, walking the
full listing. An operator tool: it talks to the backend directly and is not
subject to per-user access rights.`,
	Args: cobra.ExactArgs(1),
	RunE: runDU,
}

func init() {
	rootCmd.AddCommand(duCmd)
}

func runDU(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	prefix := args[0]

	a, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	meta, err := a.store.DirectorySize(ctx, prefix)
	if err != nil {
		return err
	}

	a.logger.Info("directory size",
		zap.String("prefix", prefix),
		zap.Int64("bytes", meta.Size),
		zap.String("human", humanBytes(meta.Size)))
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
