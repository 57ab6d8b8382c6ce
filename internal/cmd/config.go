package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lakefront/depot/internal/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the annotated default configuration",
	Long:  `Write the default configuration as YAML to the given path (default: depot.yaml).`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "depot.yaml"
	if len(args) == 1 {
		path = args[0]
	}

	if !configInitForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	body, err := config.Example()
	if err != nil {
		return err
	}
	// #nosec G306 -- config templates are not secrets
	if err := os.WriteFile(path, body, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
