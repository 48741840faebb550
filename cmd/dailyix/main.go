package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teranos/dailyix/cmd/dailyix/commands"
	"github.com/teranos/dailyix/logger"
)

var rootCmd = &cobra.Command{
	Use:   "dailyix",
	Short: "dailyix - Dailies catalog import service",
	Long: `dailyix - import dailies and their health pillar links from CSV and
spreadsheet files, locally or from object storage, as durable background jobs.

Available commands:
  import   - Schedule (or run) dailies and health pillar imports
  jobs     - Inspect and clean up import jobs
  upload   - Register uploaded files for processing
  pillars  - Manage health pillars (relationship targets)
  dailies  - Browse imported dailies
  pulse    - Run the job workers
  am       - Manage configuration

Examples:
  dailyix import dailies s3://bucket/dailies.csv
  dailyix import pillars ./links.csv --sync --test-mode
  dailyix jobs status <job-id>
  dailyix pulse start --workers 2 --metrics-addr :9090`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real environment variables win
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&commands.JSONOutput, "json", false, "Print command results as JSON")

	rootCmd.AddCommand(commands.ImportCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.UploadCmd)
	rootCmd.AddCommand(commands.PillarsCmd)
	rootCmd.AddCommand(commands.DailiesCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
