package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dailyix/ixgest/orchestrator"
	"github.com/teranos/dailyix/ixgest/tabular"
)

// ImportCmd represents the import command
var ImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Schedule dailies and health pillar imports",
	Long: `Schedule imports of dailies and daily health pillar links.

File references may be local paths, file:// URLs, s3://bucket/key or
http(s) URLs. Spreadsheets (.xlsx) are converted to CSV before parsing.

By default the import is enqueued as a background job for 'dailyix pulse start'.
Pass --sync to run it in this process instead.`,
}

var (
	importTestMode      bool
	importMaxErrors     int
	importClearExisting bool
	importSync          bool
	importDelay         int
	importStagger       int
	importUserEmail     string
	importValidateType  string
)

var importDailiesCmd = &cobra.Command{
	Use:   "dailies <file>",
	Short: "Import dailies from a CSV or spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, tabular.FileTypeDailies, args[0])
	},
}

var importPillarsCmd = &cobra.Command{
	Use:   "pillars <file>",
	Short: "Import daily to health pillar links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, tabular.FileTypeDailyHealthPillars, args[0])
	},
}

var importFullCmd = &cobra.Command{
	Use:   "full <dailies-file> <pillars-file>",
	Short: "Import dailies, then their health pillar links after a delay",
	Args:  cobra.ExactArgs(2),
	RunE:  runImportFull,
}

var importBatchCmd = &cobra.Command{
	Use:   "batch <file>...",
	Short: "Import several dailies files with staggered start times",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImportBatch,
}

var importValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check that a file can be imported",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportValidate,
}

func init() {
	for _, c := range []*cobra.Command{importDailiesCmd, importPillarsCmd, importFullCmd, importBatchCmd} {
		c.Flags().BoolVar(&importTestMode, "test-mode", false, "Parse and validate without writing")
		c.Flags().IntVar(&importMaxErrors, "max-errors", 0, "Row error budget (0 = use config)")
		c.Flags().StringVar(&importUserEmail, "user-email", "", "Who requested the import")
	}
	importDailiesCmd.Flags().BoolVar(&importSync, "sync", false, "Run in this process instead of enqueueing")
	importPillarsCmd.Flags().BoolVar(&importSync, "sync", false, "Run in this process instead of enqueueing")
	importPillarsCmd.Flags().BoolVar(&importClearExisting, "clear-existing", false, "Replace each daily's links instead of adding to them")
	importFullCmd.Flags().BoolVar(&importClearExisting, "clear-existing", false, "Replace each daily's links instead of adding to them")
	importFullCmd.Flags().IntVar(&importDelay, "delay", 0, "Seconds between the dailies and pillars jobs (0 = use config)")
	importBatchCmd.Flags().IntVar(&importStagger, "stagger", 0, "Seconds between consecutive jobs (0 = use config)")
	importValidateCmd.Flags().StringVar(&importValidateType, "type", string(tabular.FileTypeDailies), "Import type: dailies or daily_health_pillars")

	ImportCmd.AddCommand(importDailiesCmd)
	ImportCmd.AddCommand(importPillarsCmd)
	ImportCmd.AddCommand(importFullCmd)
	ImportCmd.AddCommand(importBatchCmd)
	ImportCmd.AddCommand(importValidateCmd)
}

// importOptions turns flags into options. Flags left unset keep the
// config values.
func importOptions(cmd *cobra.Command) tabular.Options {
	opts := tabular.Options{TestMode: importTestMode}
	if cmd.Flags().Changed("max-errors") {
		n := importMaxErrors
		opts.MaxErrors = &n
	}
	if cmd.Flags().Changed("clear-existing") {
		b := importClearExisting
		opts.ClearExisting = &b
	}
	return opts
}

func scheduleOptions(cmd *cobra.Command) orchestrator.ScheduleOptions {
	opts := orchestrator.ScheduleOptions{
		Options:   importOptions(cmd),
		UserEmail: importUserEmail,
	}
	if cmd.Flags().Changed("delay") {
		n := importDelay
		opts.DelaySeconds = &n
	}
	if cmd.Flags().Changed("stagger") {
		n := importStagger
		opts.StaggerSeconds = &n
	}
	return opts
}

func runImport(cmd *cobra.Command, kind tabular.FileType, ref string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if importSync {
		return runImportSync(a, kind, ref, importOptions(cmd))
	}

	var receipt *orchestrator.Receipt
	if kind == tabular.FileTypeDailies {
		receipt, err = a.orchestrator.ImportDailies(ref, scheduleOptions(cmd))
	} else {
		receipt, err = a.orchestrator.ImportDailyHealthPillars(ref, scheduleOptions(cmd))
	}
	if err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(receipt)
	}
	printReceipt(receipt)
	return nil
}

func runImportSync(a *app, kind tabular.FileType, ref string, opts tabular.Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var spinner *pterm.SpinnerPrinter
	if !JSONOutput {
		if opts.TestMode {
			pterm.Warning.Println("TEST MODE: rows are validated but nothing is written")
		}
		spinner, _ = pterm.DefaultSpinner.Start(fmt.Sprintf("Importing %s from %s...", kind, ref))
	}

	sink := tabular.ProgressSinkFunc(func(current, total int) {
		if spinner != nil {
			spinner.UpdateText(fmt.Sprintf("Importing %s: %d/%d rows (%.1f%%)", kind, current, total, tabular.Percentage(current, total)))
		}
	})

	res, err := a.pipeline.Import(ctx, kind, ref, opts, sink)
	if spinner != nil {
		if err != nil {
			spinner.Fail(fmt.Sprintf("Import failed: %v", err))
		} else {
			spinner.Success("Import completed")
		}
	}

	if JSONOutput && res != nil {
		if perr := printJSON(res); perr != nil {
			return perr
		}
	} else if res != nil {
		printResult(res)
	}
	return err
}

func runImportFull(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	receipt, err := a.orchestrator.ImportFullDataset(args[0], args[1], scheduleOptions(cmd))
	if err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(receipt)
	}
	printReceipt(receipt.Dailies)
	printReceipt(receipt.Pillars)
	pterm.Info.Printf("Pillars run %s after dailies\n", receipt.Delay)
	return nil
}

func runImportBatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	receipt, err := a.orchestrator.BatchImportDailies(args, scheduleOptions(cmd))
	if err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(receipt)
	}
	for _, r := range receipt.Jobs {
		printReceipt(r)
	}
	pterm.Info.Printf("%d files enqueued\n", receipt.FileCount)
	return nil
}

func runImportValidate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	v := a.orchestrator.ValidateImportFile(args[0], importValidateType)
	if JSONOutput {
		if err := printJSON(v); err != nil {
			return err
		}
	} else if v.Valid {
		pterm.Success.Printf("%s can be imported as %s\n", v.FileReference, v.ImportType)
	} else {
		for _, e := range v.Errors {
			pterm.Error.Println(e)
		}
	}
	if !v.Valid {
		return fmt.Errorf("validation failed with %d error(s)", len(v.Errors))
	}
	return nil
}

func printReceipt(r *orchestrator.Receipt) {
	msg := fmt.Sprintf("Enqueued %s job %s for %s", r.Handler, r.JobID, r.FileReference)
	if r.RunAt != nil {
		msg += fmt.Sprintf(" (runs at %s)", r.RunAt.Local().Format("15:04:05"))
	}
	pterm.Success.Println(msg)
}

func printResult(res *tabular.Result) {
	pterm.Println()
	pterm.Info.Printf("Run %s (%s)\n", res.RunID, res.Status)
	pterm.Printf("  Rows processed: %d/%d\n", res.ProcessedRows, res.TotalRows)
	pterm.Printf("  Duration: %.2fs\n", res.Duration)
	if d := res.DailiesSummary; d != nil {
		pterm.Printf("  Created: %d  Updated: %d  Unchanged: %d\n", d.EntitiesCreated, d.EntitiesUpdated, d.EntitiesUnchanged)
	}
	if r := res.RelationshipSummary; r != nil {
		pterm.Printf("  Links created: %d\n", r.RelationshipsCreated)
		if len(r.MissingReferences) > 0 {
			pterm.Warning.Printf("Unknown dailies: %d\n", len(r.MissingReferences))
		}
	}
	if len(res.Errors) > 0 {
		pterm.Warning.Printf("%d row error(s)\n", len(res.Errors))
		for i, e := range res.Errors {
			if i == 10 {
				pterm.Printf("  ... and %d more\n", len(res.Errors)-10)
				break
			}
			pterm.Printf("  %s\n", e)
		}
	}
}
