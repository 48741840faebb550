package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dailyix/errors"
	"github.com/teranos/dailyix/pulse/async"
)

// JobsCmd represents the jobs command
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and clean up queued jobs",
}

var (
	jobsStatus    string
	jobsLimit     int
	jobsOlderThan time.Duration
)

var jobsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List recent jobs",
	RunE:    runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state, progress and result of one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE:  runJobsStats,
}

var jobsClearFailedCmd = &cobra.Command{
	Use:   "clear-failed",
	Short: "Delete dead and retrying import jobs",
	RunE:  runJobsClearFailed,
}

var jobsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished jobs older than a cutoff",
	RunE:  runJobsPrune,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (queued, processing, retrying, completed, failed)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs to list")
	jobsPruneCmd.Flags().DurationVar(&jobsOlderThan, "older-than", 7*24*time.Hour, "Age cutoff for completed and failed jobs")

	JobsCmd.AddCommand(jobsListCmd)
	JobsCmd.AddCommand(jobsStatusCmd)
	JobsCmd.AddCommand(jobsStatsCmd)
	JobsCmd.AddCommand(jobsClearFailedCmd)
	JobsCmd.AddCommand(jobsPruneCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	var status *async.JobStatus
	if jobsStatus != "" {
		if !async.IsValidStatus(jobsStatus) {
			return errors.NewInvalidRequestError("unknown job status %q", jobsStatus)
		}
		s := async.JobStatus(jobsStatus)
		status = &s
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.queue.ListJobs(status, jobsLimit)
	if err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(jobs)
	}
	if len(jobs) == 0 {
		pterm.Info.Println("No jobs")
		return nil
	}

	now := time.Now().UTC()
	data := pterm.TableData{{"ID", "Handler", "Source", "Status", "Progress", "Attempts", "Created"}}
	for _, j := range jobs {
		status := string(j.Status)
		if !j.Status.IsTerminal() && !j.IsDue(now) {
			status += " (delayed)"
		}
		data = append(data, []string{
			j.ID,
			j.HandlerName,
			truncate(j.Source, 40),
			status,
			fmt.Sprintf("%.0f%%", j.Progress.Percentage()),
			strconv.Itoa(j.Attempts()),
			j.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.orchestrator.JobStatus(args[0])
	if err != nil {
		if errors.IsNotFoundError(err) {
			return fmt.Errorf("job %s not found", args[0])
		}
		return err
	}
	if JSONOutput {
		return printJSON(report)
	}

	pterm.Info.Printf("Job %s (%s)\n", report.JobID, report.Handler)
	pterm.Printf("  File: %s\n", report.FileReference)
	pterm.Printf("  Status: %s\n", report.Status)
	pterm.Printf("  Progress: %d/%d (%.1f%%)\n", report.Progress.Current, report.Progress.Total, report.Percentage)
	pterm.Printf("  Attempts: %d (retries %d of %d)\n", report.Attempts, report.RetryCount, report.MaxRetries)
	if report.RunAt != nil {
		pterm.Printf("  Next run: %s\n", report.RunAt.Local().Format("2006-01-02 15:04:05"))
	}
	if report.LastError != "" {
		pterm.Error.Printf("Last error: %s\n", report.LastError)
	}
	if report.Result != nil {
		printResult(report.Result)
	}
	return nil
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.orchestrator.ImportStats()
	if err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(stats)
	}

	data := pterm.TableData{
		{"Metric", "Value"},
		{"Enqueued", strconv.Itoa(stats.TotalEnqueued)},
		{"Processed", strconv.Itoa(stats.TotalProcessed)},
		{"Failed", strconv.Itoa(stats.TotalFailed)},
		{"Import jobs queued", strconv.Itoa(stats.ImportJobsQueued)},
		{"Workers busy", strconv.Itoa(stats.WorkersBusy)},
		{"Queue latency", fmt.Sprintf("%.1fs", stats.QueueLatency)},
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runJobsClearFailed(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.orchestrator.ClearFailedImportJobs()
	if err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(res)
	}
	pterm.Success.Printf("Cleared %d job(s): %d dead, %d retrying\n", res.TotalCleared, res.DeadJobsCleared, res.RetryJobsCleared)
	return nil
}

func runJobsPrune(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.queue.Cleanup(jobsOlderThan)
	if err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(map[string]int{"deleted": n})
	}
	pterm.Success.Printf("Deleted %d finished job(s) older than %s\n", n, jobsOlderThan)
	return nil
}
