package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/dailyix/ixgest/orchestrator"
	"github.com/teranos/dailyix/ixgest/tabular"
	"github.com/teranos/dailyix/ixgest/watch"
	"github.com/teranos/dailyix/logger"
	"github.com/teranos/dailyix/metrics"
	"github.com/teranos/dailyix/pulse/async"
	"github.com/teranos/dailyix/uploads"
)

// PulseCmd represents the pulse command
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Run the import job workers",
	Long: `Pulse processes queued import jobs.

Jobs survive restarts: anything left in processing by a crash is
requeued on start. Failed jobs are retried with a growing delay and
dead-lettered once their retries run out.

Example:
  dailyix pulse start                          # 1 worker, config defaults
  dailyix pulse start --workers 3              # 3 concurrent workers
  dailyix pulse start --watch-dir ./incoming   # also enqueue dropped files`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the workers in the foreground
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the workers",
	Long: `Start the worker pool in foreground mode.

Optionally serves Prometheus metrics (--metrics-addr) and watches a drop
folder (--watch-dir) whose dailies/ and daily_health_pillars/
subdirectories are imported as files land. Runs until interrupted, then
lets in-flight jobs finish within the shutdown timeout.`,
	RunE: runPulseStart,
}

func init() {
	PulseStartCmd.Flags().Int("workers", 0, "Number of concurrent workers (0 = use config)")
	PulseStartCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	PulseStartCmd.Flags().String("watch-dir", "", "Watch this directory for files to import (overrides config)")
	PulseCmd.AddCommand(PulseStartCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		cfg.Pulse.Workers = n
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Pulse.MetricsAddr = addr
	}
	if dir, _ := cmd.Flags().GetString("watch-dir"); dir != "" {
		cfg.Watch.Dir = dir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolCfg := async.DefaultWorkerPoolConfig()
	poolCfg.Workers = cfg.Pulse.Workers
	poolCfg.PollInterval = time.Duration(cfg.Pulse.PollIntervalMS) * time.Millisecond
	poolCfg.RetryBackoff = time.Duration(cfg.Pulse.RetryBackoffSeconds) * time.Second
	poolCfg.RecoveryPerSecond = float64(cfg.Pulse.RecoveryPerSecond)

	// Workers outlive ctx so Stop can drain them
	pool := async.NewWorkerPool(context.Background(), a.db, poolCfg, logger.Logger, nil)
	queue := pool.GetQueue()
	registry := pool.Registry()
	registry.Register(tabular.NewImportHandler(tabular.FileTypeDailies, a.pipeline, queue, logger.Logger))
	registry.Register(tabular.NewImportHandler(tabular.FileTypeDailyHealthPillars, a.pipeline, queue, logger.Logger))
	registry.Register(uploads.NewHandler(a.uploads, a.pipeline, logger.Logger))

	collector := metrics.NewCollector()
	pool.SetObserver(collector)

	orch := orchestrator.New(queue, cfg.Import, cfg.Pulse.MaxRetries, logger.Logger)
	orch.SetWorkerGauge(pool)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Pulse.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Pulse.MetricsAddr, collector, logger.Logger.Named("metrics"))
		})
		g.Go(func() error {
			return collector.SampleQueue(gctx, queue, pool, 15*time.Second, logger.Logger.Named("metrics"))
		})
	}

	updates := queue.Subscribe()
	g.Go(func() error {
		return followJobs(gctx, queue, updates, func(line string) { pterm.Info.Println(line) })
	})

	if cfg.Watch.Dir != "" {
		drop, err := watch.New(cfg.Watch.Dir, cfg.Watch, orch, logger.Logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return drop.Run(gctx)
		})
	}

	pool.Start()

	pterm.Success.Println("Pulse started")
	pterm.Printf("  Workers: %d\n", pool.Workers())
	pterm.Printf("  Poll interval: %v\n", poolCfg.PollInterval)
	pterm.Printf("  Retries: %d (backoff step %v)\n", cfg.Pulse.MaxRetries, poolCfg.RetryBackoff)
	if sys := pool.GetSystemMetrics(); sys.MemoryTotalGB > 0 {
		pterm.Printf("  Memory: %.1f/%.1fGB (%.0f%%)\n", sys.MemoryUsedGB, sys.MemoryTotalGB, sys.MemoryPercent)
	}
	if cfg.Pulse.MetricsAddr != "" {
		pterm.Printf("  Metrics: http://%s/metrics\n", cfg.Pulse.MetricsAddr)
	}
	if cfg.Watch.Dir != "" {
		pterm.Printf("  Drop folder: %s\n", cfg.Watch.Dir)
	}
	pterm.Println()
	pterm.Info.Println("Press Ctrl+C for graceful shutdown")

	<-gctx.Done()
	pterm.Info.Println("Shutting down, waiting for in-flight jobs...")
	pool.Stop()

	if err := g.Wait(); err != nil {
		return fmt.Errorf("pulse stopped with error: %w", err)
	}
	pterm.Success.Println("Pulse stopped")
	return nil
}

// followJobs emits one line per job transition seen on updates until ctx
// ends, then unsubscribes updates from queue.
func followJobs(ctx context.Context, queue *async.Queue, updates chan *async.Job, emit func(string)) error {
	defer queue.Unsubscribe(updates)
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-updates:
			emit(jobUpdateLine(job))
		}
	}
}

func jobUpdateLine(job *async.Job) string {
	line := fmt.Sprintf("%s %s %s (%s)", job.ID, job.HandlerName, job.Status, truncate(job.Source, 60))
	switch job.Status {
	case async.JobStatusRetrying:
		if job.RunAt != nil {
			line += fmt.Sprintf(", retry %d at %s", job.RetryCount, job.RunAt.Local().Format("15:04:05"))
		}
	case async.JobStatusFailed:
		if job.Error != "" {
			line += ": " + job.Error
		}
	}
	return line
}
