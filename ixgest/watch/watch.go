// Package watch turns a drop folder into import jobs.
//
// Layout:
//
//	<dir>/dailies/*.csv|*.xlsx               -> dailies import
//	<dir>/daily_health_pillars/*.csv|*.xlsx  -> relationship import
//
// Writes are debounced per file so a file being copied in is enqueued once,
// after it settles.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/dailyix/am"
	"github.com/teranos/dailyix/errors"
	"github.com/teranos/dailyix/ixgest/orchestrator"
	"github.com/teranos/dailyix/ixgest/tabular"
	"github.com/teranos/dailyix/logger"
)

// Scheduler enqueues imports. *orchestrator.Orchestrator satisfies it.
type Scheduler interface {
	ImportDailies(ref string, opts orchestrator.ScheduleOptions) (*orchestrator.Receipt, error)
	ImportDailyHealthPillars(ref string, opts orchestrator.ScheduleOptions) (*orchestrator.Receipt, error)
}

// DropFolder watches the per-kind subdirectories of one directory.
type DropFolder struct {
	dir      string
	debounce time.Duration
	limiter  *rate.Limiter
	sched    Scheduler
	watcher  *fsnotify.Watcher
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	timers map[string]*time.Timer
	ready  chan string
}

// New creates the subdirectories if needed and starts watching them.
// Call Run to process events.
func New(dir string, cfg am.WatchConfig, sched Scheduler, log *zap.SugaredLogger) (*DropFolder, error) {
	if log == nil {
		log = logger.Logger
	}
	if cfg.DebounceMS <= 0 {
		cfg.DebounceMS = 500
	}
	if cfg.EnqueuePerSecond <= 0 {
		cfg.EnqueuePerSecond = 5
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	for _, kind := range []tabular.FileType{tabular.FileTypeDailies, tabular.FileTypeDailyHealthPillars} {
		sub := filepath.Join(dir, string(kind))
		if err := os.MkdirAll(sub, am.DefaultDirPermissions); err != nil {
			w.Close()
			return nil, errors.Wrapf(err, "failed to create drop folder %s", sub)
		}
		if err := w.Add(sub); err != nil {
			w.Close()
			return nil, errors.Wrapf(err, "failed to watch %s", sub)
		}
	}

	return &DropFolder{
		dir:      dir,
		debounce: time.Duration(cfg.DebounceMS) * time.Millisecond,
		limiter:  rate.NewLimiter(rate.Limit(cfg.EnqueuePerSecond), 1),
		sched:    sched,
		watcher:  w,
		logger:   log.Named("watch"),
		timers:   make(map[string]*time.Timer),
		ready:    make(chan string, 64),
	}, nil
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (d *DropFolder) Run(ctx context.Context) error {
	defer d.stop()
	d.logger.Infow("Watching drop folder", "dir", d.dir, "debounce", d.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, ok := kindFor(d.dir, event.Name); !ok {
				continue
			}
			d.schedule(ctx, event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warnw("Drop folder watcher error", logger.FieldError, err)

		case path := <-d.ready:
			if err := d.limiter.Wait(ctx); err != nil {
				return nil
			}
			d.enqueue(path)
		}
	}
}

// schedule (re)starts the settle timer for path.
func (d *DropFolder) schedule(ctx context.Context, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[path]; ok {
		t.Stop()
	}
	d.timers[path] = time.AfterFunc(d.debounce, func() {
		d.mu.Lock()
		delete(d.timers, path)
		d.mu.Unlock()

		select {
		case d.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (d *DropFolder) enqueue(path string) {
	kind, _ := kindFor(d.dir, path)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		d.logger.Debugw("Dropped file vanished before enqueue", "path", path)
		return
	}

	var (
		r   *orchestrator.Receipt
		err error
	)
	if kind == tabular.FileTypeDailyHealthPillars {
		r, err = d.sched.ImportDailyHealthPillars(path, orchestrator.ScheduleOptions{})
	} else {
		r, err = d.sched.ImportDailies(path, orchestrator.ScheduleOptions{})
	}
	if err != nil {
		d.logger.Errorw("Failed to enqueue dropped file", "path", path, logger.FieldError, err)
		return
	}
	d.logger.Infow("Enqueued dropped file", "path", path, logger.FieldImport, kind, logger.FieldJobID, r.JobID)
}

func (d *DropFolder) stop() {
	d.mu.Lock()
	for p, t := range d.timers {
		t.Stop()
		delete(d.timers, p)
	}
	d.mu.Unlock()

	if err := d.watcher.Close(); err != nil {
		d.logger.Warnw("Failed to close drop folder watcher", logger.FieldError, err)
	}
}

// kindFor maps a path under dir to its import kind. Hidden files, editor
// lock files and anything that is not CSV or a spreadsheet are ignored.
func kindFor(dir, path string) (tabular.FileType, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return "", false
	}
	if !strings.EqualFold(filepath.Ext(base), ".csv") && !tabular.IsSpreadsheet(base) {
		return "", false
	}

	rel, err := filepath.Rel(dir, filepath.Dir(path))
	if err != nil {
		return "", false
	}
	kind, err := tabular.ParseFileType(rel)
	if err != nil {
		return "", false
	}
	return kind, true
}
