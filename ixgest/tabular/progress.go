package tabular

import (
	"math"

	"go.uber.org/zap"
)

// ProgressSink receives progress updates from a running import.
// The pipeline calls it whenever one was supplied.
type ProgressSink interface {
	ReportProgress(current, total int)
}

// ProgressSinkFunc adapts a function to ProgressSink.
type ProgressSinkFunc func(current, total int)

func (f ProgressSinkFunc) ReportProgress(current, total int) {
	f(current, total)
}

// Percentage returns current/total as a percentage rounded to two places.
// An empty file counts as done.
func Percentage(current, total int) float64 {
	if total <= 0 {
		return 100
	}
	return math.Round(float64(current)/float64(total)*10000) / 100
}

// ProgressReporter emits progress every interval rows and on the last row.
// It only observes; nothing it does changes the run.
type ProgressReporter struct {
	label    string
	total    int
	interval int
	sink     ProgressSink
	logger   *zap.SugaredLogger
	last     int
}

// NewProgressReporter creates a reporter. interval <= 0 reports only the last row.
func NewProgressReporter(label string, total, interval int, sink ProgressSink, logger *zap.SugaredLogger) *ProgressReporter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ProgressReporter{
		label:    label,
		total:    total,
		interval: interval,
		sink:     sink,
		logger:   logger,
	}
}

// Tick records that current rows have been consumed.
func (p *ProgressReporter) Tick(current int) {
	due := current == p.total || (p.interval > 0 && current%p.interval == 0)
	if !due || current == p.last {
		return
	}
	p.last = current

	p.logger.Infow("Progress",
		"import", p.label,
		"current", current,
		"total", p.total,
		"percentage", Percentage(current, p.total),
	)
	if p.sink != nil {
		p.sink.ReportProgress(current, p.total)
	}
}
