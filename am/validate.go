package am

import "github.com/teranos/dailyix/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Pulse workers: 0 = enqueue only, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.PollIntervalMS < 0 {
		return errors.Newf("pulse.poll_interval_ms must be >= 0, got %d", c.Pulse.PollIntervalMS)
	}
	if c.Pulse.MaxRetries < 0 {
		return errors.Newf("pulse.max_retries must be >= 0, got %d", c.Pulse.MaxRetries)
	}
	if c.Pulse.RetryBackoffSeconds < 0 {
		return errors.Newf("pulse.retry_backoff_seconds must be >= 0, got %d", c.Pulse.RetryBackoffSeconds)
	}

	// Error budget: 0 aborts on the first row error
	if c.Import.MaxErrors < 0 {
		return errors.Newf("import.max_errors must be >= 0, got %d", c.Import.MaxErrors)
	}
	if c.Import.DailiesBatchSize < 0 || c.Import.PillarsBatchSize < 0 {
		return errors.Newf("import batch sizes must be >= 0, got dailies=%d pillars=%d",
			c.Import.DailiesBatchSize, c.Import.PillarsBatchSize)
	}
	if c.Import.DailiesProgressInterval < 0 || c.Import.PillarsProgressInterval < 0 {
		return errors.Newf("import progress intervals must be >= 0, got dailies=%d pillars=%d",
			c.Import.DailiesProgressInterval, c.Import.PillarsProgressInterval)
	}
	if c.Import.FullDatasetDelaySeconds < 0 {
		return errors.Newf("import.full_dataset_delay_seconds must be >= 0, got %d", c.Import.FullDatasetDelaySeconds)
	}
	if c.Import.BatchStaggerSeconds < 0 {
		return errors.Newf("import.batch_stagger_seconds must be >= 0, got %d", c.Import.BatchStaggerSeconds)
	}

	if c.Watch.DebounceMS < 0 {
		return errors.Newf("watch.debounce_ms must be >= 0, got %d", c.Watch.DebounceMS)
	}
	if c.Watch.EnqueuePerSecond < 0 {
		return errors.Newf("watch.enqueue_per_second must be >= 0, got %d", c.Watch.EnqueuePerSecond)
	}

	return nil
}
