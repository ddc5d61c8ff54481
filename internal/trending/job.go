package trending

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JobMetrics provides centralized background job metrics tracking.
// This interface allows the job to report to the centralized job metrics
// system.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// jobType labels this job in the centralized metrics.
const jobType = "trending_aggregate"

// DefaultJobTimeout bounds a single aggregation cycle.
const DefaultJobTimeout = 5 * time.Minute

// JobConfig configures the periodic trending aggregation job.
type JobConfig struct {
	// Interval is the duration between aggregation cycles.
	Interval time.Duration
	// Timeout for each aggregation cycle.
	Timeout time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
}

// Job periodically runs the trending aggregator. Multiple instances may
// run the same timer: the aggregator's wholesale-replace semantics make
// concurrent runs idempotent.
type Job struct {
	config     JobConfig
	aggregator *Aggregator

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJob creates a trending aggregation job.
func NewJob(config JobConfig, aggregator *Aggregator) *Job {
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultJobTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Job{
		config:     config,
		aggregator: aggregator,
	}
}

// Start begins the periodic aggregation with one immediate run so fresh
// instances serve trending data before the first tick. Returns
// immediately; the job runs in a background goroutine.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the job to stop and waits for it to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// run is the main loop for the aggregation job.
func (j *Job) run(ctx context.Context) {
	defer close(j.doneCh)

	j.runOnce(ctx)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("trending job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("trending job stopping due to stop signal")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

// runOnce executes a single aggregation cycle with timeout and metrics.
func (j *Job) runOnce(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	startTime := time.Now()
	err := j.aggregator.Calculate(ctx)
	duration := time.Since(startTime).Seconds()

	status := "success"
	if err != nil {
		status = "failure"
		j.config.Logger.Error("trending aggregation failed",
			"duration_seconds", duration,
			"error", err)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobErrors(jobType, "aggregation_error")
		}
	}

	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobType, status)
		j.config.JobMetrics.ObserveJobDuration(jobType, duration)
	}
}

// RunNow immediately runs a single aggregation cycle without waiting for
// the ticker. Useful for testing or forcing immediate updates.
func (j *Job) RunNow() {
	j.runOnce(context.Background())
}
