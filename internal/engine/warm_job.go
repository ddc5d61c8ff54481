package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/OxyHQ/mention-feed/internal/feed"
	"github.com/OxyHQ/mention-feed/internal/session"
)

// ViewerSource yields (viewer, feed type) pairs with recent activity so
// the warm job knows whose first pages to precompute.
type ViewerSource interface {
	ActiveViewers(ctx context.Context, max int) ([]session.ViewerFeed, error)
}

// WarmJobMetrics is the centralized background job metrics reporter.
type WarmJobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// warmJobType labels this job in the centralized metrics.
const warmJobType = "cache_warm"

// Warm job defaults.
const (
	DefaultWarmInterval   = 10 * time.Minute
	DefaultWarmJobTimeout = 2 * time.Minute
	DefaultWarmBatchSize  = 200
)

// WarmJobConfig configures the periodic cache warm job.
type WarmJobConfig struct {
	// Interval is the duration between warm cycles.
	Interval time.Duration
	// Timeout for each warm cycle.
	Timeout time.Duration
	// BatchSize caps how many viewer feeds one cycle warms.
	BatchSize int
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for centralized background job tracking.
	Metrics WarmJobMetrics
}

// WarmJob periodically precomputes first pages for recently active
// viewers so their next cold request is a cache hit. Per-viewer failures
// are counted and skipped; a cycle only fails wholesale when the viewer
// source itself is unavailable.
type WarmJob struct {
	config WarmJobConfig
	engine *Engine
	source ViewerSource

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWarmJob creates a cache warm job.
func NewWarmJob(config WarmJobConfig, eng *Engine, source ViewerSource) *WarmJob {
	if config.Interval <= 0 {
		config.Interval = DefaultWarmInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultWarmJobTimeout
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultWarmBatchSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &WarmJob{
		config: config,
		engine: eng,
		source: source,
	}
}

// Start begins periodic warming. Returns immediately; the job runs in a
// background goroutine. Unlike the trending job there is no immediate
// first run: warming a cold instance would race request-path computes
// for no benefit.
func (j *WarmJob) Start(ctx context.Context) error {
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
func (j *WarmJob) Stop() {
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
func (j *WarmJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *WarmJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("cache warm job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("cache warm job stopping due to stop signal")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

// runOnce executes a single warm cycle with timeout and metrics.
func (j *WarmJob) runOnce(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	startTime := time.Now()
	warmed, err := j.warmBatch(ctx)
	duration := time.Since(startTime).Seconds()

	status := "success"
	if err != nil {
		status = "failure"
		j.config.Logger.Error("cache warm cycle failed",
			"duration_seconds", duration,
			"error", err)
		if j.config.Metrics != nil {
			j.config.Metrics.IncJobErrors(warmJobType, "viewer_source_error")
		}
	} else {
		j.config.Logger.Info("cache warm cycle completed",
			"warmed", warmed,
			"duration_seconds", duration)
	}

	if j.config.Metrics != nil {
		j.config.Metrics.IncJobsTotal(warmJobType, status)
		j.config.Metrics.ObserveJobDuration(warmJobType, duration)
	}
}

// warmBatch warms one batch of active viewer feeds and returns how many
// succeeded.
func (j *WarmJob) warmBatch(ctx context.Context) (int, error) {
	viewers, err := j.source.ActiveViewers(ctx, j.config.BatchSize)
	if err != nil {
		return 0, err
	}

	warmed := 0
	for _, vf := range viewers {
		feedType := feed.Type(vf.FeedType)
		if !feedType.Ranked() {
			continue
		}
		if err := j.engine.WarmFeed(ctx, vf.ViewerID, feedType); err != nil {
			j.config.Logger.Warn("failed to warm feed",
				"viewer_id", vf.ViewerID,
				"feed_type", vf.FeedType,
				"error", err)
			if j.config.Metrics != nil {
				j.config.Metrics.IncJobErrors(warmJobType, "warm_error")
			}
			continue
		}
		warmed++
	}
	return warmed, nil
}

// RunNow immediately runs a single warm cycle without waiting for the
// ticker. Useful for testing or forcing immediate warming.
func (j *WarmJob) RunNow() {
	j.runOnce(context.Background())
}
