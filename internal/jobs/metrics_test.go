package jobs

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func histogramCount(t *testing.T, vec *prometheus.HistogramVec, jobType string) uint64 {
	t.Helper()
	obs, err := vec.GetMetricWithLabelValues(jobType)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%q): %v", jobType, err)
	}
	var m dto.Metric
	if err := obs.(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestNewMetrics_Collectors(t *testing.T) {
	m := NewMetrics()
	if got := len(m.Collectors()); got != 3 {
		t.Errorf("Collectors() returned %d collectors, want 3", got)
	}
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m.IncJobsTotal(JobTypeTrendingAggregate, StatusSuccess)
	m.ObserveJobDuration(JobTypeTrendingAggregate, 1.0)
	m.IncJobErrors(JobTypeCacheWarm, "warm_error")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := make(map[string]bool)
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		MetricBackgroundJobsTotal,
		MetricBackgroundJobsDuration,
		MetricBackgroundJobErrorsTotal,
	} {
		if !found[name] {
			t.Errorf("metric %s missing from registry output", name)
		}
	}
}

func TestMetrics_RegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := NewMetrics().Register(reg); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := NewMetrics().Register(reg); err == nil {
		t.Error("registering a second Metrics on the same registry should fail")
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 3; i++ {
		m.IncJobsTotal(JobTypeTrendingAggregate, StatusSuccess)
	}
	m.IncJobsTotal(JobTypeCacheWarm, StatusFailure)
	m.IncJobErrors(JobTypeCacheWarm, "viewer_source_error")
	m.IncJobErrors(JobTypeCacheWarm, "viewer_source_error")
	m.IncJobErrors(JobTypeTrendingAggregate, "aggregation_error")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"trending success", testutil.ToFloat64(m.jobsTotal.WithLabelValues(JobTypeTrendingAggregate, StatusSuccess)), 3},
		{"warm failure", testutil.ToFloat64(m.jobsTotal.WithLabelValues(JobTypeCacheWarm, StatusFailure)), 1},
		{"warm source errors", testutil.ToFloat64(m.jobErrors.WithLabelValues(JobTypeCacheWarm, "viewer_source_error")), 2},
		{"aggregation errors", testutil.ToFloat64(m.jobErrors.WithLabelValues(JobTypeTrendingAggregate, "aggregation_error")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestMetrics_ObserveJobDuration(t *testing.T) {
	m := NewMetrics()

	durations := []float64{0.2, 1.5, 42.0}
	for _, d := range durations {
		m.ObserveJobDuration(JobTypeSessionSweep, d)
	}

	if got := histogramCount(t, m.jobsDuration, JobTypeSessionSweep); got != uint64(len(durations)) {
		t.Errorf("sample count = %d, want %d", got, len(durations))
	}
	// Other job types stay untouched.
	if got := histogramCount(t, m.jobsDuration, JobTypeTrendingAggregate); got != 0 {
		t.Errorf("trending sample count = %d, want 0", got)
	}
}

func TestMetrics_Concurrency(t *testing.T) {
	m := NewMetrics()

	const goroutines, iterations = 10, 100
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				m.IncJobsTotal(JobTypeCacheWarm, StatusSuccess)
				m.ObserveJobDuration(JobTypeCacheWarm, 0.5)
				m.IncJobErrors(JobTypeCacheWarm, "warm_error")
			}
		}()
	}
	wg.Wait()

	want := float64(goroutines * iterations)
	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues(JobTypeCacheWarm, StatusSuccess)); got != want {
		t.Errorf("jobsTotal = %v, want %v", got, want)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues(JobTypeCacheWarm, "warm_error")); got != want {
		t.Errorf("jobErrors = %v, want %v", got, want)
	}
	if got := histogramCount(t, m.jobsDuration, JobTypeCacheWarm); got != uint64(goroutines*iterations) {
		t.Errorf("jobsDuration sample count = %d, want %d", got, goroutines*iterations)
	}
}
