package jobs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// Simulates a worker process recording a mixed run history and verifies
// every label combination is visible through registry gathering, the way
// the /metrics endpoint would expose it.
func TestMetrics_EndToEndGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	jobTypes := []string{JobTypeTrendingAggregate, JobTypeCacheWarm, JobTypeSessionSweep}
	for _, jt := range jobTypes {
		m.IncJobsTotal(jt, StatusSuccess)
		m.ObserveJobDuration(jt, 0.05)
		m.IncJobsTotal(jt, StatusFailure)
		m.ObserveJobDuration(jt, 0.2)
		m.IncJobErrors(jt, "timeout")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	got := make(map[string]int)
	for _, f := range families {
		got[f.GetName()] = len(f.GetMetric())
	}

	// jobsTotal carries success+failure per type; the others one series per type.
	want := map[string]int{
		MetricBackgroundJobsTotal:      len(jobTypes) * 2,
		MetricBackgroundJobsDuration:   len(jobTypes),
		MetricBackgroundJobErrorsTotal: len(jobTypes),
	}
	for name, series := range want {
		if got[name] != series {
			t.Errorf("%s: %d series, want %d", name, got[name], series)
		}
	}
}
