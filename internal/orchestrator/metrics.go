package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics holds orchestrator counters exposed on /metrics.
type Metrics struct {
	SessionsStarted   uint64
	SessionsFinished  uint64
	SessionsStopped   uint64
	Ticks             uint64
	EmergencyTicks    uint64
	Dispatches        uint64
	StaleJobs         uint64
	InjectionsOK      uint64
	Completions       uint64
	CompletionsFailed uint64
	Continuations     uint64
	Fallbacks         uint64
	BackendFailures   uint64
	DLQPublished      uint64
	TabCloseFailures  uint64

	errorsByKind [6]uint64

	// Histogram of job duration (seconds) from tab open to outcome.
	durationCounts [len(jobDurationBuckets) + 1]uint64
	durationSumNs  uint64
	durationCount  uint64
}

var jobDurationBuckets = [...]float64{5, 10, 15, 20, 30, 45, 60, 90}

var errorKinds = [...]ErrorKind{
	KindTabCreation, KindLoadTimeout, KindInjection,
	KindExtractionTimeout, KindBackendDelivery, KindSessionNotFound,
}

func (m *Metrics) inc(counter *uint64) {
	atomic.AddUint64(counter, 1)
}

func (m *Metrics) observeError(kind ErrorKind) {
	for i, k := range errorKinds {
		if k == kind {
			atomic.AddUint64(&m.errorsByKind[i], 1)
			return
		}
	}
}

func (m *Metrics) observeJobDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	seconds := d.Seconds()
	idx := len(jobDurationBuckets)
	for i, bound := range jobDurationBuckets {
		if seconds <= bound {
			idx = i
			break
		}
	}
	atomic.AddUint64(&m.durationCounts[idx], 1)
	atomic.AddUint64(&m.durationSumNs, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.durationCount, 1)
}

// WritePrometheus writes the counters in Prometheus text format. activeSessions is a gauge
// supplied by the caller.
func (m *Metrics) WritePrometheus(w io.Writer, activeSessions int) error {
	var sb strings.Builder
	sb.WriteString("tabrelay_up 1\n")
	sb.WriteString("# TYPE tabrelay_active_sessions gauge\n")
	fmt.Fprintf(&sb, "tabrelay_active_sessions %d\n", activeSessions)
	for _, c := range []struct {
		name  string
		value *uint64
	}{
		{"tabrelay_sessions_started_total", &m.SessionsStarted},
		{"tabrelay_sessions_finished_total", &m.SessionsFinished},
		{"tabrelay_sessions_stopped_total", &m.SessionsStopped},
		{"tabrelay_ticks_total", &m.Ticks},
		{"tabrelay_emergency_ticks_total", &m.EmergencyTicks},
		{"tabrelay_dispatches_total", &m.Dispatches},
		{"tabrelay_stale_jobs_total", &m.StaleJobs},
		{"tabrelay_injections_total", &m.InjectionsOK},
		{"tabrelay_completions_total", &m.Completions},
		{"tabrelay_completions_failed_total", &m.CompletionsFailed},
		{"tabrelay_continuations_total", &m.Continuations},
		{"tabrelay_fallbacks_total", &m.Fallbacks},
		{"tabrelay_backend_failures_total", &m.BackendFailures},
		{"tabrelay_dlq_published_total", &m.DLQPublished},
		{"tabrelay_tab_close_failures_total", &m.TabCloseFailures},
	} {
		fmt.Fprintf(&sb, "%s %d\n", c.name, atomic.LoadUint64(c.value))
	}

	sb.WriteString("# HELP tabrelay_job_errors_total Job failures by kind.\n")
	sb.WriteString("# TYPE tabrelay_job_errors_total counter\n")
	for i, k := range errorKinds {
		fmt.Fprintf(&sb, "tabrelay_job_errors_total{kind=%q} %d\n", string(k), atomic.LoadUint64(&m.errorsByKind[i]))
	}

	sb.WriteString("# HELP tabrelay_job_duration_seconds Time from tab open to job outcome.\n")
	sb.WriteString("# TYPE tabrelay_job_duration_seconds histogram\n")
	var cumulative uint64
	for i, bound := range jobDurationBuckets {
		cumulative += atomic.LoadUint64(&m.durationCounts[i])
		fmt.Fprintf(&sb, "tabrelay_job_duration_seconds_bucket{le=\"%g\"} %d\n", bound, cumulative)
	}
	cumulative += atomic.LoadUint64(&m.durationCounts[len(jobDurationBuckets)])
	fmt.Fprintf(&sb, "tabrelay_job_duration_seconds_bucket{le=\"+Inf\"} %d\n", cumulative)
	fmt.Fprintf(&sb, "tabrelay_job_duration_seconds_sum %.6f\n", float64(atomic.LoadUint64(&m.durationSumNs))/float64(time.Second))
	fmt.Fprintf(&sb, "tabrelay_job_duration_seconds_count %d\n", atomic.LoadUint64(&m.durationCount))

	_, err := io.WriteString(w, sb.String())
	return err
}
