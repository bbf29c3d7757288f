// control/metrics_test.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/api"
)

func TestMetricsRecordsSchedulerEvents(t *testing.T) {
	reg := prom.NewRegistry()
	m, err := NewMetrics("rt", "pool-a", reg, MetricsOptions{})
	require.NoError(t, err)

	m.OnStateChange(1, api.StateRunning, api.StateSleeping)
	m.OnStateChange(1, api.StateSleeping, api.StateRunning)
	m.OnWake(api.AllWorkers)
	m.OnWake(api.AllWorkers)
	m.OnWake(0)
	m.OnIdleBackoff(0, 4*time.Millisecond, false)

	assert.Equal(t, float64(api.StateRunning), testutil.ToFloat64(m.workerState.WithLabelValues("pool-a", "1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitions.WithLabelValues("pool-a", "sleeping")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.wakeups.WithLabelValues("pool-a", "all")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.wakeups.WithLabelValues("pool-a", "one")))
	assert.Equal(t, 6, testutil.CollectAndCount(reg,
		"rt_worker_state", "rt_worker_state_transitions_total", "rt_wakeups_total", "rt_idle_backoff_seconds"))
}

func TestMetricsRecordsTaskEvents(t *testing.T) {
	reg := prom.NewRegistry()
	m, err := NewMetrics("rt", "", reg, MetricsOptions{})
	require.NoError(t, err)

	m.OnTaskCreated(api.StackSmall, false)
	m.OnTaskCreated(api.StackSmall, true)
	m.OnTaskTerminated(api.StackSmall, true)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.tasksCreated.WithLabelValues("default", "small", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tasksTerminated.WithLabelValues("default", "small", "failed")))
}

func TestMetricsShareCollectors(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetrics("rt", "pool", reg, MetricsOptions{})
	require.NoError(t, err)
	second, err := NewMetrics("rt", "pool", reg, MetricsOptions{})
	require.NoError(t, err)

	first.OnWake(0)
	second.OnWake(1)
	assert.Equal(t, float64(2), testutil.ToFloat64(first.wakeups.WithLabelValues("pool", "one")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.OnWake(0) })
}
