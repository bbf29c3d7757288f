// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors fed by scheduler and task allocator events.

package control

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/core/task"
)

// MetricsOptions controls collector configuration.
type MetricsOptions struct {
	BackoffBuckets []float64
}

// Metrics implements api.SchedulerObserver and task.Observer for one
// scheduler. Collectors are shared between Metrics registered on the same
// registerer.
type Metrics struct {
	scheduler string

	workerState     *prom.GaugeVec
	transitions     *prom.CounterVec
	wakeups         *prom.CounterVec
	idleBackoff     *prom.HistogramVec
	tasksCreated    *prom.CounterVec
	tasksTerminated *prom.CounterVec
}

var (
	_ api.SchedulerObserver = (*Metrics)(nil)
	_ task.Observer         = (*Metrics)(nil)
)

// NewMetrics creates and registers the collectors.
func NewMetrics(namespace, scheduler string, reg prom.Registerer, opts MetricsOptions) (*Metrics, error) {
	if namespace == "" {
		namespace = "hioload_rt"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.BackoffBuckets
	if len(buckets) == 0 {
		buckets = prom.ExponentialBuckets(0.001, 2, 12)
	}

	stateVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_state",
		Help:      "Current runtime state of each worker.",
	}, []string{"scheduler", "worker"})
	transitionVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "worker_state_transitions_total",
		Help:      "Total number of worker state transitions by target state.",
	}, []string{"scheduler", "state"})
	wakeVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "wakeups_total",
		Help:      "Total number of wake operations.",
	}, []string{"scheduler", "target"})
	backoffVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "idle_backoff_seconds",
		Help:      "Idle backoff periods in seconds.",
		Buckets:   buckets,
	}, []string{"scheduler", "woken"})
	createdVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_created_total",
		Help:      "Total number of tasks handed out by the allocator.",
	}, []string{"scheduler", "stack", "reused"})
	terminatedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_terminated_total",
		Help:      "Total number of terminated tasks by outcome.",
	}, []string{"scheduler", "stack", "outcome"})

	var err error
	if stateVec, err = registerCollector(reg, stateVec); err != nil {
		return nil, err
	}
	if transitionVec, err = registerCollector(reg, transitionVec); err != nil {
		return nil, err
	}
	if wakeVec, err = registerCollector(reg, wakeVec); err != nil {
		return nil, err
	}
	if backoffVec, err = registerCollector(reg, backoffVec); err != nil {
		return nil, err
	}
	if createdVec, err = registerCollector(reg, createdVec); err != nil {
		return nil, err
	}
	if terminatedVec, err = registerCollector(reg, terminatedVec); err != nil {
		return nil, err
	}

	return &Metrics{
		scheduler:       normalizeLabel(scheduler, "default"),
		workerState:     stateVec,
		transitions:     transitionVec,
		wakeups:         wakeVec,
		idleBackoff:     backoffVec,
		tasksCreated:    createdVec,
		tasksTerminated: terminatedVec,
	}, nil
}

func (m *Metrics) OnStateChange(worker int, _, to api.RuntimeState) {
	if m == nil {
		return
	}
	m.workerState.WithLabelValues(m.scheduler, strconv.Itoa(worker)).Set(float64(to))
	m.transitions.WithLabelValues(m.scheduler, to.String()).Inc()
}

func (m *Metrics) OnWake(worker int) {
	if m == nil {
		return
	}
	target := "all"
	if worker != api.AllWorkers {
		target = "one"
	}
	m.wakeups.WithLabelValues(m.scheduler, target).Inc()
}

func (m *Metrics) OnIdleBackoff(_ int, period time.Duration, woken bool) {
	if m == nil {
		return
	}
	m.idleBackoff.WithLabelValues(m.scheduler, strconv.FormatBool(woken)).Observe(period.Seconds())
}

func (m *Metrics) OnTaskCreated(class api.StackSize, reused bool) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(m.scheduler, class.String(), strconv.FormatBool(reused)).Inc()
}

func (m *Metrics) OnTaskTerminated(class api.StackSize, failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.tasksTerminated.WithLabelValues(m.scheduler, class.String(), outcome).Inc()
}

func normalizeLabel(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
