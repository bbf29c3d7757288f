// File: facade/hioload.go
// Unified facade layer for the hioload-rt runtime.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime aggregates the core components behind a single facade. It plans
// worker placement on the topology, builds the scheduler core, the task
// allocator and the worker loop from a control.Config, and exposes task
// submission, control and debug access, and graceful shutdown.

package facade

import (
	"context"

	prom "github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"

	"github.com/momentics/hioload-rt/adapters"
	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/control"
	"github.com/momentics/hioload-rt/core/scheduler"
	"github.com/momentics/hioload-rt/core/task"
	"github.com/momentics/hioload-rt/internal/concurrency"
	"github.com/momentics/hioload-rt/pool"
	"github.com/momentics/hioload-rt/topology"
)

// Option customizes Runtime construction.
type Option func(*options)

type options struct {
	topo      topology.Topology
	registry  prom.Registerer
	binder    func(topology.Mask) error
	polling   *scheduler.PollingRegistry
	onFailure func(*task.Task, error)
}

// WithTopology replaces sysfs discovery.
func WithTopology(t topology.Topology) Option {
	return func(o *options) { o.topo = t }
}

// WithRegisterer registers metrics on reg instead of a private registry.
func WithRegisterer(reg prom.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithBinder replaces the OS thread binder.
func WithBinder(fn func(topology.Mask) error) Option {
	return func(o *options) { o.binder = fn }
}

// WithPolling shares a polling registry with external event sources.
func WithPolling(r *scheduler.PollingRegistry) Option {
	return func(o *options) { o.polling = r }
}

// WithFailureHandler receives failed tasks.
func WithFailureHandler(fn func(*task.Task, error)) Option {
	return func(o *options) { o.onFailure = fn }
}

// Runtime is the main facade type.
type Runtime struct {
	topo      topology.Topology
	placement *affinity.Placement
	sched     *scheduler.Scheduler
	stacks    *pool.StackPool
	alloc     *task.Allocator
	exec      *concurrency.Executor
	metrics   *control.Metrics
	store     *control.ConfigStore
	control   *adapters.ControlAdapter
	executor  *adapters.ExecutorAdapter
}

var _ api.GracefulShutdown = (*Runtime)(nil)

// New plans placement for cfg and starts the workers.
func New(cfg control.Config, opts ...Option) (*Runtime, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	topo := o.topo
	if topo == nil {
		discovered, err := topology.DiscoverOS()
		if err != nil {
			return nil, api.NewError(api.ErrCodeNotSupported, "cpu topology discovery failed").WithCause(err)
		}
		topo = discovered.WithProcessMask(processMaskOrAll(discovered))
	}

	strategy, _ := cfg.PlacementStrategy()
	params, _ := cfg.Params()
	shutdownTimeout, _ := cfg.ShutdownTimeout()

	workers := cfg.Workers
	if workers == 0 {
		workers = availablePUs(topo, cfg.PlanOptions())
	}
	placement, err := affinity.Plan(strategy, workers, topo, cfg.PlanOptions())
	if err != nil {
		return nil, err
	}

	registry := o.registry
	if registry == nil {
		registry = prom.NewRegistry()
	}
	metrics, err := control.NewMetrics("", cfg.Name, registry, control.MetricsOptions{})
	if err != nil {
		return nil, err
	}

	schedOpts := []scheduler.Option{scheduler.WithObserver(metrics)}
	if o.polling != nil {
		schedOpts = append(schedOpts, scheduler.WithPolling(o.polling))
	}
	sched, err := scheduler.New(workers, cfg.Name, params, cfg.Mode(), schedOpts...)
	if err != nil {
		return nil, err
	}
	if err := sched.SetDomains(placement.Sockets); err != nil {
		return nil, err
	}

	stacks := pool.NewStackPool(params.StackSizes)
	alloc := task.NewAllocator(stacks, params.MaxTerminatedTasks, metrics)
	exec, err := concurrency.NewExecutor(concurrency.Config{
		Scheduler:       sched,
		Allocator:       alloc,
		Placement:       placement,
		BindThreads:     cfg.BindThreads,
		Binder:          o.binder,
		OnFailure:       o.onFailure,
		ShutdownTimeout: shutdownTimeout,
	})
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		topo:      topo,
		placement: placement,
		sched:     sched,
		stacks:    stacks,
		alloc:     alloc,
		exec:      exec,
		metrics:   metrics,
		store:     control.NewConfigStore(cfg),
		executor:  adapters.NewExecutorAdapter(exec),
	}
	r.control = adapters.NewControlAdapter(r.store, control.NewDebugProbes())
	r.control.AddStatsSource("executor", exec.Stats)
	r.registerProbes()
	r.store.OnReload(r.applyReload)

	klog.V(2).InfoS("runtime started", "name", cfg.Name, "workers", workers,
		"strategy", strategy.String(), "pus", placement.Union().String(), "mode", cfg.Mode())
	return r, nil
}

func processMaskOrAll(t *topology.Static) topology.Mask {
	m, err := affinity.ProcessMask()
	if err != nil || !m.Any() {
		return t.ProcessMask()
	}
	return m
}

// availablePUs counts the PUs a plan with opts may use.
func availablePUs(topo topology.Topology, opts affinity.Options) int {
	if opts.UseProcessMask {
		return topo.ProcessMask().Count()
	}
	first := min(opts.UsedCores, topo.NumCores())
	last := topo.NumCores()
	if opts.MaxCores > 0 {
		last = min(last, first+opts.MaxCores)
	}
	n := 0
	for c := first; c < last; c++ {
		n += topo.PUCount(c)
	}
	return max(n, 1)
}

// applyReload pushes mode flag changes to the scheduler. Placement and
// queue parameters are fixed for the lifetime of the runtime.
func (r *Runtime) applyReload(old, cur control.Config) {
	if cur.Mode() != old.Mode() {
		r.sched.SetMode(cur.Mode())
		klog.InfoS("scheduler mode reloaded", "scheduler", r.sched.Description(), "mode", cur.Mode())
	}
	if cur.Workers != old.Workers || cur.Strategy != old.Strategy || cur.Stacks != old.Stacks {
		klog.InfoS("placement and stack changes apply on restart", "scheduler", r.sched.Description())
	}
}

func (r *Runtime) registerProbes() {
	r.control.RegisterDebugProbe("scheduler.states", func() any {
		states := r.sched.States()
		out := make([]string, len(states))
		for i, s := range states {
			out[i] = s.String()
		}
		return out
	})
	r.control.RegisterDebugProbe("scheduler.min_max_state", func() any {
		lo, hi := r.sched.MinMaxState()
		return []string{lo.String(), hi.String()}
	})
	r.control.RegisterDebugProbe("scheduler.mode", func() any { return r.sched.Mode().String() })
	r.control.RegisterDebugProbe("scheduler.wakeups", func() any { return r.sched.WakeCount() })
	r.control.RegisterDebugProbe("polling.pending_work", func() any { return r.sched.Polling().PendingWork() })
	r.control.RegisterDebugProbe("allocator.stats", func() any { return r.alloc.Stats() })
	r.control.RegisterDebugProbe("stacks.stats", func() any { return r.stacks.Stats() })
	r.control.RegisterDebugProbe("topology", func() any { return topologySummary(r.topo) })
	r.control.RegisterDebugProbe("placement", func() any {
		out := make([]string, r.placement.NumWorkers())
		for i, m := range r.placement.Masks {
			out[i] = m.String()
		}
		return out
	})
}

func topologySummary(t topology.Topology) any {
	if s, ok := t.(interface{ String() string }); ok {
		return s.String()
	}
	return map[string]int{"sockets": t.SocketCount(), "cores": t.NumCores(), "pus": t.NumPUs()}
}

// Submit schedules entry on a new lightweight task. A negative hint picks a
// worker round-robin.
func (r *Runtime) Submit(entry task.Entry, class api.StackSize, hint int) (*task.Task, error) {
	return r.exec.Submit(entry, class, hint)
}

// CompletionSource registers an external completion queue with the
// workers' polling registry. Posting to it wakes idle workers.
func (r *Runtime) CompletionSource(tag string, batchSize int) *adapters.CompletionSource {
	return adapters.NewCompletionSource(tag, r.sched.Polling(), batchSize, adapters.WithWaker(r.sched.DoSomeWork))
}

// Executor returns the api.Executor view of the worker loop.
func (r *Runtime) Executor() api.Executor { return r.executor }

// Control returns the config, stats and debug interface.
func (r *Runtime) Control() *adapters.ControlAdapter { return r.control }

// Scheduler returns the scheduler core.
func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.sched }

// Placement returns the worker placement.
func (r *Runtime) Placement() *affinity.Placement { return r.placement }

// Topology returns the topology the placement was planned on.
func (r *Runtime) Topology() topology.Topology { return r.topo }

// Config returns the active configuration.
func (r *Runtime) Config() control.Config { return r.store.Get() }

// SuspendWorker takes a worker offline until ResumeWorker.
func (r *Runtime) SuspendWorker(worker int) error { return r.exec.SuspendWorker(worker) }

// ResumeWorker brings a suspended worker back online.
func (r *Runtime) ResumeWorker(ctx context.Context, worker int) error {
	return r.exec.ResumeWorker(ctx, worker)
}

// ShutdownContext stops the workers, bounded by ctx.
func (r *Runtime) ShutdownContext(ctx context.Context) error {
	return r.exec.Shutdown(ctx)
}

// Shutdown implements api.GracefulShutdown.
func (r *Runtime) Shutdown() error {
	return r.exec.Close()
}
