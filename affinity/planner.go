// File: affinity/planner.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Affinity planner: a pure, deterministic mapping from (strategy, worker
// count, topology, process mask constraint) to one PU mask per worker.
// Cores and sockets are visited in topology index order; ties are therefore
// stable by index.

package affinity

import (
	"math"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/topology"
)

// Options constrains a plan.
type Options struct {
	// UseProcessMask restricts placement to PUs in the process mask. When
	// set, the core window below is ignored.
	UseProcessMask bool
	// UsedCores is the first core of the window.
	UsedCores int
	// MaxCores limits the window size; zero means all remaining cores.
	MaxCores int
}

// Placement is the result of a plan, indexed by logical worker.
type Placement struct {
	Strategy Strategy
	Masks    []topology.Mask
	// PUs holds the OS PU number of each worker.
	PUs []int
	// Cores holds the global core index of each worker.
	Cores []int
	// Sockets holds the socket of each worker.
	Sockets []int
}

// NumWorkers returns the number of planned workers.
func (p *Placement) NumWorkers() int { return len(p.Masks) }

// Union returns the union of all worker masks.
func (p *Placement) Union() topology.Mask {
	var m topology.Mask
	for _, wm := range p.Masks {
		m = m.Or(wm)
	}
	return m
}

// WorkersPerSocket counts planned workers per socket.
func (p *Placement) WorkersPerSocket(numSockets int) []int {
	out := make([]int, numSockets)
	for _, s := range p.Sockets {
		if s >= 0 && s < numSockets {
			out[s]++
		}
	}
	return out
}

// Plan computes the placement of numWorkers workers on topo.
func Plan(strategy Strategy, numWorkers int, topo topology.Topology, opts Options) (*Placement, error) {
	p, err := newPlanner(strategy, numWorkers, topo, opts)
	if err != nil {
		return nil, err
	}
	switch strategy {
	case Compact:
		err = p.compact()
	case Scatter:
		err = p.scatter()
	case Balanced:
		err = p.balanced()
	case NumaBalanced:
		err = p.numaBalanced()
	default:
		return nil, api.Errorf(api.ErrCodeConfiguration, "unknown placement strategy %d", int(strategy))
	}
	if err != nil {
		return nil, err
	}
	return p.out, nil
}

type planner struct {
	topo       topology.Topology
	useMask    bool
	procMask   topology.Mask
	firstCore  int
	numCores   int
	numWorkers int
	claimed    sets.Set[int]
	out        *Placement
}

func newPlanner(strategy Strategy, numWorkers int, topo topology.Topology, opts Options) (*planner, error) {
	if numWorkers <= 0 {
		return nil, api.Errorf(api.ErrCodeConfiguration, "number of threads must be positive, got %d", numWorkers)
	}
	p := &planner{
		topo:       topo,
		useMask:    opts.UseProcessMask,
		procMask:   topo.ProcessMask(),
		numWorkers: numWorkers,
		claimed:    sets.New[int](),
		out: &Placement{
			Strategy: strategy,
			Masks:    make([]topology.Mask, numWorkers),
			PUs:      make([]int, numWorkers),
			Cores:    make([]int, numWorkers),
			Sockets:  make([]int, numWorkers),
		},
	}

	total := topo.NumCores()
	if p.useMask || strategy == NumaBalanced {
		p.firstCore, p.numCores = 0, total
	} else {
		if opts.UsedCores < 0 || opts.UsedCores > total {
			return nil, api.Errorf(api.ErrCodeConfiguration, "core offset %d out of range [0, %d]", opts.UsedCores, total)
		}
		p.firstCore = opts.UsedCores
		p.numCores = total - opts.UsedCores
		if opts.MaxCores > 0 {
			p.numCores = min(p.numCores, opts.MaxCores)
		}
	}

	if err := p.checkNumWorkers(); err != nil {
		return nil, err
	}
	return p, nil
}

// checkNumWorkers rejects plans that cannot give every worker its own PU.
func (p *planner) checkNumWorkers() error {
	if p.useMask {
		if avail := p.procMask.Count(); p.numWorkers > avail {
			return api.Errorf(api.ErrCodeConfiguration,
				"specified number of threads (%d) is larger than number of processing units available in process mask (%d)",
				p.numWorkers, avail)
		}
	} else if avail := p.topo.NumPUs(); p.numWorkers > avail {
		return api.Errorf(api.ErrCodeConfiguration,
			"specified number of threads (%d) is larger than number of available processing units (%d)",
			p.numWorkers, avail)
	}

	eligible := 0
	for c := p.firstCore; c < p.firstCore+p.numCores; c++ {
		for pu := 0; pu < p.topo.PUCount(c); pu++ {
			if p.eligible(c, pu) {
				eligible++
			}
		}
	}
	if p.numWorkers > eligible {
		return api.Errorf(api.ErrCodeConfiguration,
			"specified number of threads (%d) is larger than number of eligible processing units (%d)",
			p.numWorkers, eligible).
			WithContext("first_core", p.firstCore).
			WithContext("cores", p.numCores)
	}
	return nil
}

func (p *planner) eligible(core, pu int) bool {
	if !p.useMask {
		return true
	}
	return p.topo.PUMask(core, pu).Intersects(p.procMask)
}

// nextEligible returns the first eligible PU index >= from on core, or -1.
func (p *planner) nextEligible(core, from int) int {
	for pu := from; pu < p.topo.PUCount(core); pu++ {
		if p.eligible(core, pu) {
			return pu
		}
	}
	return -1
}

func (p *planner) assign(worker, core, pu int) error {
	if p.out.Masks[worker].Any() {
		return api.Errorf(api.ErrCodeConfiguration, "affinity mask for thread %d has already been set", worker)
	}
	n := p.topo.PUNumber(core, pu)
	if p.claimed.Has(n) {
		return api.Errorf(api.ErrCodeConfiguration, "processing unit %d assigned to more than one thread", n).
			WithContext("thread", worker)
	}
	p.claimed.Insert(n)
	p.out.Masks[worker] = p.topo.PUMask(core, pu)
	p.out.PUs[worker] = n
	p.out.Cores[worker] = core
	p.out.Sockets[worker] = topology.SocketOfCore(p.topo, core)
	return nil
}

func (p *planner) compact() error {
	worker := 0
	for c := p.firstCore; c < p.firstCore+p.numCores; c++ {
		for pu := 0; pu < p.topo.PUCount(c); pu++ {
			if !p.eligible(c, pu) {
				continue
			}
			if err := p.assign(worker, c, pu); err != nil {
				return err
			}
			if worker++; worker == p.numWorkers {
				return nil
			}
		}
	}
	return p.shortfall(worker)
}

func (p *planner) scatter() error {
	next := make([]int, p.numCores)
	worker := 0
	for worker < p.numWorkers {
		progressed := false
		for i := 0; i < p.numCores; i++ {
			c := p.firstCore + i
			pu := p.nextEligible(c, next[i])
			if pu < 0 {
				next[i] = p.topo.PUCount(c)
				continue
			}
			next[i] = pu + 1
			progressed = true
			if err := p.assign(worker, c, pu); err != nil {
				return err
			}
			if worker++; worker == p.numWorkers {
				return nil
			}
		}
		if !progressed {
			return p.shortfall(worker)
		}
	}
	return nil
}

// spread runs the first balanced pass over cores [first, first+n): it picks
// count PUs round-robin across the cores and returns the picked PU indices
// per core.
func (p *planner) spread(first, n, count int) ([][]int, error) {
	next := make([]int, n)
	picked := make([][]int, n)
	for taken := 0; taken < count; {
		progressed := false
		for i := 0; i < n && taken < count; i++ {
			pu := p.nextEligible(first+i, next[i])
			if pu < 0 {
				next[i] = p.topo.PUCount(first + i)
				continue
			}
			next[i] = pu + 1
			picked[i] = append(picked[i], pu)
			progressed = true
			taken++
		}
		if !progressed {
			return nil, p.shortfall(taken)
		}
	}
	return picked, nil
}

// place runs the second balanced pass: workers are numbered contiguously
// per core in core order.
func (p *planner) place(worker, first int, picked [][]int) (int, error) {
	for i, pus := range picked {
		for _, pu := range pus {
			if err := p.assign(worker, first+i, pu); err != nil {
				return worker, err
			}
			worker++
		}
	}
	return worker, nil
}

func (p *planner) balanced() error {
	picked, err := p.spread(p.firstCore, p.numCores, p.numWorkers)
	if err != nil {
		return err
	}
	_, err = p.place(0, p.firstCore, picked)
	return err
}

func (p *planner) numaBalanced() error {
	sockets := max(1, p.topo.SocketCount())
	eligible := make([]int, sockets)
	total := 0
	for s := 0; s < sockets; s++ {
		off := topology.CoreOffset(p.topo, s)
		for c := off; c < off+p.topo.CoreCount(s); c++ {
			for pu := 0; pu < p.topo.PUCount(c); pu++ {
				if p.eligible(c, pu) {
					eligible[s]++
				}
			}
		}
		total += eligible[s]
	}

	budget := SocketBudgets(p.numWorkers, eligible)
	if total == 0 {
		return p.shortfall(0)
	}

	worker := 0
	for s := 0; s < sockets; s++ {
		if budget[s] == 0 {
			continue
		}
		off := topology.CoreOffset(p.topo, s)
		picked, err := p.spread(off, p.topo.CoreCount(s), budget[s])
		if err != nil {
			return err
		}
		if worker, err = p.place(worker, off, picked); err != nil {
			return err
		}
	}
	return nil
}

// SocketBudgets splits numWorkers over sockets in proportion to their
// eligible PU counts: round(numWorkers*pus/total) for every socket but the
// last, which absorbs the remainder so the sum is exact. A budget never
// exceeds the socket's eligible PUs; overflow of the last socket is handed
// back to earlier sockets with spare PUs in index order.
func SocketBudgets(numWorkers int, eligible []int) []int {
	budget := make([]int, len(eligible))
	total := 0
	for _, e := range eligible {
		total += e
	}
	if total == 0 || len(eligible) == 0 {
		return budget
	}
	assigned := 0
	last := len(eligible) - 1
	for s := 0; s < last; s++ {
		b := int(math.Round(float64(numWorkers*eligible[s]) / float64(total)))
		b = min(b, eligible[s], numWorkers-assigned)
		budget[s] = b
		assigned += b
	}
	budget[last] = numWorkers - assigned
	if overflow := budget[last] - eligible[last]; overflow > 0 {
		budget[last] = eligible[last]
		for s := 0; s < last && overflow > 0; s++ {
			spare := min(eligible[s]-budget[s], overflow)
			budget[s] += spare
			overflow -= spare
		}
	}
	return budget
}

func (p *planner) shortfall(assigned int) error {
	return api.Errorf(api.ErrCodeConfiguration,
		"only %d of %d threads could be placed on eligible processing units", assigned, p.numWorkers)
}
