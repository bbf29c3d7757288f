// File: core/scheduler/domains.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// NUMA domains derived from placement. With ModeStealHighPriorityFirst
// stealing visits workers of the thief's own domain before remote ones;
// otherwise victims are visited round-robin.

package scheduler

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/momentics/hioload-rt/api"
)

// ErrDomainMismatch is returned by SetDomains for a table whose length does
// not match the worker count.
var ErrDomainMismatch = errors.New("scheduler: domain table does not match worker count")

type domainTable struct {
	domainOf   []int
	numDomains int
	// localFirst[w] lists victims for w: same domain first, then remote,
	// each group in round-robin order starting after w.
	localFirst [][]int
	// roundRobin[w] lists every other worker starting after w.
	roundRobin [][]int
}

func singleDomain(numWorkers int) *domainTable {
	t, _ := buildDomains(make([]int, numWorkers))
	return t
}

func buildDomains(domainOf []int) (*domainTable, error) {
	t := &domainTable{domainOf: append([]int(nil), domainOf...)}
	for w, d := range domainOf {
		if d < 0 {
			return nil, errors.Errorf("scheduler: negative domain %d for worker %d", d, w)
		}
		t.numDomains = max(t.numDomains, d+1)
	}
	n := len(domainOf)
	t.localFirst = make([][]int, n)
	t.roundRobin = make([][]int, n)
	for w := 0; w < n; w++ {
		all := make([]int, 0, n-1)
		local := make([]int, 0, n-1)
		var remote []int
		for off := 1; off < n; off++ {
			v := (w + off) % n
			all = append(all, v)
			if domainOf[v] == domainOf[w] {
				local = append(local, v)
			} else {
				remote = append(remote, v)
			}
		}
		t.roundRobin[w] = all
		t.localFirst[w] = append(local, remote...)
	}
	return t, nil
}

// SetDomains installs the domain of every worker, typically the socket
// each worker was placed on.
func (s *Scheduler) SetDomains(domainOf []int) error {
	if len(domainOf) != len(s.slots) {
		return errors.Wrapf(ErrDomainMismatch, "got %d entries for %d workers", len(domainOf), len(s.slots))
	}
	t, err := buildDomains(domainOf)
	if err != nil {
		return err
	}
	s.domains.Store(t)
	klog.V(2).InfoS("scheduler domains set", "scheduler", s.description, "domains", t.numDomains)
	return nil
}

// NumDomains returns the number of distinct domains.
func (s *Scheduler) NumDomains() int { return s.domains.Load().numDomains }

// DomainOf returns the domain of worker.
func (s *Scheduler) DomainOf(worker int) int {
	s.checkWorker(worker)
	return s.domains.Load().domainOf[worker]
}

// DomainWorkers lists the other workers in worker's domain, or outside it
// when sameDomain is false.
func (s *Scheduler) DomainWorkers(worker int, sameDomain bool) []int {
	s.checkWorker(worker)
	t := s.domains.Load()
	var out []int
	for _, v := range t.localFirst[worker] {
		if (t.domainOf[v] == t.domainOf[worker]) == sameDomain {
			out = append(out, v)
		}
	}
	return out
}

// StealOrder returns the victims worker should try: nearest first under
// ModeStealHighPriorityFirst, round-robin otherwise. The slice is shared
// and must not be modified.
func (s *Scheduler) StealOrder(worker int) []int {
	s.checkWorker(worker)
	t := s.domains.Load()
	if s.HasMode(api.ModeStealHighPriorityFirst) {
		return t.localFirst[worker]
	}
	return t.roundRobin[worker]
}
