// File: affinity/planner_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package affinity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/topology"
)

var allStrategies = []Strategy{Compact, Scatter, Balanced, NumaBalanced}

func assertDisjoint(t *testing.T, p *Placement, n int, within topology.Mask) {
	t.Helper()
	require.Equal(t, n, p.NumWorkers())
	seen := topology.Mask{}
	for i, m := range p.Masks {
		require.Equal(t, 1, m.Count(), "worker %d", i)
		assert.False(t, m.Intersects(seen), "worker %d shares a pu", i)
		assert.True(t, m.SubsetOf(within), "worker %d outside %s", i, within.String())
		assert.Equal(t, m.First(), p.PUs[i])
		seen = seen.Or(m)
	}
	assert.Equal(t, n, p.Union().Count())
}

func TestPlanMasksAreDisjoint(t *testing.T) {
	topos := []*topology.Static{
		topology.NewStatic(1, 4, 2),
		topology.NewStatic(2, 2, 2),
		topology.NewStatic(2, 3, 1),
		topology.NewStatic(3, 1, 4),
	}
	for _, strategy := range allStrategies {
		for _, topo := range topos {
			for n := 1; n <= topo.NumPUs(); n++ {
				name := fmt.Sprintf("%s/%s/%d", strategy, topo.ProcessMask().String(), n)
				p, err := Plan(strategy, n, topo, Options{})
				require.NoError(t, err, name)
				assertDisjoint(t, p, n, topo.ProcessMask())
			}
		}
	}
}

func TestPlanHonorsProcessMask(t *testing.T) {
	topo := topology.NewStatic(2, 2, 2).WithProcessMask(topology.MaskOf(1, 2, 3, 4, 5, 6))
	for _, strategy := range allStrategies {
		for n := 1; n <= 6; n++ {
			p, err := Plan(strategy, n, topo, Options{UseProcessMask: true, UsedCores: 3})
			require.NoError(t, err, "%s/%d", strategy, n)
			assertDisjoint(t, p, n, topo.ProcessMask())
		}
		_, err := Plan(strategy, 7, topo, Options{UseProcessMask: true})
		assert.ErrorIs(t, err, api.ErrConfiguration)
	}
}

func TestCompactStaysOnOneCore(t *testing.T) {
	topo := topology.NewStatic(1, 4, 2)
	p, err := Plan(Compact, 2, topo, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, p.Cores)
	assert.Equal(t, []int{0, 1}, p.PUs)

	p, err = Plan(Compact, 3, topo, Options{UsedCores: 1})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, p.PUs)
	assert.Equal(t, []int{1, 1, 2}, p.Cores)
}

func TestScatterUsesDistinctCores(t *testing.T) {
	topo := topology.NewStatic(1, 4, 2)
	p, err := Plan(Scatter, 4, topo, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, p.Cores)

	p, err = Plan(Scatter, 6, topo, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4, 6, 1, 3}, p.PUs)
}

func TestBalancedKeepsWorkersContiguousPerCore(t *testing.T) {
	p, err := Plan(Balanced, 3, topology.NewStatic(1, 2, 2), Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, p.PUs)
	assert.Equal(t, []int{0, 0, 1}, p.Cores)

	p, err = Plan(Balanced, 4, topology.NewStatic(2, 2, 2), Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, p.WorkersPerSocket(2))
	assert.Equal(t, []int{0, 1, 2, 3}, p.Cores)
}

func TestNumaBalancedSplitsBySocket(t *testing.T) {
	p, err := Plan(NumaBalanced, 4, topology.NewStatic(2, 2, 2), Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, p.WorkersPerSocket(2))

	// socket 1 keeps only core 2 in the process mask
	topo := topology.NewStatic(2, 2, 2).WithProcessMask(topology.MaskOf(0, 1, 2, 3, 4, 5))
	p, err = Plan(NumaBalanced, 3, topo, Options{UseProcessMask: true})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1}, p.Sockets)
	assert.Equal(t, []int{0, 2, 4}, p.PUs)

	for n := 1; n <= 8; n++ {
		p, err := Plan(NumaBalanced, n, topology.NewStatic(2, 2, 2), Options{})
		require.NoError(t, err)
		per := p.WorkersPerSocket(2)
		assert.Equal(t, n, per[0]+per[1])
		assert.Equal(t, SocketBudgets(n, []int{4, 4}), per)
	}
}

func TestSocketBudgets(t *testing.T) {
	cases := []struct {
		workers  int
		eligible []int
		want     []int
	}{
		{4, []int{4, 4}, []int{2, 2}},
		{3, []int{4, 2}, []int{2, 1}},
		{1, []int{4, 4}, []int{1, 0}},
		{7, []int{4, 4}, []int{4, 3}},
		{5, []int{1, 3, 2}, []int{1, 3, 1}},
		{6, []int{2, 2, 2, 2, 1}, []int{2, 1, 1, 1, 1}},
		{2, []int{0, 0}, []int{0, 0}},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.workers, tc.eligible), func(t *testing.T) {
			assert.Equal(t, tc.want, SocketBudgets(tc.workers, tc.eligible))
		})
	}
}

func TestPlanConfigurationErrors(t *testing.T) {
	topo := topology.NewStatic(1, 4, 2)
	cases := []struct {
		name     string
		strategy Strategy
		workers  int
		opts     Options
	}{
		{"zero workers", Compact, 0, Options{}},
		{"more workers than pus", Scatter, 9, Options{}},
		{"window out of range", Compact, 1, Options{UsedCores: 5}},
		{"window too small", Balanced, 3, Options{UsedCores: 3, MaxCores: 1}},
		{"unknown strategy", Strategy(9), 1, Options{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Plan(tc.strategy, tc.workers, topo, tc.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, api.ErrConfiguration)
		})
	}
}

func TestAssignRejectsDoubleBooking(t *testing.T) {
	p, err := newPlanner(Compact, 2, topology.NewStatic(1, 2, 1), Options{})
	require.NoError(t, err)
	require.NoError(t, p.assign(0, 0, 0))
	assert.ErrorIs(t, p.assign(0, 1, 0), api.ErrConfiguration)
	assert.ErrorIs(t, p.assign(1, 0, 0), api.ErrConfiguration)
}
