// File: topology/topology_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package topology

import (
	"strconv"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticTopology(t *testing.T) {
	topo := NewStatic(2, 2, 2)

	assert.Equal(t, 2, topo.SocketCount())
	assert.Equal(t, 2, topo.CoreCount(1))
	assert.Equal(t, 0, topo.CoreCount(2))
	assert.Equal(t, 4, topo.NumCores())
	assert.Equal(t, 8, topo.NumPUs())
	assert.Equal(t, 5, topo.PUNumber(2, 1))
	assert.Equal(t, -1, topo.PUNumber(4, 0))
	assert.Equal(t, []int{5}, topo.PUMask(2, 1).PUs())
	assert.False(t, topo.PUMask(0, 2).Any())
	assert.Equal(t, "0-7", topo.ProcessMask().String())
	assert.Equal(t, 2, CoreOffset(topo, 1))
	assert.Equal(t, 1, topo.SocketOfCore(3))
	assert.Equal(t, -1, topo.SocketOfCore(4))

	restricted := topo.WithProcessMask(MaskOf(1, 6, 9))
	assert.Equal(t, "1,6", restricted.ProcessMask().String())
	assert.Equal(t, "0-7", topo.ProcessMask().String())
}

func TestStaticLayoutRejectsDuplicates(t *testing.T) {
	_, err := NewStaticLayout([][][]int{{{0, 1}}, {{1}}})
	assert.Error(t, err)

	empty, err := NewStaticLayout(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, empty.SocketCount())
	assert.Equal(t, 0, empty.NumPUs())
}

func writeSysfs(t *testing.T, fs afero.Fs, online string, cpus map[int][2]int) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, sysCPUDir+"/online", []byte(online+"\n"), 0o644))
	for cpu, ids := range cpus {
		dir := sysCPUDir + "/cpu" + strconv.Itoa(cpu) + "/topology"
		require.NoError(t, afero.WriteFile(fs, dir+"/physical_package_id", []byte(strconv.Itoa(ids[0])+"\n"), 0o644))
		require.NoError(t, afero.WriteFile(fs, dir+"/core_id", []byte(strconv.Itoa(ids[1])+"\n"), 0o644))
	}
}

func TestDiscoverFromSysfs(t *testing.T) {
	fs := afero.NewMemMapFs()
	// cpu2 is the hyperthread sibling of cpu0; cpu4 has no topology files
	writeSysfs(t, fs, "0-4", map[int][2]int{
		0: {0, 0},
		1: {0, 1},
		2: {0, 0},
		3: {1, 0},
	})

	topo, err := Discover(fs)
	require.NoError(t, err)

	assert.Equal(t, 2, topo.SocketCount())
	assert.Equal(t, 3, topo.CoreCount(0))
	assert.Equal(t, 1, topo.CoreCount(1))
	assert.Equal(t, 5, topo.NumPUs())
	assert.Equal(t, []int{0, 2}, []int{topo.PUNumber(0, 0), topo.PUNumber(0, 1)})
	assert.Equal(t, 1, topo.PUNumber(1, 0))
	assert.Equal(t, 4, topo.PUNumber(2, 0))
	assert.Equal(t, 3, topo.PUNumber(3, 0))
	assert.Equal(t, "0-4", topo.ProcessMask().String())
}

func TestDiscoverErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Discover(fs)
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, sysCPUDir+"/online", []byte("\n"), 0o644))
	_, err = Discover(fs)
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, sysCPUDir+"/online", []byte("x"), 0o644))
	_, err = Discover(fs)
	assert.Error(t, err)
}
