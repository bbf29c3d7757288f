// File: topology/sysfs.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Topology discovery from the Linux sysfs CPU tree.

package topology

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
)

const (
	sysCPUDir         = "/sys/devices/system/cpu"
	tmplOnlineCPUs    = sysCPUDir + "/online"
	tmplPackageID     = sysCPUDir + "/cpu%d/topology/physical_package_id"
	tmplCoreID        = sysCPUDir + "/cpu%d/topology/core_id"
	unknownTopologyID = -1
	defaultPackageID  = 0
)

type coreKey struct {
	socket int
	core   int
}

// Discover reads the socket/core/PU layout of the online CPUs from sysfs.
// CPUs without topology information are treated as single-PU cores on
// socket 0.
func Discover(fs afero.Fs) (*Static, error) {
	raw, err := afero.ReadFile(fs, tmplOnlineCPUs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read online cpus")
	}
	online, err := ParseMask(string(raw))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse online cpus")
	}
	if !online.Any() {
		return nil, errors.New("no online cpus found")
	}

	socketIDs := sets.New[int]()
	coreIDs := map[int]sets.Set[int]{}
	pusByCore := map[coreKey]sets.Set[int]{}

	for _, cpu := range online.PUs() {
		socket := readID(fs, fmt.Sprintf(tmplPackageID, cpu), defaultPackageID)
		core := readID(fs, fmt.Sprintf(tmplCoreID, cpu), unknownTopologyID)
		if core == unknownTopologyID {
			// keep the cpu on its own core
			core = -(cpu + 2)
		}
		socketIDs.Insert(socket)
		if coreIDs[socket] == nil {
			coreIDs[socket] = sets.New[int]()
		}
		coreIDs[socket].Insert(core)
		key := coreKey{socket: socket, core: core}
		if pusByCore[key] == nil {
			pusByCore[key] = sets.New[int]()
		}
		pusByCore[key].Insert(cpu)
	}

	sockets := sets.List(socketIDs)
	layout := make([][][]int, 0, len(sockets))
	for _, s := range sockets {
		cores := sets.List(coreIDs[s])
		// order cores by their lowest PU so indices follow OS numbering
		sort.SliceStable(cores, func(i, j int) bool {
			return minPU(pusByCore[coreKey{s, cores[i]}]) < minPU(pusByCore[coreKey{s, cores[j]}])
		})
		socketCores := make([][]int, 0, len(cores))
		for _, c := range cores {
			socketCores = append(socketCores, sets.List(pusByCore[coreKey{s, c}]))
		}
		layout = append(layout, socketCores)
	}

	t, err := NewStaticLayout(layout)
	if err != nil {
		return nil, err
	}
	klog.V(2).InfoS("discovered cpu topology", "sockets", t.SocketCount(), "cores", t.NumCores(), "pus", t.NumPUs())
	return t, nil
}

// DiscoverOS runs Discover against the host filesystem.
func DiscoverOS() (*Static, error) {
	return Discover(afero.NewOsFs())
}

func readID(fs afero.Fs, path string, def int) int {
	raw, err := afero.ReadFile(fs, filepath.Clean(path))
	if err != nil {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func minPU(s sets.Set[int]) int {
	m := -1
	for pu := range s {
		if m < 0 || pu < m {
			m = pu
		}
	}
	return m
}
