// File: topology/topology.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Read-only hardware model: sockets contain cores, cores contain processing
// units. Cores are indexed globally in socket order; PU numbers are the
// operating system CPU numbers.

package topology

import "fmt"

// Topology is the query interface consumed by the affinity planner and the
// scheduler. Implementations must be safe for concurrent reads.
type Topology interface {
	// SocketCount returns the number of sockets (at least 1).
	SocketCount() int
	// CoreCount returns the number of cores on socket.
	CoreCount(socket int) int
	// NumCores returns the number of cores on the machine.
	NumCores() int
	// PUCount returns the number of PUs on the global core index.
	PUCount(core int) int
	// NumPUs returns the number of PUs on the machine.
	NumPUs() int
	// PUNumber returns the OS number of the pu-th PU of core.
	PUNumber(core, pu int) int
	// PUMask returns a single-PU mask for the pu-th PU of core.
	PUMask(core, pu int) Mask
	// ProcessMask returns the PUs the whole process may run on.
	ProcessMask() Mask
}

// Static is an immutable Topology built from an explicit layout.
type Static struct {
	// sockets[s][c] lists the PU numbers of the c-th core of socket s.
	sockets     [][][]int
	cores       [][]int
	coreOffsets []int
	numPUs      int
	process     Mask
}

var _ Topology = (*Static)(nil)

// NewStatic builds a uniform topology with sequentially numbered PUs.
func NewStatic(sockets, coresPerSocket, pusPerCore int) *Static {
	layout := make([][][]int, sockets)
	next := 0
	for s := range layout {
		layout[s] = make([][]int, coresPerSocket)
		for c := range layout[s] {
			layout[s][c] = make([]int, pusPerCore)
			for p := range layout[s][c] {
				layout[s][c][p] = next
				next++
			}
		}
	}
	t, _ := NewStaticLayout(layout)
	return t
}

// NewStaticLayout builds a topology from layout[socket][core] = PU numbers.
// PU numbers must be unique.
func NewStaticLayout(layout [][][]int) (*Static, error) {
	t := &Static{sockets: layout}
	seen := map[int]struct{}{}
	for s, cores := range layout {
		t.coreOffsets = append(t.coreOffsets, len(t.cores))
		for c, pus := range cores {
			for _, pu := range pus {
				if _, dup := seen[pu]; dup || pu < 0 {
					return nil, fmt.Errorf("topology: invalid or duplicate pu %d on socket %d core %d", pu, s, c)
				}
				seen[pu] = struct{}{}
				t.process.Set(pu)
			}
			t.cores = append(t.cores, pus)
			t.numPUs += len(pus)
		}
	}
	return t, nil
}

// WithProcessMask returns a copy whose process mask is restricted to mask.
func (t *Static) WithProcessMask(mask Mask) *Static {
	cp := *t
	cp.process = t.allPUs().And(mask)
	return &cp
}

func (t *Static) allPUs() Mask {
	var m Mask
	for _, pus := range t.cores {
		for _, pu := range pus {
			m.Set(pu)
		}
	}
	return m
}

func (t *Static) SocketCount() int {
	if len(t.sockets) == 0 {
		return 1
	}
	return len(t.sockets)
}

func (t *Static) CoreCount(socket int) int {
	if socket < 0 || socket >= len(t.sockets) {
		return 0
	}
	return len(t.sockets[socket])
}

func (t *Static) NumCores() int { return len(t.cores) }

func (t *Static) PUCount(core int) int {
	if core < 0 || core >= len(t.cores) {
		return 0
	}
	return len(t.cores[core])
}

func (t *Static) NumPUs() int { return t.numPUs }

func (t *Static) PUNumber(core, pu int) int {
	if core < 0 || core >= len(t.cores) || pu < 0 || pu >= len(t.cores[core]) {
		return -1
	}
	return t.cores[core][pu]
}

func (t *Static) PUMask(core, pu int) Mask {
	n := t.PUNumber(core, pu)
	if n < 0 {
		return Mask{}
	}
	return MaskOf(n)
}

func (t *Static) ProcessMask() Mask { return t.process }

// SocketOfCore returns the socket holding the global core index, or -1.
func (t *Static) SocketOfCore(core int) int {
	return SocketOfCore(t, core)
}

// String summarizes the layout, e.g. "2 sockets, 4 cores, 8 pus".
func (t *Static) String() string {
	return fmt.Sprintf("%d sockets, %d cores, %d pus (process mask %s)",
		t.SocketCount(), t.NumCores(), t.NumPUs(), t.process.String())
}

// CoreOffset returns the global index of the first core of socket.
func CoreOffset(t Topology, socket int) int {
	off := 0
	for s := 0; s < socket && s < t.SocketCount(); s++ {
		off += t.CoreCount(s)
	}
	return off
}

// SocketOfCore returns the socket that holds the global core index, or -1.
func SocketOfCore(t Topology, core int) int {
	off := 0
	for s := 0; s < t.SocketCount(); s++ {
		n := t.CoreCount(s)
		if core >= off && core < off+n {
			return s
		}
		off += n
	}
	return -1
}
