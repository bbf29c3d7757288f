// File: adapters/affinity_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
// Description:
//   Adapter implementing the api.Affinity interface, delegating to
//   package affinity for thread binding.

package adapters

import (
	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/topology"
)

// AffinityAdapter implements api.Affinity for the calling thread and tracks
// the last binding it made.
type AffinityAdapter struct {
	pus    []int
	pinned bool
}

var _ api.Affinity = (*AffinityAdapter)(nil)

// NewAffinityAdapter creates an unpinned adapter.
func NewAffinityAdapter() *AffinityAdapter {
	return &AffinityAdapter{}
}

// Pin binds the calling thread to pus.
func (a *AffinityAdapter) Pin(pus []int) error {
	if len(pus) == 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "pin needs at least one processing unit")
	}
	if err := affinity.Bind(topology.MaskOf(pus...)); err != nil {
		return err
	}
	a.pus = append([]int(nil), pus...)
	a.pinned = true
	return nil
}

// Unpin restores the process mask on the calling thread.
func (a *AffinityAdapter) Unpin() error {
	if err := affinity.Unbind(); err != nil {
		return err
	}
	a.pus = nil
	a.pinned = false
	return nil
}

// Get returns the PUs the calling thread may run on.
func (a *AffinityAdapter) Get() ([]int, error) {
	m, err := affinity.CurrentMask()
	if err != nil {
		return nil, err
	}
	return m.PUs(), nil
}

// Descriptor returns a snapshot of the adapter's binding.
func (a *AffinityAdapter) Descriptor() api.AffinityDescriptor {
	return api.AffinityDescriptor{
		PUs:    append([]int(nil), a.pus...),
		Scope:  api.ScopeThread,
		Pinned: a.pinned,
	}
}
