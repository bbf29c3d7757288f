// Package api
// Author: momentics@gmail.com
//
// CPU/NUMA affinity, thread pinning and topology definitions.

package api

// AffinityScope defines what entity a binding applies to.
type AffinityScope int

const (
	ScopeProcess AffinityScope = iota
	ScopeThread
)

// Affinity controls execution of the calling worker on a set of PUs.
type Affinity interface {
	// Pin locks the calling goroutine to its OS thread and binds the thread
	// to the given PU indices.
	Pin(pus []int) error
	// Unpin restores the process-wide mask.
	Unpin() error
	// Get returns the PUs of the current binding.
	Get() ([]int, error)
}

// AffinityDescriptor is an immutable snapshot of a binding.
type AffinityDescriptor struct {
	PUs    []int
	Scope  AffinityScope
	Pinned bool
}
