// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for binding worker OS threads to PU masks. Platform
// specific implementations live in affinity_linux.go, affinity_windows.go and
// affinity_stub.go, guarded by build tags.

package affinity

import (
	"runtime"

	"github.com/momentics/hioload-rt/topology"
)

// Bind locks the calling goroutine to its OS thread and restricts the thread
// to the PUs in mask. The goroutine stays locked even if binding fails.
func Bind(mask topology.Mask) error {
	runtime.LockOSThread()
	if !mask.Any() {
		return nil
	}
	return bindPlatform(mask)
}

// Unbind restores the process mask on the calling thread and unlocks it.
func Unbind() error {
	defer runtime.UnlockOSThread()
	mask, err := ProcessMask()
	if err != nil {
		return err
	}
	return bindPlatform(mask)
}

// ProcessMask returns the PUs the process is currently allowed to run on.
func ProcessMask() (topology.Mask, error) {
	return processMaskPlatform()
}

// CurrentMask returns the mask of the calling thread.
func CurrentMask() (topology.Mask, error) {
	return currentMaskPlatform()
}
