//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux implementation using sched_setaffinity(2) on the calling thread.

package affinity

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/topology"
)

// maxCPUs is the capacity of unix.CPUSet.
const maxCPUs = 1024

func bindPlatform(mask topology.Mask) error {
	var set unix.CPUSet
	set.Zero()
	for _, pu := range mask.PUs() {
		if pu >= maxCPUs {
			return errors.Errorf("affinity: pu %d exceeds cpu set capacity", pu)
		}
		set.Set(pu)
	}
	// pid 0 is the calling thread
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return errors.Wrapf(err, "affinity: sched_setaffinity(%s) failed", mask.String())
	}
	return nil
}

// startupMask is the main thread's mask before any worker bound itself.
// sched_getaffinity on the pid reads the main thread, which may later run
// bound goroutines.
var startupMask, startupErr = getAffinity(unix.Getpid())

func processMaskPlatform() (topology.Mask, error) {
	if startupErr != nil {
		return getAffinity(unix.Getpid())
	}
	return startupMask.Clone(), nil
}

func currentMaskPlatform() (topology.Mask, error) {
	return getAffinity(0)
}

func getAffinity(pid int) (topology.Mask, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(pid, &set); err != nil {
		return topology.Mask{}, errors.Wrap(err, "affinity: sched_getaffinity failed")
	}
	var m topology.Mask
	for cpu := 0; cpu < maxCPUs; cpu++ {
		if set.IsSet(cpu) {
			m.Set(cpu)
		}
	}
	return m, nil
}
