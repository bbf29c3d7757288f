//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific debug probes: process affinity and sysfs topology.

package control

import (
	"runtime"

	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/topology"
)

// RegisterPlatformProbes sets Linux-specific debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.process_mask", func() any {
		m, err := affinity.ProcessMask()
		if err != nil {
			return err.Error()
		}
		return m.String()
	})
	dp.RegisterProbe("platform.topology", func() any {
		t, err := topology.DiscoverOS()
		if err != nil {
			return err.Error()
		}
		return t.String()
	})
}
