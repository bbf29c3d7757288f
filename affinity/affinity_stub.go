//go:build !linux && !windows
// +build !linux,!windows

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package affinity

import (
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/topology"
)

func bindPlatform(topology.Mask) error {
	return api.NewError(api.ErrCodeNotSupported, "affinity: not supported on this platform")
}

func processMaskPlatform() (topology.Mask, error) {
	return topology.Mask{}, api.NewError(api.ErrCodeNotSupported, "affinity: not supported on this platform")
}

func currentMaskPlatform() (topology.Mask, error) {
	return processMaskPlatform()
}
