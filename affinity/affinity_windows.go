//go:build windows
// +build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows implementation via SetThreadAffinityMask. Only the first processor
// group (64 PUs) is addressable.

package affinity

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-rt/topology"
)

var (
	modkernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadAffinityMask  = modkernel32.NewProc("SetThreadAffinityMask")
	procGetProcessAffinityMask = modkernel32.NewProc("GetProcessAffinityMask")
)

func toWord(mask topology.Mask) (uintptr, error) {
	var w uintptr
	for _, pu := range mask.PUs() {
		if pu >= 64 {
			return 0, errors.Errorf("affinity: pu %d outside processor group 0", pu)
		}
		w |= uintptr(1) << uint(pu)
	}
	return w, nil
}

func fromWord(w uintptr) topology.Mask {
	var m topology.Mask
	for pu := 0; pu < 64; pu++ {
		if w&(uintptr(1)<<uint(pu)) != 0 {
			m.Set(pu)
		}
	}
	return m
}

func bindPlatform(mask topology.Mask) error {
	w, err := toWord(mask)
	if err != nil {
		return err
	}
	old, _, callErr := procSetThreadAffinityMask.Call(uintptr(windows.CurrentThread()), w)
	if old == 0 {
		return errors.Wrap(callErr, "affinity: SetThreadAffinityMask failed")
	}
	return nil
}

func processMaskPlatform() (topology.Mask, error) {
	var proc, sys uintptr
	ok, _, callErr := procGetProcessAffinityMask.Call(
		uintptr(windows.CurrentProcess()),
		uintptr(unsafe.Pointer(&proc)),
		uintptr(unsafe.Pointer(&sys)),
	)
	if ok == 0 {
		return topology.Mask{}, errors.Wrap(callErr, "affinity: GetProcessAffinityMask failed")
	}
	return fromWord(proc), nil
}

// currentMaskPlatform reports the process mask; Windows has no direct query
// for a thread's mask.
func currentMaskPlatform() (topology.Mask, error) {
	return processMaskPlatform()
}
