//go:build !linux && !windows
// +build !linux,!windows

// File: core/task/thread_other_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package task

// currentThread has no portable thread id here; thread checks degrade to
// worker checks.
func currentThread() int { return 0 }
