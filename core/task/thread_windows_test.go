// File: core/task/thread_windows_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package task

import "golang.org/x/sys/windows"

func currentThread() int { return int(windows.GetCurrentThreadId()) }
