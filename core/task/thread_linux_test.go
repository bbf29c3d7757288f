// File: core/task/thread_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package task

import "golang.org/x/sys/unix"

func currentThread() int { return unix.Gettid() }
