// Package pool
// Author: momentics <momentics@gmail.com>
//
// Stack accounting for hioload-rt tasks.
// Stacks come in a small fixed set of size classes. Task contexts are
// recycled by the task allocator; this package only tracks how many stacks
// of each class are in use. See stack_pool.go.
package pool
