// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker-side concurrency for hioload-rt: the reference worker loop that
// drives the scheduler core, and the FIFO work-stealing queue it pulls
// lightweight tasks from. Thread binding is delegated to package affinity.
package concurrency
