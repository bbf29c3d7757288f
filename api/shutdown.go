// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown stops all workers of a component and releases its
// resources once the workers are quiescent.
type GracefulShutdown interface {
	Shutdown() error
}
