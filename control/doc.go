// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot reload, metrics and debug introspection for hioload-rt.
//
// Provides:
//   - Config file loading (YAML/JSON) and a store with reload listeners
//   - Prometheus metrics fed by scheduler and allocator observers
//   - Debug probe registration and state dumps
package control
