// backend.go - Backend-Interface und Registrierung fuer ML-Modelle
// Dieses Modul definiert das Backend-Interface und die Backend-Factory-Funktionen.
package ml

import (
	"fmt"
	"maps"
	"slices"
)

// Backend represents a tensor execution backend (e.g., the pure Go cpu backend).
type Backend interface {
	// Name returns the name the backend was registered under
	Name() string

	// NewContext returns a fresh context for creating and evaluating tensors.
	NewContext() Context

	// Close frees all memory associated with this backend
	Close()
}

// BackendParams controls how the backend executes tensor operations
type BackendParams struct {
	// NumThreads sets the number of goroutines used for a single operation.
	// Zero selects GOMAXPROCS.
	NumThreads int
}

var backends = make(map[string]func(BackendParams) (Backend, error))

// RegisterBackend registers a backend factory function.
func RegisterBackend(name string, f func(BackendParams) (Backend, error)) {
	if _, ok := backends[name]; ok {
		panic("backend: backend already registered")
	}

	backends[name] = f
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// NewBackend creates a new backend instance by name.
func NewBackend(name string, params BackendParams) (Backend, error) {
	if backend, ok := backends[name]; ok {
		return backend(params)
	}

	return nil, fmt.Errorf("unsupported backend %q", name)
}
