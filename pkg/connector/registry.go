package connector

import (
	"errors"
	"io"
	"sync"
)

// ErrRegistryClosed is returned by Acquire after Close.
var ErrRegistryClosed = errors.New("client registry closed")

// Key identifies a shared provider client. Endpoint separates clients for
// the same model served by different base URLs.
type Key struct {
	Endpoint  string
	ModelID   string
	APIKeyEnv string
}

type registryEntry[C any] struct {
	client C
	refs   int
}

// Registry shares one client per Key between connectors. Clients are
// created on first Acquire and closed, if they implement io.Closer, when
// the last holder releases them or the registry is closed.
type Registry[C any] struct {
	mu      sync.Mutex
	entries map[Key]*registryEntry[C]
	closed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry[C any]() *Registry[C] {
	return &Registry[C]{entries: make(map[Key]*registryEntry[C])}
}

// Acquire returns the client for key, calling factory if none exists yet.
// The returned release func must be called once the caller is done with
// the client; extra calls are ignored.
func (r *Registry[C]) Acquire(key Key, factory func() (C, error)) (C, func(), error) {
	var zero C
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return zero, nil, ErrRegistryClosed
	}
	e, ok := r.entries[key]
	if !ok {
		client, err := factory()
		if err != nil {
			return zero, nil, err
		}
		e = &registryEntry[C]{client: client}
		r.entries[key] = e
	}
	e.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { r.release(key, e) })
	}
	return e.client, release, nil
}

func (r *Registry[C]) release(key Key, e *registryEntry[C]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.refs--
	if e.refs > 0 || r.entries[key] != e {
		return
	}
	delete(r.entries, key)
	_ = closeClient(e.client)
}

// Len reports how many clients are currently held.
func (r *Registry[C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every held client regardless of outstanding references.
func (r *Registry[C]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	var errs []error
	for key, e := range r.entries {
		if err := closeClient(e.client); err != nil {
			errs = append(errs, err)
		}
		delete(r.entries, key)
	}
	return errors.Join(errs...)
}

func closeClient(client any) error {
	if c, ok := client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
