package connector

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicate is returned when a topic is registered twice. At most one
// connector owns a topic at any time.
var ErrDuplicate = errors.New("connector: topic already registered")

// Registry maps live topics to their descriptors. Created at process start,
// torn down at shutdown; infrequent writers during start/stop transitions,
// any number of readers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Descriptor)}
}

func (r *Registry) Register(topic string, d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[topic]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, topic)
	}
	r.entries[topic] = d
	return nil
}

// Unregister removes the entry; no-op when absent.
func (r *Registry) Unregister(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, topic)
}

func (r *Registry) Lookup(topic string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[topic]
	return d, ok
}

// Topics returns the currently registered topic names.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	return out
}
