// Package audio owns synthesized audio: revocable resources, decoding and playback.
package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// HandlePrefix is the path under which resources are addressable by the host.
const HandlePrefix = "/audio/"

var ErrRevoked = errors.New("audio resource revoked")

// Resource is one synthesized clip of audio. It stays readable until Release.
type Resource struct {
	ID     string
	Handle string
	Format Format

	registry *Registry
	data     []byte
	released bool
}

// Bytes returns the encoded audio, or ErrRevoked once released.
func (r *Resource) Bytes() ([]byte, error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()
	if r.released {
		return nil, ErrRevoked
	}
	return r.data, nil
}

// Size is the length of the encoded payload.
func (r *Resource) Size() int {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()
	return len(r.data)
}

// Release frees the payload and revokes the handle. Safe to call more than once.
func (r *Resource) Release() {
	r.registry.revoke(r)
}

// Released reports whether Release has been called.
func (r *Resource) Released() bool {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()
	return r.released
}

// Registry issues handles for live resources, the way a browser hands out object URLs.
type Registry struct {
	mu       sync.Mutex
	live     map[string]*Resource
	created  int
	released int
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Resource)}
}

// Create registers data under a fresh handle.
func (g *Registry) Create(data []byte, format Format) *Resource {
	id := uuid.NewString()
	res := &Resource{
		ID:       id,
		Handle:   HandlePrefix + id,
		Format:   format,
		registry: g,
		data:     data,
	}

	g.mu.Lock()
	g.live[id] = res
	g.created++
	g.mu.Unlock()

	return res
}

// Open resolves a handle (or bare id) to a live resource.
func (g *Registry) Open(handle string) (*Resource, error) {
	id := strings.TrimPrefix(handle, HandlePrefix)

	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.live[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", handle, ErrRevoked)
	}
	return res, nil
}

func (g *Registry) revoke(r *Resource) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	r.data = nil
	delete(g.live, r.ID)
	g.released++
}

// Live is the number of resources not yet released.
func (g *Registry) Live() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.live)
}

func (g *Registry) Created() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.created
}

func (g *Registry) Released() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}

// ReleaseAll revokes every live resource, used on teardown.
func (g *Registry) ReleaseAll() {
	g.mu.Lock()
	live := make([]*Resource, 0, len(g.live))
	for _, r := range g.live {
		live = append(live, r)
	}
	g.mu.Unlock()

	for _, r := range live {
		r.Release()
	}
}
