package connection

import (
	"sort"
	"sync"
)

// Registry indexes the live clients of one instance by ID and by UID.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Client
	byUID map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[string]*Client),
		byUID: make(map[string]*Client),
	}
}

// Register adds c. It reports false if c is already registered.
func (r *Registry) Register(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[c.ID]; ok {
		return false
	}
	r.byID[c.ID] = c
	r.byUID[c.UID()] = c
	return true
}

// Unregister removes c. It is safe to call more than once; only the first
// call reports true.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[c.ID]; !ok {
		return false
	}
	delete(r.byID, c.ID)
	if r.byUID[c.UID()] == c {
		delete(r.byUID, c.UID())
	}
	return true
}

// Identify sets c's UID and color. A UID held by another live client is
// rejected with ErrDuplicateUID and c keeps its current UID.
func (r *Registry) Identify(c *Client, uid, color string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uid == "" {
		uid = c.UID()
	}
	if other, ok := r.byUID[uid]; ok && other != c {
		c.setIdentity(c.UID(), color)
		return ErrDuplicateUID
	}
	if r.byUID[c.UID()] == c {
		delete(r.byUID, c.UID())
	}
	c.setIdentity(uid, color)
	if _, ok := r.byID[c.ID]; ok {
		r.byUID[uid] = c
	}
	return nil
}

// Lookup returns the client with the given ID.
func (r *Registry) Lookup(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// LookupUID returns the client with the given UID.
func (r *Registry) LookupUID(uid string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUID[uid]
	return c, ok
}

// Len returns the number of live clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns every live client ordered by ID.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
