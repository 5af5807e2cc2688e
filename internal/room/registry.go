package room

import (
	"sort"
	"sync"
)

// Registry owns the rooms of one instance.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	writer string
}

// NewRegistry creates an empty registry. writer identifies this instance in
// the rooms' documents.
func NewRegistry(writer string) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		writer: writer,
	}
}

// GetOrCreate returns the room called name, creating an empty one if
// needed. The only error is a malformed name.
func (g *Registry) GetOrCreate(name string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getOrCreateLocked(name)
}

func (g *Registry) getOrCreateLocked(name string) (*Room, error) {
	if r, ok := g.rooms[name]; ok {
		return r, nil
	}
	collection, primaryKey, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	r := newRoom(name, collection, primaryKey, g.writer)
	g.rooms[name] = r
	return r, nil
}

// Get returns the room called name, if it exists.
func (g *Registry) Get(name string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[name]
	return r, ok
}

// Join adds uid to the room called name, creating the room if needed. The
// registry lock is held throughout so a concurrent DestroyIfEmpty cannot
// remove the room between creation and membership.
func (g *Registry) Join(name, uid string) (r *Room, added bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, err = g.getOrCreateLocked(name)
	if err != nil {
		return nil, false, err
	}
	return r, r.AddMember(uid), nil
}

// Leave removes uid from the room called name and destroys the room if it
// is now empty.
func (g *Registry) Leave(name, uid string) (removed, destroyed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[name]
	if !ok {
		return false, false
	}
	removed = r.RemoveMember(uid)
	if r.IsEmpty() {
		delete(g.rooms, name)
		destroyed = true
	}
	return removed, destroyed
}

// DestroyIfEmpty removes the room called name if it has no members.
func (g *Registry) DestroyIfEmpty(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[name]
	if !ok || !r.IsEmpty() {
		return false
	}
	delete(g.rooms, name)
	return true
}

// Names returns the names of all rooms, sorted.
func (g *Registry) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.rooms))
	for name := range g.rooms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Infos summarizes every room, ordered by name.
func (g *Registry) Infos() []Info {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	out := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
