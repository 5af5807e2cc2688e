package room

import (
	"sort"
	"sync"
	"time"

	"github.com/directus-labs/extensions-sub000/internal/crdt"
)

// Room is one record's collaboration session.
type Room struct {
	Name       string
	Collection string
	PrimaryKey string
	CreatedAt  time.Time

	mu      sync.Mutex
	doc     *crdt.Document
	members map[string]struct{}
	remote  map[string]Presence
	claims  map[string]ActiveField

	saving        bool
	saveInitiator string
	savedAt       time.Time
	pending       map[string]struct{}
}

func newRoom(name, collection, primaryKey, writer string) *Room {
	return &Room{
		Name:       name,
		Collection: collection,
		PrimaryKey: primaryKey,
		CreatedAt:  time.Now(),
		doc:        crdt.NewDocument(writer),
		members:    make(map[string]struct{}),
		remote:     make(map[string]Presence),
		claims:     make(map[string]ActiveField),
		pending:    make(map[string]struct{}),
	}
}

// AddMember adds uid. It reports false if uid was already a member.
func (r *Room) AddMember(uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[uid]; ok {
		return false
	}
	r.members[uid] = struct{}{}
	return true
}

// RemoveMember removes uid. It reports false if uid was not a member.
func (r *Room) RemoveMember(uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[uid]; !ok {
		return false
	}
	delete(r.members, uid)
	return true
}

// HasMember reports whether uid is a member.
func (r *Room) HasMember(uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[uid]
	return ok
}

// Members returns the member UIDs, sorted.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.members)
}

// IsEmpty reports whether the room has no members.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0
}

// SetRemote records a member of another instance. It reports false if
// the same presence was already known.
func (r *Room) SetRemote(p Presence) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.remote[p.UID]; ok && old == p {
		return false
	}
	r.remote[p.UID] = p
	return true
}

// RemoveRemote forgets a member of another instance together with its
// claim. It reports false if uid was not known.
func (r *Room) RemoveRemote(uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.remote[uid]; !ok {
		return false
	}
	delete(r.remote, uid)
	if _, local := r.members[uid]; !local {
		delete(r.claims, uid)
	}
	return true
}

// Remote returns the members of other instances, ordered by UID.
func (r *Room) Remote() []Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Presence, 0, len(r.remote))
	for _, p := range r.remote {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// SetActiveField records claim, replacing any previous claim by the same
// UID. It reports false if the same claim was already held.
func (r *Room) SetActiveField(claim ActiveField) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.claims[claim.UID]; ok && old == claim {
		return false
	}
	r.claims[claim.UID] = claim
	return true
}

// ClearActiveField removes uid's claim and returns it.
func (r *Room) ClearActiveField(uid string) (ActiveField, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	claim, ok := r.claims[uid]
	if ok {
		delete(r.claims, uid)
	}
	return claim, ok
}

// ActiveFields returns every claim, ordered by UID.
func (r *Room) ActiveFields() []ActiveField {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ActiveField, 0, len(r.claims))
	for _, claim := range r.claims {
		out = append(out, claim)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// ApplyUpdate merges a document delta and returns the fields it touches.
func (r *Room) ApplyUpdate(update []byte) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Apply(update)
}

// MergeState merges a full or partial state from another replica and
// returns an update holding only the entries that were new here, or nil.
func (r *Room) MergeState(state []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.doc.StateVector()
	if _, err := r.doc.Apply(state); err != nil {
		return nil, err
	}
	return r.doc.EncodeStateAsUpdate(before), nil
}

// EncodeState encodes the whole document.
func (r *Room) EncodeState() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.EncodeState()
}

// EncodeStateAsUpdate returns the entries a replica with vector lacks.
func (r *Room) EncodeStateAsUpdate(vector map[string]uint64) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.EncodeStateAsUpdate(vector)
}

// StateVector returns the document's state vector.
func (r *Room) StateVector() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.StateVector()
}

// Snapshot returns the document's live fields.
func (r *Room) Snapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Snapshot()
}

// BeginSave starts a save handshake on behalf of initiator, stamped with
// savedAt, seeding the pending set with every other member. It returns
// started=false when a handshake is already in progress. An empty pending
// slice means the save can be committed immediately; the handshake is then
// already finished.
func (r *Room) BeginSave(initiator string, savedAt time.Time) (pending []string, started bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saving {
		return nil, false
	}
	for uid := range r.members {
		if uid != initiator {
			r.pending[uid] = struct{}{}
		}
	}
	pending = sortedKeys(r.pending)
	if len(pending) > 0 {
		r.saving = true
		r.saveInitiator = initiator
		r.savedAt = savedAt
	}
	return pending, true
}

// AckSave removes uid from the pending set. It reports done exactly once
// per handshake, when the last pending UID is removed, together with the
// handshake's save time.
func (r *Room) AckSave(uid string) (savedAt time.Time, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.saving {
		return time.Time{}, false
	}
	delete(r.pending, uid)
	if len(r.pending) > 0 {
		return time.Time{}, false
	}
	savedAt = r.savedAt
	r.finishSave()
	return savedAt, true
}

// SavePending reports whether a handshake is in progress.
func (r *Room) SavePending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saving
}

// PendingAcks returns the UIDs still owing an acknowledgement.
func (r *Room) PendingAcks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.pending)
}

// CancelSave ends the handshake in progress. It reports whether there was
// one, so a forced completion fires at most once.
func (r *Room) CancelSave() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.saving {
		return false
	}
	r.finishSave()
	return true
}

func (r *Room) finishSave() {
	r.saving = false
	r.saveInitiator = ""
	r.savedAt = time.Time{}
	clear(r.pending)
}

// Info returns a summary of the room.
func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		Name:        r.Name,
		Members:     len(r.members),
		Remote:      len(r.remote),
		Fields:      r.doc.Len(),
		Claims:      len(r.claims),
		SavePending: r.saving,
		CreatedAt:   r.CreatedAt,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
