package room

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/directus-labs/extensions-sub000/internal/crdt"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		primaryKey string
		wantErr    bool
	}{
		{name: "articles:42", collection: "articles", primaryKey: "42"},
		{name: "files:a:b:c", collection: "files", primaryKey: "a:b:c"},
		{name: "articles", wantErr: true},
		{name: ":42", wantErr: true},
		{name: "articles:", wantErr: true},
		{name: "", wantErr: true},
	}

	for _, tt := range tests {
		collection, primaryKey, err := ParseName(tt.name)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidName) {
				t.Errorf("ParseName(%q) error = %v, want ErrInvalidName", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseName(%q) error = %v", tt.name, err)
			continue
		}
		if collection != tt.collection || primaryKey != tt.primaryKey {
			t.Errorf("ParseName(%q) = %q, %q, want %q, %q", tt.name, collection, primaryKey, tt.collection, tt.primaryKey)
		}
		if Name(collection, primaryKey) != tt.name {
			t.Errorf("Name(%q, %q) = %q, want %q", collection, primaryKey, Name(collection, primaryKey), tt.name)
		}
	}
}

func TestRegistry_GetOrCreateFresh(t *testing.T) {
	g := NewRegistry("inst-1")

	r, err := g.GetOrCreate("articles:42")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !r.IsEmpty() || len(r.Members()) != 0 {
		t.Errorf("fresh room members = %v, want none", r.Members())
	}
	if got := r.Snapshot(); len(got) != 0 {
		t.Errorf("fresh room document = %v, want empty", got)
	}
	if r.Collection != "articles" || r.PrimaryKey != "42" {
		t.Errorf("room parts = %q, %q", r.Collection, r.PrimaryKey)
	}

	again, _ := g.GetOrCreate("articles:42")
	if again != r {
		t.Error("GetOrCreate() returned a different room for the same name")
	}

	if _, err := g.GetOrCreate("bogus"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("GetOrCreate(bogus) error = %v, want ErrInvalidName", err)
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	g := NewRegistry("inst-1")

	r, added, err := g.Join("articles:42", "tab-a")
	if err != nil || !added {
		t.Fatalf("Join() = %v, %v", added, err)
	}
	if _, added, _ := g.Join("articles:42", "tab-a"); added {
		t.Error("second Join() of the same uid reported added")
	}
	g.Join("articles:42", "tab-b")

	if got := r.Members(); !reflect.DeepEqual(got, []string{"tab-a", "tab-b"}) {
		t.Errorf("Members() = %v", got)
	}
	if g.DestroyIfEmpty("articles:42") {
		t.Error("DestroyIfEmpty() destroyed an occupied room")
	}

	removed, destroyed := g.Leave("articles:42", "tab-a")
	if !removed || destroyed {
		t.Errorf("Leave(tab-a) = %v, %v, want true, false", removed, destroyed)
	}
	removed, destroyed = g.Leave("articles:42", "tab-b")
	if !removed || !destroyed {
		t.Errorf("Leave(tab-b) = %v, %v, want true, true", removed, destroyed)
	}
	if _, ok := g.Get("articles:42"); ok {
		t.Error("room still registered after last member left")
	}
	if g.Len() != 0 {
		t.Errorf("Len() = %d, want 0", g.Len())
	}

	if removed, destroyed := g.Leave("articles:42", "tab-b"); removed || destroyed {
		t.Errorf("Leave() on missing room = %v, %v", removed, destroyed)
	}
}

func TestRegistry_DestroyIfEmpty(t *testing.T) {
	g := NewRegistry("inst-1")
	g.GetOrCreate("articles:1")
	g.GetOrCreate("articles:2")

	if !g.DestroyIfEmpty("articles:1") {
		t.Error("DestroyIfEmpty() kept an empty room")
	}
	if got := g.Names(); !reflect.DeepEqual(got, []string{"articles:2"}) {
		t.Errorf("Names() = %v", got)
	}
	if g.DestroyIfEmpty("articles:404") {
		t.Error("DestroyIfEmpty() on a missing room reported true")
	}
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	g := NewRegistry("inst-1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := string(rune('a' + i%26))
			for j := 0; j < 100; j++ {
				r, _, err := g.Join("articles:42", uid)
				if err != nil {
					t.Errorf("Join() error = %v", err)
					return
				}
				r.SetActiveField(ActiveField{UID: uid, Field: "title"})
				r.ClearActiveField(uid)
				g.Leave("articles:42", uid)
			}
		}(i)
	}
	wg.Wait()

	if g.Len() != 0 {
		t.Errorf("Len() after all left = %d, want 0", g.Len())
	}
}

func TestRoom_ActiveFieldLastWriteWins(t *testing.T) {
	r, _ := NewRegistry("inst-1").GetOrCreate("articles:42")

	r.SetActiveField(ActiveField{UID: "tab-a", Field: "title"})
	r.SetActiveField(ActiveField{UID: "tab-a", Field: "body"})
	r.SetActiveField(ActiveField{UID: "tab-b", Field: "title"})

	claims := r.ActiveFields()
	if len(claims) != 2 {
		t.Fatalf("ActiveFields() = %v, want one claim per uid", claims)
	}
	if claims[0].UID != "tab-a" || claims[0].Field != "body" {
		t.Errorf("tab-a claim = %+v, want body", claims[0])
	}

	claim, ok := r.ClearActiveField("tab-a")
	if !ok || claim.Field != "body" {
		t.Errorf("ClearActiveField() = %+v, %v", claim, ok)
	}
	if _, ok := r.ClearActiveField("tab-a"); ok {
		t.Error("ClearActiveField() twice reported a claim")
	}
}

func TestRoom_ApplyAndMergeState(t *testing.T) {
	g := NewRegistry("inst-1")
	r, _ := g.GetOrCreate("articles:42")

	client := crdt.NewDocument("tab-a")
	update, _ := client.Set("title", "hello")

	fields, err := r.ApplyUpdate(update)
	if err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	if !reflect.DeepEqual(fields, []string{"title"}) {
		t.Errorf("ApplyUpdate() fields = %v", fields)
	}
	if _, err := r.ApplyUpdate([]byte("garbage")); err == nil {
		t.Error("ApplyUpdate(garbage) error = nil")
	}

	// Another instance's replica knows title and body.
	other := crdt.NewDocument("tab-b")
	other.Apply(update)
	other.Set("body", "world")

	learned, err := r.MergeState(other.EncodeState())
	if err != nil {
		t.Fatalf("MergeState() error = %v", err)
	}
	u, err := crdt.DecodeUpdate(learned)
	if err != nil {
		t.Fatalf("DecodeUpdate(learned) error = %v", err)
	}
	if got := u.Fields(); !reflect.DeepEqual(got, []string{"body"}) {
		t.Errorf("learned fields = %v, want [body]", got)
	}

	again, _ := r.MergeState(other.EncodeState())
	if again != nil {
		t.Errorf("MergeState() of known state learned %x", again)
	}

	if got := r.EncodeStateAsUpdate(other.StateVector()); got != nil {
		t.Errorf("EncodeStateAsUpdate() for an up-to-date replica = %x", got)
	}
	if got := r.Info(); got.Fields != 2 {
		t.Errorf("Info().Fields = %d, want 2", got.Fields)
	}
}

func TestRoom_RemotePresence(t *testing.T) {
	r, _, _ := NewRegistry("inst-1").Join("articles:42", "tab-a")

	bob := Presence{UID: "tab-b", User: "bob", Color: "#00f"}
	if !r.SetRemote(bob) {
		t.Error("SetRemote() = false for a new member")
	}
	if r.SetRemote(bob) {
		t.Error("SetRemote() = true for an unchanged member")
	}
	bob.Color = "#0f0"
	if !r.SetRemote(bob) {
		t.Error("SetRemote() = false for a changed member")
	}
	r.SetRemote(Presence{UID: "tab-c", User: "carol"})

	if got := r.Remote(); len(got) != 2 || got[0] != bob || got[1].UID != "tab-c" {
		t.Errorf("Remote() = %+v", got)
	}
	if got := r.Members(); !reflect.DeepEqual(got, []string{"tab-a"}) {
		t.Errorf("Members() = %v, want only local members", got)
	}
	if got := r.Info().Remote; got != 2 {
		t.Errorf("Info().Remote = %d, want 2", got)
	}

	r.SetActiveField(ActiveField{UID: "tab-a", Field: "body"})
	r.SetActiveField(ActiveField{UID: "tab-b", Field: "title"})
	if r.SetActiveField(ActiveField{UID: "tab-b", Field: "title"}) {
		t.Error("SetActiveField() = true for an unchanged claim")
	}

	if !r.RemoveRemote("tab-b") {
		t.Error("RemoveRemote() = false for a known member")
	}
	if r.RemoveRemote("tab-b") {
		t.Error("RemoveRemote() twice = true")
	}
	if got := r.ActiveFields(); len(got) != 1 || got[0].UID != "tab-a" {
		t.Errorf("ActiveFields() after RemoveRemote = %+v, want only tab-a", got)
	}
	if r.IsEmpty() {
		t.Error("IsEmpty() = true with a local member")
	}
}

func TestRoom_SaveHandshake(t *testing.T) {
	g := NewRegistry("inst-1")
	for _, uid := range []string{"a", "b", "c"} {
		g.Join("articles:42", uid)
	}
	r, _ := g.Get("articles:42")

	savedAt := time.UnixMilli(1700000000000)
	pending, started := r.BeginSave("a", savedAt)
	if !started || !reflect.DeepEqual(pending, []string{"b", "c"}) {
		t.Fatalf("BeginSave() = %v, %v", pending, started)
	}
	if _, started := r.BeginSave("b", time.Now()); started {
		t.Error("second BeginSave() started while one is pending")
	}

	if _, done := r.AckSave("b"); done {
		t.Error("AckSave(b) finished with c still pending")
	}
	if _, done := r.AckSave("b"); done {
		t.Error("duplicate AckSave(b) finished the handshake")
	}
	got, done := r.AckSave("c")
	if !done {
		t.Error("AckSave(c) did not finish the handshake")
	}
	if !got.Equal(savedAt) {
		t.Errorf("AckSave(c) savedAt = %v, want %v", got, savedAt)
	}
	if _, done := r.AckSave("c"); done || r.SavePending() {
		t.Error("handshake finished twice")
	}
}

func TestRoom_SaveAlone(t *testing.T) {
	r, _, _ := NewRegistry("inst-1").Join("articles:42", "a")

	pending, started := r.BeginSave("a", time.Now())
	if !started || len(pending) != 0 {
		t.Errorf("BeginSave() alone = %v, %v, want empty, true", pending, started)
	}
	if r.SavePending() {
		t.Error("SavePending() true for a save with nobody to wait for")
	}
}

func TestRoom_CancelSave(t *testing.T) {
	g := NewRegistry("inst-1")
	g.Join("articles:42", "a")
	r, _, _ := g.Join("articles:42", "b")

	r.BeginSave("a", time.Now())
	if got := r.PendingAcks(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("PendingAcks() = %v", got)
	}
	if !r.CancelSave() {
		t.Error("CancelSave() = false with a pending save")
	}
	if r.CancelSave() {
		t.Error("CancelSave() twice = true")
	}
	if _, done := r.AckSave("b"); done {
		t.Error("AckSave() after cancel finished a handshake")
	}
}
