package platform

import (
	"context"
	"slices"
)

// Accountability is the identity and permission context of a connection.
type Accountability struct {
	User  string `json:"user"`
	Role  string `json:"role"`
	Admin bool   `json:"admin"`
}

// Oracle answers read-permission questions.
type Oracle interface {
	// CanRead reports whether acc can read all of fields on the record of
	// collection identified by primaryKey. An empty primaryKey asks about a
	// record that does not exist yet.
	CanRead(ctx context.Context, acc Accountability, collection, primaryKey string, fields []string) (bool, error)
}

// OracleFunc is a function adapter for Oracle.
type OracleFunc func(ctx context.Context, acc Accountability, collection, primaryKey string, fields []string) (bool, error)

func (f OracleFunc) CanRead(ctx context.Context, acc Accountability, collection, primaryKey string, fields []string) (bool, error) {
	return f(ctx, acc, collection, primaryKey, fields)
}

// Catalog resolves schema metadata.
type Catalog interface {
	Field(collection, field string) (FieldInfo, bool)
	Relation(collection, field string) (Relation, bool)
	PrimaryKey(collection string) string
}

// AllowAll grants every read. Sensitive fields are still stripped by the
// sanitizer's own rules.
var AllowAll = OracleFunc(func(context.Context, Accountability, string, string, []string) (bool, error) {
	return true, nil
})

// Authenticator resolves an access token to an accountability.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Accountability, error)
}

// AuthenticatorFunc is a function adapter for Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (Accountability, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (Accountability, error) {
	return f(ctx, token)
}

// TokenAsUser authenticates any non-empty token as the user of that name.
// It is only meant for running without a platform.
var TokenAsUser = AuthenticatorFunc(func(_ context.Context, token string) (Accountability, error) {
	if token == "" {
		return Accountability{}, ErrUnauthenticated
	}
	return Accountability{User: token}, nil
})

// FieldInfo describes a single field.
type FieldInfo struct {
	Type    string   `json:"type" yaml:"type"`
	Special []string `json:"special,omitempty" yaml:"special,omitempty"`
}

// Sensitive reports whether values of the field are never relayed to other
// collaborators, regardless of permissions.
func (f FieldInfo) Sensitive() bool {
	switch f.Type {
	case "hash", "secret":
		return true
	}
	return slices.Contains(f.Special, "conceal")
}

// RelationKind classifies a relational field.
type RelationKind string

const (
	ManyToOne RelationKind = "m2o"
	OneToMany RelationKind = "o2m"
	ManyToAny RelationKind = "m2a"
)

// Relation describes a relational field of a collection.
type Relation struct {
	Collection string       `json:"collection" yaml:"collection"`
	Field      string       `json:"field" yaml:"field"`
	Kind       RelationKind `json:"kind" yaml:"kind"`

	// RelatedCollection is the collection the field points at. For o2m
	// through a junction it is the junction collection. Empty for m2a.
	RelatedCollection string `json:"related_collection,omitempty" yaml:"related_collection,omitempty"`

	// ReverseField is the field on related rows pointing back (o2m).
	ReverseField string `json:"reverse_field,omitempty" yaml:"reverse_field,omitempty"`

	// JunctionField is the field on junction rows pointing at the far side
	// of a many-to-many (o2m through a junction).
	JunctionField string `json:"junction_field,omitempty" yaml:"junction_field,omitempty"`

	// CollectionField is the sibling field holding the related collection
	// name (m2a).
	CollectionField string `json:"collection_field,omitempty" yaml:"collection_field,omitempty"`
}
