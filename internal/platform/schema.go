package platform

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPrimaryKey is used for collections the snapshot does not describe.
const DefaultPrimaryKey = "id"

// SchemaSnapshot is the platform's schema as served by /schema/snapshot or
// read from a schema file.
type SchemaSnapshot struct {
	Collections map[string]CollectionSchema `json:"collections" yaml:"collections"`
	Relations   []Relation                  `json:"relations" yaml:"relations"`
}

// CollectionSchema describes one collection.
type CollectionSchema struct {
	PrimaryKey string               `json:"primary_key" yaml:"primary_key"`
	Fields     map[string]FieldInfo `json:"fields" yaml:"fields"`
}

type relationKey struct {
	collection string
	field      string
}

// Schema is an in-memory Catalog. It is safe for concurrent use and can be
// swapped wholesale by a SchemaWatcher.
type Schema struct {
	mu          sync.RWMutex
	collections map[string]CollectionSchema
	relations   map[relationKey]Relation
}

// NewSchema builds a catalog from a snapshot.
func NewSchema(snap SchemaSnapshot) *Schema {
	s := &Schema{}
	s.Replace(snap)
	return s
}

// LoadSchemaFile reads a YAML schema snapshot.
func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	var snap SchemaSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse schema yaml: %w", err)
	}
	return NewSchema(snap), nil
}

// Replace swaps the catalog contents.
func (s *Schema) Replace(snap SchemaSnapshot) {
	collections := make(map[string]CollectionSchema, len(snap.Collections))
	for name, c := range snap.Collections {
		collections[name] = c
	}
	relations := make(map[relationKey]Relation, len(snap.Relations))
	for _, r := range snap.Relations {
		relations[relationKey{r.Collection, r.Field}] = r
	}

	s.mu.Lock()
	s.collections = collections
	s.relations = relations
	s.mu.Unlock()
}

// Field implements Catalog.
func (s *Schema) Field(collection, field string) (FieldInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return FieldInfo{}, false
	}
	f, ok := c.Fields[field]
	return f, ok
}

// Relation implements Catalog.
func (s *Schema) Relation(collection, field string) (Relation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.relations[relationKey{collection, field}]
	return r, ok
}

// PrimaryKey implements Catalog.
func (s *Schema) PrimaryKey(collection string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.collections[collection]; ok && c.PrimaryKey != "" {
		return c.PrimaryKey
	}
	return DefaultPrimaryKey
}

// Collections returns the number of collections in the catalog.
func (s *Schema) Collections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections)
}
