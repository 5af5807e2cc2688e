package sanitize

import (
	"context"
	"log/slog"

	"github.com/directus-labs/extensions-sub000/internal/platform"
)

// NoChange is the result of sanitizing a payload in which nothing survives.
// Callers compare against nil and skip sending anything.
var NoChange map[string]any

// DiscardSentinel is the one-to-many value a client sends to throw away its
// staged relational edits.
const DiscardSentinel = "discard"

// Bucket names of a one-to-many change set.
const (
	BucketCreate = "create"
	BucketUpdate = "update"
	BucketDelete = "delete"
)

// maxDepth bounds recursion into nested relational payloads.
const maxDepth = 16

// Sanitizer filters payloads against an Oracle and a Catalog.
type Sanitizer struct {
	oracle  platform.Oracle
	catalog platform.Catalog
	logger  *slog.Logger
}

// New creates a Sanitizer.
func New(oracle platform.Oracle, catalog platform.Catalog, logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{
		oracle:  oracle,
		catalog: catalog,
		logger:  logger,
	}
}

// Sanitize returns the part of payload acc may read on the record of
// collection identified by primaryKey, or NoChange when nothing survives.
// payload is not modified.
func (s *Sanitizer) Sanitize(ctx context.Context, payload map[string]any, collection, primaryKey string, acc platform.Accountability) map[string]any {
	return s.sanitize(ctx, payload, collection, primaryKey, acc, 0)
}

func (s *Sanitizer) sanitize(ctx context.Context, payload map[string]any, collection, primaryKey string, acc platform.Accountability, depth int) map[string]any {
	if depth > maxDepth {
		s.logger.Warn("payload nested too deep, dropping", "collection", collection, "depth", depth)
		return NoChange
	}

	out := make(map[string]any, len(payload))
	for field, value := range payload {
		if info, ok := s.catalog.Field(collection, field); ok && info.Sensitive() {
			continue
		}
		if !s.CanRead(ctx, acc, collection, primaryKey, field) {
			continue
		}

		rel, ok := s.catalog.Relation(collection, field)
		if !ok {
			out[field] = value
			continue
		}

		switch rel.Kind {
		case platform.ManyToOne:
			if v, keep := s.manyToOne(ctx, value, rel.RelatedCollection, acc, depth); keep {
				out[field] = v
			}
		case platform.OneToMany:
			out[field] = s.oneToMany(ctx, value, rel, acc, depth)
		case platform.ManyToAny:
			related, _ := payload[rel.CollectionField].(string)
			if related == "" {
				continue
			}
			if v, keep := s.manyToOne(ctx, value, related, acc, depth); keep {
				out[field] = v
			}
		default:
			out[field] = value
		}
	}

	if len(out) == 0 {
		return NoChange
	}
	return out
}

// CanRead asks the oracle about a single field. Oracle failures count as a
// denial.
func (s *Sanitizer) CanRead(ctx context.Context, acc platform.Accountability, collection, primaryKey, field string) bool {
	ok, err := s.oracle.CanRead(ctx, acc, collection, primaryKey, []string{field})
	if err != nil {
		s.logger.Warn("permission check failed, treating as denied",
			"collection", collection,
			"primary_key", primaryKey,
			"field", field,
			"error", err,
		)
		return false
	}
	return ok
}

// manyToOne filters a value pointing at a single related record.
func (s *Sanitizer) manyToOne(ctx context.Context, value any, related string, acc platform.Accountability, depth int) (any, bool) {
	if value == nil {
		// Unlink.
		return nil, true
	}

	pkField := s.catalog.PrimaryKey(related)

	switch v := value.(type) {
	case map[string]any:
		id, ok := primaryKeyString(v[pkField])
		if !ok {
			// A new related record; it is relayed once it has an id.
			return nil, false
		}
		sanitized := s.sanitize(ctx, v, related, id, acc, depth+1)
		if sanitized == nil {
			return nil, false
		}
		return sanitized, true
	default:
		id, ok := primaryKeyString(v)
		if !ok {
			return nil, false
		}
		probe := map[string]any{pkField: v}
		if s.sanitize(ctx, probe, related, id, acc, depth+1) == nil {
			return nil, false
		}
		return v, true
	}
}

// oneToMany filters a create/update/delete change set. The result always
// carries all three buckets.
func (s *Sanitizer) oneToMany(ctx context.Context, value any, rel platform.Relation, acc platform.Accountability, depth int) map[string]any {
	in := normalizeChanges(value)
	related := rel.RelatedCollection
	pkField := s.catalog.PrimaryKey(related)

	create := make([]any, 0, len(in[BucketCreate]))
	for _, item := range in[BucketCreate] {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		identity := rel.JunctionField
		if identity == "" {
			identity = pkField
		}
		if entry[identity] == nil {
			// Pure creation: nothing exists yet that could be filtered.
			continue
		}
		key := ""
		if identity == pkField {
			key, _ = primaryKeyString(entry[pkField])
		}
		sanitized := s.sanitize(ctx, entry, related, key, acc, depth+1)
		if sanitized == nil {
			continue
		}
		if _, ok := sanitized[identity]; !ok {
			continue
		}
		create = append(create, sanitized)
	}

	update := make([]any, 0, len(in[BucketUpdate]))
	for _, item := range in[BucketUpdate] {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, ok := primaryKeyString(entry[pkField])
		if !ok && rel.JunctionField != "" {
			key, ok = s.linkKey(entry[rel.JunctionField], rel)
		}
		if !ok {
			continue
		}
		if sanitized := s.sanitize(ctx, entry, related, key, acc, depth+1); sanitized != nil {
			update = append(update, sanitized)
		}
	}

	del := make([]any, 0, len(in[BucketDelete]))
	for _, id := range in[BucketDelete] {
		key, ok := primaryKeyString(id)
		if !ok {
			continue
		}
		if s.CanRead(ctx, acc, related, key, pkField) {
			del = append(del, id)
		}
	}

	return map[string]any{
		BucketCreate: create,
		BucketUpdate: update,
		BucketDelete: del,
	}
}

// linkKey extracts the far-side key from a junction field value, which is
// either a bare id or a nested object carrying its primary key.
func (s *Sanitizer) linkKey(value any, rel platform.Relation) (string, bool) {
	if nested, ok := value.(map[string]any); ok {
		far, ok := s.catalog.Relation(rel.RelatedCollection, rel.JunctionField)
		if !ok {
			return "", false
		}
		return primaryKeyString(nested[s.catalog.PrimaryKey(far.RelatedCollection)])
	}
	return primaryKeyString(value)
}

// normalizeChanges turns any one-to-many value into the three buckets. The
// discard sentinel, bare arrays (a local-only reset) and unknown shapes all
// become empty buckets.
func normalizeChanges(value any) map[string][]any {
	out := map[string][]any{
		BucketCreate: {},
		BucketUpdate: {},
		BucketDelete: {},
	}
	m, ok := value.(map[string]any)
	if !ok {
		return out
	}
	for _, bucket := range []string{BucketCreate, BucketUpdate, BucketDelete} {
		if items, ok := m[bucket].([]any); ok {
			out[bucket] = items
		}
	}
	return out
}
