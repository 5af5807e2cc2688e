// Package crdt implements the replicated record document shared by the
// members of a collaboration room.
//
// A Document is a map of field name to JSON value where every field is a
// last-writer-wins register ordered by (Lamport clock, writer id). Updates
// are CBOR-encoded lists of register entries and merge commutatively,
// associatively and idempotently, so replicas converge regardless of the
// order in which the bus delivers them.
package crdt
