// Package sanitize filters record payloads down to what a given
// accountability may read before they are relayed to a collaborator.
//
// Fields are dropped, never reported: a collaborator cannot tell a field it
// may not read from a field nobody touched. Relational values (m2o, o2m,
// m2a) are filtered recursively against the related collection.
package sanitize
