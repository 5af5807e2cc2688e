// Package room holds per-record collaboration sessions.
//
// A Room is keyed by "<collection>:<primaryKey>" and owns the replicated
// document for that record, the set of member connections (by per-tab UID),
// their active-field claims and the pending save acknowledgements. Every
// Room method takes the room's own mutex; rooms never share a lock.
//
// Membership is a per-instance view. In a scaled-out deployment each
// instance tracks only the connections it serves, so "empty" means empty on
// this instance.
package room
