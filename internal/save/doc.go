// Package save coordinates the save handshake of a room.
//
// When a member commits, every other member currently in the room on this
// instance must confirm (after flushing its buffered edits) before
// persistence may proceed. Members that disconnect are treated as having
// confirmed. A handshake that does not complete within the acknowledgement
// timeout is force-completed.
package save
