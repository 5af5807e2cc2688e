// Package persist bridges save handshakes to the content platform's
// database using Postgres LISTEN/NOTIFY.
//
// The Listener waits on the collab_save_requested channel and starts a
// save handshake for the room named in each notification, which lets a
// save performed through the platform's API ask every editor to confirm.
// The Bridge committer announces finished handshakes on
// collab_save_committed. Without a database, LogCommitter records the
// event in the log instead.
package persist
