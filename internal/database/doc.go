// Package database provides the PostgreSQL connection pool used by the
// persistence bridge.
//
// The collaboration service keeps no rows of its own. The pool carries
// LISTEN/NOTIFY traffic between collabd and the content platform so that
// saves performed through the platform's own API are announced to editors,
// and committed saves are announced back.
package database
