// Package protocol defines the JSON frames exchanged with browsers and the
// broadcast envelope exchanged between instances over the bus.
//
// Browser frames share a socket with unrelated host traffic. Only frames
// with type "collab" (selected further by "action") and "ping" belong to
// this package; everything else is ignored by the server.
//
// Binary document deltas travel as []byte fields, which encoding/json
// renders as standard base64.
package protocol
