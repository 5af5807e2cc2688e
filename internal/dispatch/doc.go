// Package dispatch routes collaboration messages between connections,
// rooms and the bus.
//
// A Service is constructed once per process and owns the connection and
// room registries, the sanitizer and the save coordinator. Each accepted
// socket gets a Session, a small state machine that consumes the client's
// decoded frames:
//
//	Unidentified --identify--> Identified --join/leave--> (member of 0..n rooms)
//
// Every event that other members must see is published on the bus, and
// every instance (this one included) delivers it to its local members from
// the bus subscription. Permissions are checked per recipient at delivery,
// never cached from the sender.
package dispatch
