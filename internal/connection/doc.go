// Package connection tracks browser connections and moves frames between
// their websockets and the dispatcher.
//
// A Client is the server-side state of one socket. Frames the client sends
// are decoded by a Pump and delivered on Client.Inbound; frames queued with
// Client.Send are written by the same Pump. The outbound Queue is unbounded
// so a slow browser never blocks the dispatcher.
package connection
