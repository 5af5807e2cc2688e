// Package server exposes the collaboration service over HTTP.
//
// Routes:
//
//	GET  /ws                  websocket upgrade (token via access_token or Bearer)
//	GET  /health              bus reachability
//	GET  /debug/rooms         instance stats (when Debug is set)
//	POST /rooms/{room}/save   start a save handshake (admin only)
//
// Each websocket gets a connection.Client, a dispatch.Session reading its
// frames and a connection.Pump moving bytes. The handler returns once the
// pump has stopped and the session has published its departure.
package server
