// Package ws carries the broker wire model over WebSocket.
//
// Server is the authority side: an http.Handler that upgrades connections,
// assigns each peer a subject identifier in a hello frame, and exposes the
// transport.Endpoint and transport.Responder surfaces. Client is the peer
// side: it dials the server, learns its subject from the hello frame, and
// exposes transport.Endpoint and transport.Requester.
//
// All frames are JSON. Request frames (subscribe, create) carry a unique id
// echoed back in the matching ack, so requests may be issued concurrently
// over one connection.
package ws
