// Package transport defines the abstract wire model between the authority
// node and its peers, independent of transport technology.
//
// A data message is (channel, sender, payload) where the payload is an
// ordered sequence of payload.Value and sender 0 denotes the authority. A
// batch envelope is an ordinary data message whose payload is a single
// marker map {batch: list of payload lists}; the receiver unpacks it into
// one logical delivery per inner list, preserving order.
//
// Implementations provide three surfaces:
//
//   - Endpoint: bidirectional data-message plumbing. Peer endpoints route
//     every send to the authority regardless of the addressed subject.
//   - Requester (peer side): the subscribe and create-channel
//     request/response pairs.
//   - Responder (authority side): hooks answering those requests and the
//     peer-disconnect notification.
//
// The in-memory Network in this package delivers synchronously in the
// caller's goroutine and backs tests and single-process runs. The ws
// subpackage provides the websocket realization.
package transport
