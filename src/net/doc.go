// Package net implements the overlay that ledger nodes use to talk to each
// other.
//
// Every exchange is a Message, a JSON envelope {type, data, sender}. A
// Transport carries Messages over duplex connections:
//
// - Websocket: the default, one JSON text frame per message
//
// - TCP: a plain TCP stream of JSON values
//
// - Inmem: in-memory transport used only for testing
//
// The Network sits on top of a Transport. When it opens a connection, it sends
// a HANDSHAKE with its ID and reachable address; the other side records the
// address and answers with a HANDSHAKE_RESPONSE listing the peers it knows,
// which the initiator then dials in turn. Messages that carry our own ID as
// sender are dropped. Everything else is either the answer to a pending
// Request (REQUEST_CHAIN/SEND_CHAIN, REQUEST_POOL/SEND_POOL), or is handed to
// the consumer channel for the node to process.
//
// Discovery dials a candidate space, usually a range of local ports, with a
// short timeout per address. It is best-effort: nodes that cannot be reached
// are ignored.
//
// To configure the transport, set the following options in the Config object
// (cf config package):
//
// - BindAddr: the IP:PORT of the socket the node binds to.
//
// - AdvertiseAddr: (optional) The address that is advertised to other nodes. If
// BindAddr is a local address not reachable by other peers, it is useful to
// set AdvertiseAddr to the reachable public address.
package net
