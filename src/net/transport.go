package net

import "context"

// Transport provides an interface for network transports to allow a node to
// open and accept connections to and from other nodes.
type Transport interface {

	// Listen accepts incoming connections until the transport is closed. It
	// blocks, so it is usually started in its own goroutine.
	Listen()

	// Accept returns a channel that delivers inbound connections.
	Accept() <-chan Conn

	// Dial opens a connection to the node at address. The context bounds the
	// connection attempt.
	Dial(ctx context.Context, address string) (Conn, error)

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
