package net

import (
	"context"
	"net"
)

// StreamLayer is the byte-stream below a NetworkTransport. It accepts inbound
// streams as a net.Listener does, and opens outbound ones.
type StreamLayer interface {
	net.Listener

	// Dial opens a stream to address, honoring the deadline of ctx.
	Dial(ctx context.Context, address string) (net.Conn, error)

	// AdvertiseAddr is the address other nodes should dial to reach us.
	AdvertiseAddr() string
}
