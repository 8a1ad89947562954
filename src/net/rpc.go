package net

import "errors"

var errNoRoute = errors.New("rpc has no route back to its sender")

// RPC is an inbound message, and a way to answer the peer it came from.
type RPC struct {
	Message *Message
	From    *PeerConn

	network *Network
}

// Respond sends a message of type t back to the originating peer.
func (r *RPC) Respond(t MessageType, data interface{}) error {
	if r.network == nil || r.From == nil {
		return errNoRoute
	}
	return r.network.Send(r.From, t, data)
}
