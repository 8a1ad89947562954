// Package peers keeps track of the nodes a ledger node knows about.
//
// A peer is identified by the node ID it announces in the handshake, and is
// reachable at a network address. The Book holds every address the node has
// learned, either from its configuration, from discovery, or from the
// known-peers list another node sent back in a handshake response. Addresses
// in the Book are candidates for dialing; they are not necessarily connected.
//
// Upon shutdown, the node writes its Book to a peers.json file in its data
// directory, and reads it back on the next start so that it can reconnect to
// the network without relying on discovery alone.
package peers
