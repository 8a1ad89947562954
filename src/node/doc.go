// Package node implements the reactive component of a ledger node.
//
// A Node ties a Ledger to a Network and drives both through a small state
// machine whose states are defined in the state package:
//
//  Created -> Initializing -> Initialized -> Starting -> Running
//
// Any failure during initialization or start moves the node to Error, and
// Shutdown is reachable from every state.
//
// Initialization
//
// Initialize starts the transport, dials the configured peers and every port
// of the discovery range, loads the ledger from its store and then asks every
// connected peer for its chain and its pending pool. A chain that is longer
// and valid replaces ours; pools are merged. Peers that do not answer within
// the sync timeout are skipped.
//
// Dispatch
//
// Every mutation of the ledger runs on a single dispatch loop. Messages from
// peers, responses collected during synchronization, and calls from the local
// API (SubmitTransaction, CreateBlock) are all serialized through it, so the
// ledger only ever has one writer. New transactions and blocks are relayed to
// the other peers the first time they are accepted. A block that does not
// extend our tip triggers a chain request to its sender.
//
// Start
//
// A node configured with a role and a user registers that user on the ledger
// when it starts, unless a registration already exists.
package node
