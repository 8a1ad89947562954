package net

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/zacharyzhang1208/COMP5567-Project/src/peers"
)

// MessageType is the tag of a Message.
type MessageType string

const (
	// Handshake is sent by the side that opens a connection.
	Handshake MessageType = "HANDSHAKE"
	// HandshakeResponse answers a Handshake with the known peers.
	HandshakeResponse MessageType = "HANDSHAKE_RESPONSE"
	// NewTransaction gossips a transaction.
	NewTransaction MessageType = "NEW_TRANSACTION"
	// NewBlock gossips a block.
	NewBlock MessageType = "NEW_BLOCK"
	// RequestChain asks a peer for its chain.
	RequestChain MessageType = "REQUEST_CHAIN"
	// SendChain carries a chain, and optionally the pending pool.
	SendChain MessageType = "SEND_CHAIN"
	// RequestPool asks a peer for its pending transactions.
	RequestPool MessageType = "REQUEST_POOL"
	// SendPool carries the pending transactions.
	SendPool MessageType = "SEND_POOL"
)

// responseTypes maps a request to the type of the message that answers it.
var responseTypes = map[MessageType]MessageType{
	Handshake:    HandshakeResponse,
	RequestChain: SendChain,
	RequestPool:  SendPool,
}

// ResponseType returns the type that answers t, if any.
func ResponseType(t MessageType) (MessageType, bool) {
	r, ok := responseTypes[t]
	return r, ok
}

// Sender identifies the node a message comes from.
type Sender struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
}

// Message is the envelope of everything exchanged between nodes:
// {type, data, sender}.
type Message struct {
	Type   MessageType     `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	Sender *Sender         `json:"sender,omitempty"`
}

// NewMessage encodes data as the payload of a message of type t. A nil data
// leaves the payload empty.
func NewMessage(t MessageType, data interface{}) (*Message, error) {
	msg := &Message{Type: t}

	if data == nil {
		return msg, nil
	}

	if raw, ok := data.(json.RawMessage); ok {
		msg.Data = raw
		return msg, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s payload", t)
	}
	msg.Data = raw

	return msg, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return errors.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.Wrapf(err, "decoding %s payload", m.Type)
	}
	return nil
}

// HandshakeData is the payload of a Handshake.
type HandshakeData struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// HandshakeResponseData is the payload of a HandshakeResponse. KnownPeers
// lets the initiator reach the rest of the network through us.
type HandshakeResponseData struct {
	ID         string        `json:"id"`
	Address    string        `json:"address"`
	KnownPeers []*peers.Peer `json:"knownPeers"`
}

// ChainData is the payload of a SendChain. The chain and the pool are kept
// opaque at this layer.
type ChainData struct {
	Chain               json.RawMessage `json:"chain"`
	PendingTransactions json.RawMessage `json:"pendingTransactions,omitempty"`
}

// PoolData is the payload of a SendPool.
type PoolData struct {
	Transactions json.RawMessage `json:"transactions"`
}
