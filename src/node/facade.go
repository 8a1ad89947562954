package node

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto/keys"
	"github.com/zacharyzhang1208/COMP5567-Project/src/ledger"
	"github.com/zacharyzhang1208/COMP5567-Project/src/net"
	"github.com/zacharyzhang1208/COMP5567-Project/src/node/state"
)

// Status is a point-in-time summary of a node.
type Status struct {
	ID           string `json:"id"`
	Address      string `json:"address"`
	Moniker      string `json:"moniker,omitempty"`
	State        string `json:"state"`
	LedgerState  string `json:"ledgerState"`
	PeerCount    int    `json:"peerCount"`
	ChainLength  int    `json:"chainLength"`
	PendingCount int    `json:"pendingCount"`
	TipHash      string `json:"tipHash,omitempty"`
}

// ID returns the network identifier of the node.
func (n *Node) ID() string {
	return n.network.ID()
}

// Address returns the address peers should dial.
func (n *Node) Address() string {
	return n.network.Address()
}

// GetChainSnapshot returns a copy of the chain.
func (n *Node) GetChainSnapshot() []*ledger.Block {
	return n.ledger.Chain()
}

// GetPendingTransactions returns the pool in timestamp order.
func (n *Node) GetPendingTransactions() []*ledger.Transaction {
	return n.ledger.Pending()
}

// GetTransaction looks up a pending or committed transaction.
func (n *Node) GetTransaction(hash string) (*ledger.Transaction, bool) {
	return n.ledger.Transaction(hash)
}

// SubmitTransaction decodes a transaction, checks it, adds it to the pool and
// broadcasts it. The returned error carries the reason of a rejection.
func (n *Node) SubmitTransaction(raw []byte) (string, error) {
	var tx ledger.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return "", cm.WrapLedgerErr(cm.InvalidTransaction, err, "decoding transaction")
	}
	return n.submit(&tx)
}

func (n *Node) submit(tx *ledger.Transaction) (string, error) {
	if err := n.checkAccepting(); err != nil {
		return "", err
	}

	var (
		hash string
		err  error
	)

	execErr := n.exec(func() {
		if n.conf.CheckAttendance {
			if err = n.ledger.CheckAttendance(tx); err != nil {
				return
			}
		}

		known := n.ledger.HasTransaction(tx.Hash)

		hash, err = n.ledger.AddTransaction(tx)
		if err == nil && !known {
			n.broadcast(net.NewTransaction, tx)
		}
	})
	if execErr != nil {
		return "", execErr
	}

	if err != nil {
		n.logger.WithError(err).Debug("Rejected transaction")
		return "", err
	}

	return hash, nil
}

// CreateBlock seals the pending pool into a block signed by the caller,
// appends it and broadcasts it.
func (n *Node) CreateBlock(validatorID, validatorPubKey, signature string) (*ledger.Block, error) {
	return n.createBlock(func() (*ledger.Block, error) {
		return n.ledger.CreateBlock(validatorID, validatorPubKey, signature)
	})
}

// CreateSignedBlock is like CreateBlock but signs with the node key.
func (n *Node) CreateSignedBlock() (*ledger.Block, error) {
	if n.key == nil {
		return nil, errors.New("node has no validator key")
	}
	return n.createBlock(func() (*ledger.Block, error) {
		return n.ledger.CreateSignedBlock(n.ID(), n.key)
	})
}

func (n *Node) createBlock(create func() (*ledger.Block, error)) (*ledger.Block, error) {
	if err := n.checkAccepting(); err != nil {
		return nil, err
	}

	var (
		block *ledger.Block
		err   error
	)

	execErr := n.exec(func() {
		block, err = create()
		if err == nil {
			n.broadcast(net.NewBlock, block)
		}
	})
	if execErr != nil {
		return nil, execErr
	}
	if err != nil {
		return nil, err
	}

	n.logger.WithFields(logrus.Fields{
		"block":        block.Hash,
		"transactions": len(block.Transactions),
		"length":       n.ledger.Len(),
	}).Info("Created block")

	return block, nil
}

// ValidatorPubKey returns the hex public key of the node key, if any.
func (n *Node) ValidatorPubKey() string {
	if n.key == nil {
		return ""
	}
	return keys.PublicKeyHex(&n.key.PublicKey)
}

// NodeStatus ...
func (n *Node) NodeStatus() Status {
	s := Status{
		ID:           n.ID(),
		Address:      n.Address(),
		Moniker:      n.conf.Moniker,
		State:        n.GetState().String(),
		LedgerState:  n.ledger.State().String(),
		PeerCount:    n.network.PeerCount(),
		ChainLength:  n.ledger.Len(),
		PendingCount: n.ledger.PendingLen(),
	}
	if tip := n.ledger.Tip(); tip != nil {
		s.TipHash = tip.Hash
	}
	return s
}

// GetStats returns the status as strings, with the uptime.
func (n *Node) GetStats() map[string]string {
	s := n.NodeStatus()

	uptime := time.Duration(0)
	if start := atomic.LoadInt64(&n.start); start != 0 {
		uptime = time.Since(time.Unix(0, start))
	}

	return map[string]string{
		"id":            s.ID,
		"address":       s.Address,
		"moniker":       s.Moniker,
		"state":         s.State,
		"ledger_state":  s.LedgerState,
		"num_peers":     strconv.Itoa(s.PeerCount),
		"chain_length":  strconv.Itoa(s.ChainLength),
		"pending_count": strconv.Itoa(s.PendingCount),
		"tip":           s.TipHash,
		"uptime":        uptime.Truncate(time.Second).String(),
	}
}

// checkAccepting reports whether the local API may mutate the ledger. That is
// possible from the end of initialization until shutdown.
func (n *Node) checkAccepting() error {
	switch n.GetState() {
	case state.Initialized, state.Starting, state.Running:
		return nil
	default:
		return cm.NewLedgerErrf(cm.NotReady, "node is %s", n.GetState())
	}
}

// State returns the lifecycle state of the node.
func (n *Node) State() state.State {
	return n.GetState()
}
