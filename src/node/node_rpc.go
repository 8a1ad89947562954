package node

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
	"github.com/zacharyzhang1208/COMP5567-Project/src/ledger"
	"github.com/zacharyzhang1208/COMP5567-Project/src/net"
)

// processRPC handles one message from a peer. A message that fails, or
// panics, is logged and dropped; it never stops the loop.
func (n *Node) processRPC(rpc net.RPC) {
	if rpc.Message == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			n.logger.WithFields(logrus.Fields{
				"type":  rpc.Message.Type,
				"panic": r,
			}).Error("Recovered from panic while processing message")
		}
	}()

	var err error

	switch rpc.Message.Type {
	case net.NewTransaction:
		err = n.processNewTransaction(rpc)
	case net.NewBlock:
		err = n.processNewBlock(rpc)
	case net.RequestChain:
		err = n.processRequestChain(rpc)
	case net.SendChain:
		err = n.processSendChain(rpc)
	case net.RequestPool:
		err = n.processRequestPool(rpc)
	case net.SendPool:
		err = n.processSendPool(rpc)
	default:
		n.logger.WithField("type", rpc.Message.Type).Warn("Unknown message type")
		return
	}

	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"type":  rpc.Message.Type,
			"from":  rpc.From,
			"error": err,
		}).Debug("Processing message")
	}
}

func (n *Node) processNewTransaction(rpc net.RPC) error {
	var tx ledger.Transaction
	if err := rpc.Message.Decode(&tx); err != nil {
		return err
	}

	known := n.ledger.HasTransaction(tx.Hash)

	if _, err := n.ledger.AddTransaction(&tx); err != nil {
		return err
	}

	if !known {
		n.broadcast(net.NewTransaction, &tx)
	}

	return nil
}

// processNewBlock appends a block that extends our tip and relays it. A
// block that does not fit is a hint that we are behind: we ask the sender for
// its chain.
func (n *Node) processNewBlock(rpc net.RPC) error {
	var block ledger.Block
	if err := rpc.Message.Decode(&block); err != nil {
		return err
	}

	added, err := n.ledger.AddBlock(&block)
	if err != nil {
		if cm.IsLedger(err, cm.InvalidBlock) && rpc.From != nil && block.IsValid() {
			n.logger.WithFields(logrus.Fields{
				"block": block.Hash,
				"from":  rpc.From,
			}).Debug("Block does not extend tip, requesting chain")
			if serr := n.network.Send(rpc.From, net.RequestChain, nil); serr != nil {
				n.logger.WithError(serr).Debug("Requesting chain")
			}
		}
		return err
	}

	if added {
		n.logger.WithFields(logrus.Fields{
			"block":  block.Hash,
			"length": n.ledger.Len(),
		}).Debug("Added block")
		n.broadcast(net.NewBlock, &block)
	}

	return nil
}

func (n *Node) processRequestChain(rpc net.RPC) error {
	data, err := n.chainData()
	if err != nil {
		return err
	}
	return rpc.Respond(net.SendChain, data)
}

func (n *Node) processSendChain(rpc net.RPC) error {
	var data net.ChainData
	if err := rpc.Message.Decode(&data); err != nil {
		return err
	}

	replaced, err := n.ledger.ReplaceChainJSON(data.Chain, data.PendingTransactions)
	if err != nil {
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"replaced": replaced,
		"length":   n.ledger.Len(),
		"pending":  n.ledger.PendingLen(),
	}).Debug("Processed chain")

	return nil
}

func (n *Node) processRequestPool(rpc net.RPC) error {
	txs, err := json.Marshal(n.ledger.Pending())
	if err != nil {
		return err
	}
	return rpc.Respond(net.SendPool, net.PoolData{Transactions: txs})
}

func (n *Node) processSendPool(rpc net.RPC) error {
	var data net.PoolData
	if err := rpc.Message.Decode(&data); err != nil {
		return err
	}

	var txs []*ledger.Transaction
	if len(data.Transactions) > 0 {
		if err := json.Unmarshal(data.Transactions, &txs); err != nil {
			return cm.WrapLedgerErr(cm.InvalidTransaction, err, "decoding pool")
		}
	}

	added, err := n.ledger.MergePending(txs)
	if err != nil {
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"received": len(txs),
		"added":    added,
	}).Debug("Processed pool")

	return nil
}

func (n *Node) chainData() (net.ChainData, error) {
	chain, err := json.Marshal(n.ledger.Chain())
	if err != nil {
		return net.ChainData{}, err
	}
	pending, err := json.Marshal(n.ledger.Pending())
	if err != nil {
		return net.ChainData{}, err
	}
	return net.ChainData{
		Chain:               chain,
		PendingTransactions: pending,
	}, nil
}

func (n *Node) broadcast(t net.MessageType, data interface{}) {
	if _, err := n.network.Broadcast(t, data); err != nil {
		n.logger.WithError(err).WithField("type", t).Warn("Broadcast")
	}
}
