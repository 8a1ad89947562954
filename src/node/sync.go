package node

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
	"github.com/zacharyzhang1208/COMP5567-Project/src/net"
)

// Sync asks every connected peer for its chain and its pool, in parallel, and
// applies the answers through the dispatch loop. Peers that do not answer
// within SyncTimeout are skipped; synchronization never fails.
func (n *Node) Sync(ctx context.Context) {
	peerConns := n.network.Peers()

	n.logger.WithField("peers", len(peerConns)).Debug("Synchronizing")

	var wg sync.WaitGroup
	for _, pc := range peerConns {
		wg.Add(1)
		go func(pc *net.PeerConn) {
			defer wg.Done()
			n.syncWith(ctx, pc)
		}(pc)
	}
	wg.Wait()

	n.logger.WithFields(logrus.Fields{
		"length":  n.ledger.Len(),
		"pending": n.ledger.PendingLen(),
	}).Debug("Synchronized")
}

func (n *Node) syncWith(ctx context.Context, pc *net.PeerConn) {
	for _, t := range []net.MessageType{net.RequestChain, net.RequestPool} {
		resp, err := n.request(ctx, pc, t)
		if err != nil {
			if cm.IsLedger(err, cm.NetworkTimeout) {
				n.logger.WithField("peer", pc).WithField("type", t).Warn("Sync request timed out")
			} else {
				n.logger.WithField("peer", pc).WithError(err).Debug("Sync request")
			}
			continue
		}

		rpc := net.RPC{Message: resp, From: pc}
		if err := n.exec(func() { n.processRPC(rpc) }); err != nil {
			n.logger.WithError(err).Debug("Applying sync response")
			return
		}
	}
}

func (n *Node) request(ctx context.Context, pc *net.PeerConn, t net.MessageType) (*net.Message, error) {
	timeout := n.conf.SyncTimeout
	if timeout <= 0 {
		timeout = n.conf.DialTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return n.network.Request(rctx, pc, t, nil)
}
