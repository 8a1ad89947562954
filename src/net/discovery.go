package net

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/zacharyzhang1208/COMP5567-Project/src/peers"
)

const maxParallelDials = 32

// Discover tries to connect to every candidate address, and to every address
// of the book. Each attempt is bounded by the dial timeout, and failures are
// only logged: discovery is best-effort. It returns the number of
// connections that were established or already live.
func (n *Network) Discover(ctx context.Context, candidates []string) int {
	seen := make(map[string]bool)
	targets := []string{}

	for _, addr := range append(candidates, n.book.ToAddrSlice()...) {
		addr = peers.NormalizeAddr(addr)
		if addr == "" || seen[addr] || n.isSelf(addr) {
			continue
		}
		seen[addr] = true
		targets = append(targets, addr)
	}

	var (
		wg        sync.WaitGroup
		connected int32
		sem       = make(chan struct{}, maxParallelDials)
	)

	for _, addr := range targets {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			if _, err := n.Connect(ctx, addr); err != nil {
				n.logger.WithFields(logrus.Fields{
					"addr":  addr,
					"error": err,
				}).Debug("Discovery dial failed")
				return
			}
			atomic.AddInt32(&connected, 1)
		}(addr)
	}

	wg.Wait()

	n.logger.WithFields(logrus.Fields{
		"candidates": len(targets),
		"connected":  connected,
		"peers":      n.PeerCount(),
	}).Info("Discovery completed")

	return int(connected)
}
