package peers

import (
	"sort"
	"sync"
)

// Book is the set of known peers, keyed by network address.
type Book struct {
	sync.RWMutex
	Sorted []*Peer
	ByAddr map[string]*Peer
}

/* Constructors */

// NewBook ...
func NewBook() *Book {
	return &Book{
		ByAddr: make(map[string]*Peer),
	}
}

// NewBookFromSlice ...
func NewBookFromSlice(source []*Peer) *Book {
	book := NewBook()

	for _, peer := range source {
		book.addPeerRaw(peer)
	}

	book.internalSort()

	return book
}

/* Add Methods */

// Add a peer without sorting the set. Not protected by the mutex.
func (b *Book) addPeerRaw(peer *Peer) bool {
	if peer == nil || peer.NetAddr == "" {
		return false
	}

	existing, ok := b.ByAddr[peer.NetAddr]
	if ok {
		// learn the ID of an address we only knew from configuration
		if existing.ID == "" && peer.ID != "" {
			existing.ID = peer.ID
		}
		return false
	}

	b.ByAddr[peer.NetAddr] = &Peer{ID: peer.ID, NetAddr: peer.NetAddr}
	return true
}

// AddPeer inserts peer and reports whether its address was new.
func (b *Book) AddPeer(peer *Peer) bool {
	b.Lock()
	defer b.Unlock()

	added := b.addPeerRaw(peer)
	if added {
		b.internalSort()
	}

	return added
}

// AddPeers inserts every peer and returns the ones that were new.
func (b *Book) AddPeers(peers []*Peer) []*Peer {
	b.Lock()
	defer b.Unlock()

	added := []*Peer{}
	for _, p := range peers {
		if b.addPeerRaw(p) {
			added = append(added, b.ByAddr[p.NetAddr])
		}
	}

	if len(added) > 0 {
		b.internalSort()
	}

	return added
}

func (b *Book) internalSort() {
	res := []*Peer{}

	for _, p := range b.ByAddr {
		res = append(res, p)
	}

	sort.Sort(ByAddr(res))

	b.Sorted = res
}

/* Remove Methods */

// RemovePeer ...
func (b *Book) RemovePeer(addr string) {
	b.Lock()
	defer b.Unlock()

	addr = NormalizeAddr(addr)

	if _, ok := b.ByAddr[addr]; !ok {
		return
	}

	delete(b.ByAddr, addr)

	b.internalSort()
}

/* ToSlice Methods */

// ToPeerSlice returns a copy of the sorted peers.
func (b *Book) ToPeerSlice() []*Peer {
	b.RLock()
	defer b.RUnlock()

	res := make([]*Peer, len(b.Sorted))
	for i, p := range b.Sorted {
		res[i] = &Peer{ID: p.ID, NetAddr: p.NetAddr}
	}

	return res
}

// ToAddrSlice ...
func (b *Book) ToAddrSlice() []string {
	b.RLock()
	defer b.RUnlock()

	res := []string{}

	for _, peer := range b.Sorted {
		res = append(res, peer.NetAddr)
	}

	return res
}

/* Utilities */

// Contains ...
func (b *Book) Contains(addr string) bool {
	b.RLock()
	defer b.RUnlock()

	_, ok := b.ByAddr[NormalizeAddr(addr)]
	return ok
}

// Len ...
func (b *Book) Len() int {
	b.RLock()
	defer b.RUnlock()

	return len(b.ByAddr)
}

// ByAddr implements sort.Interface for peers based on the NetAddr field.
type ByAddr []*Peer

func (a ByAddr) Len() int      { return len(a) }
func (a ByAddr) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a ByAddr) Less(i, j int) bool {
	return a[i].NetAddr < a[j].NetAddr
}
