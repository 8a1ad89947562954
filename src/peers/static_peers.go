package peers

import "sync"

// StaticPeers is used to provide a static list of peers, such as the ones
// given on the command line. It keeps whatever is written to it in memory.
type StaticPeers struct {
	StaticPeers []*Peer
	l           sync.Mutex
}

// NewStaticPeers ...
func NewStaticPeers(addrs []string) *StaticPeers {
	s := &StaticPeers{}
	for _, a := range addrs {
		s.StaticPeers = append(s.StaticPeers, NewPeer("", a))
	}
	return s
}

// Peers implements the PeerStore interface.
func (s *StaticPeers) Peers() (*Book, error) {
	s.l.Lock()
	defer s.l.Unlock()
	return NewBookFromSlice(s.StaticPeers), nil
}

// SetPeers implements the PeerStore interface.
func (s *StaticPeers) SetPeers(p []*Peer) error {
	s.l.Lock()
	s.StaticPeers = p
	s.l.Unlock()
	return nil
}
