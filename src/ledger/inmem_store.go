package ledger

import (
	"sync"

	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
)

// InmemStore is a Store backed by a map. It does not survive the process and
// is used when persistence is disabled, and in tests.
type InmemStore struct {
	sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		data: make(map[string][]byte),
	}
}

// Get implements the Store interface.
func (s *InmemStore) Get(key string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	if s.closed {
		return nil, cm.NewStoreErr("InmemStore", cm.Closed, key)
	}

	v, ok := s.data[key]
	if !ok {
		return nil, cm.NewStoreErr("InmemStore", cm.KeyNotFound, key)
	}

	res := make([]byte, len(v))
	copy(res, v)
	return res, nil
}

// Put implements the Store interface.
func (s *InmemStore) Put(key string, value []byte) error {
	return s.PutAll(map[string][]byte{key: value})
}

// PutAll implements the Store interface.
func (s *InmemStore) PutAll(entries map[string][]byte) error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return cm.NewStoreErr("InmemStore", cm.Closed, "")
	}

	for k, v := range entries {
		c := make([]byte, len(v))
		copy(c, v)
		s.data[k] = c
	}

	return nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}
