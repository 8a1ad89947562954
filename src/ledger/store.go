package ledger

// Keys under which the ledger persists itself.
const (
	ChainKey   = "chain"
	PendingKey = "pending"
)

// Store is the durable key-value store behind a Ledger. Get must return a
// common.StoreErr with type KeyNotFound when the key does not exist.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	// PutAll writes all the entries atomically.
	PutAll(entries map[string][]byte) error
	Close() error
}
