package ledger

import (
	"os"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
)

// BadgerStore is a Store backed by a Badger database in a directory. One
// directory belongs to exactly one node.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens, or creates, the database at path.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, errors.Wrapf(err, "creating database directory %s", path)
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithField("ns", "badger"))
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger database %s", path)
	}

	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

// LoadBadgerStore opens an existing database at path in read-only mode. It
// fails if there is no database there.
func LoadBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "no database at %s", path)
	}

	opts := badger.DefaultOptions(path).
		WithReadOnly(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithField("ns", "badger"))
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger database %s", path)
	}

	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

// Get implements the Store interface.
func (s *BadgerStore) Get(key string) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, mapError(err, "BadgerStore", key)
	}

	return value, nil
}

// Put implements the Store interface.
func (s *BadgerStore) Put(key string, value []byte) error {
	return s.PutAll(map[string][]byte{key: value})
}

// PutAll implements the Store interface. All entries are committed in a
// single badger transaction.
func (s *BadgerStore) PutAll(entries map[string][]byte) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	for k, v := range entries {
		if err := tx.Set([]byte(k), v); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath returns the database directory.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return cm.NewStoreErr(name, cm.KeyNotFound, key)
		}
	}
	return err
}
