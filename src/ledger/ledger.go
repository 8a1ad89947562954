package ledger

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto/keys"
)

// timeNow is replaced in tests.
var timeNow = time.Now

// State is the lifecycle of a Ledger: Uninitialized, Loaded, Synchronizing,
// Ready.
type State uint32

const (
	// Uninitialized is the state before Load.
	Uninitialized State = iota
	// Loaded means the persisted chain, or genesis, is in memory.
	Loaded
	// Synchronizing means the node is reconciling with its peers.
	Synchronizing
	// Ready is the steady state.
	Ready
)

// String ...
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Loaded:
		return "Loaded"
	case Synchronizing:
		return "Synchronizing"
	case Ready:
		return "Ready"
	default:
		return "Unknown"
	}
}

// Ledger owns the chain of blocks and the pool of pending transactions.
// Every mutation runs to completion under the lock, validates first, persists
// both records, and leaves the previous state untouched when anything fails.
type Ledger struct {
	sync.RWMutex

	genesis *Block
	store   Store
	state   State

	chain     []*Block
	pending   map[string]*Transaction
	committed map[string]struct{}

	logger *logrus.Entry
}

// NewLedger creates a ledger over store. Load must be called before any
// mutation.
func NewLedger(store Store, genesis GenesisConfig, logger *logrus.Entry) (*Ledger, error) {
	g, err := genesis.Block()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Ledger{
		genesis:   g,
		store:     store,
		state:     Uninitialized,
		chain:     []*Block{},
		pending:   make(map[string]*Transaction),
		committed: make(map[string]struct{}),
		logger:    logger.WithField("prefix", "ledger"),
	}, nil
}

// Genesis returns the genesis block this ledger was configured with.
func (l *Ledger) Genesis() *Block {
	return l.genesis
}

// State ...
func (l *Ledger) State() State {
	l.RLock()
	defer l.RUnlock()
	return l.state
}

// Load reads the chain and the pending pool from the store, or starts from
// the genesis block and an empty pool when the store is empty. A stored chain
// that does not start with our genesis block is a GenesisMismatch.
func (l *Ledger) Load() error {
	return l.load(true)
}

// LoadReadOnly is like Load but never writes to the store, even when the store
// is empty.
func (l *Ledger) LoadReadOnly() error {
	return l.load(false)
}

func (l *Ledger) load(persist bool) error {
	l.Lock()
	defer l.Unlock()

	chainBytes, err := l.store.Get(ChainKey)
	if err != nil {
		if !cm.IsStore(err, cm.KeyNotFound) {
			return cm.WrapLedgerErr(cm.StoreUnavailable, err, "reading chain")
		}

		l.logger.Debug("No stored chain, starting from genesis")

		l.chain = []*Block{l.genesis}
		l.pending = make(map[string]*Transaction)
		l.rebuildCommitted()

		if persist {
			if err := l.save(); err != nil {
				return err
			}
		}

		l.state = Loaded
		return nil
	}

	var chain []*Block
	if err := json.Unmarshal(chainBytes, &chain); err != nil {
		return cm.WrapLedgerErr(cm.StoreUnavailable, err, "decoding chain")
	}

	if len(chain) == 0 || chain[0] == nil || chain[0].Hash != l.genesis.Hash {
		return cm.NewLedgerErr(cm.GenesisMismatch, "stored chain does not start with the genesis block")
	}

	if err := l.validateChain(chain); err != nil {
		return err
	}

	pending := make(map[string]*Transaction)

	pendingBytes, err := l.store.Get(PendingKey)
	if err != nil && !cm.IsStore(err, cm.KeyNotFound) {
		return cm.WrapLedgerErr(cm.StoreUnavailable, err, "reading pending transactions")
	}
	if err == nil {
		var txs []*Transaction
		if err := json.Unmarshal(pendingBytes, &txs); err != nil {
			return cm.WrapLedgerErr(cm.StoreUnavailable, err, "decoding pending transactions")
		}
		for _, tx := range txs {
			if tx == nil {
				continue
			}
			if err := tx.Validate(); err != nil {
				l.logger.WithError(err).WithField("hash", tx.Hash).Warn("Dropping invalid stored transaction")
				continue
			}
			pending[tx.Hash] = tx
		}
	}

	l.chain = chain
	l.pending = pending
	l.rebuildCommitted()
	l.purgeCommitted()

	l.logger.WithFields(logrus.Fields{
		"chain_length": len(l.chain),
		"pending":      len(l.pending),
	}).Debug("Loaded ledger")

	l.state = Loaded
	return nil
}

// BeginSync moves a loaded ledger to Synchronizing.
func (l *Ledger) BeginSync() {
	l.Lock()
	defer l.Unlock()
	if l.state != Uninitialized {
		l.state = Synchronizing
	}
}

// MarkReady moves a loaded ledger to Ready.
func (l *Ledger) MarkReady() {
	l.Lock()
	defer l.Unlock()
	if l.state != Uninitialized {
		l.state = Ready
	}
}

// AddTransaction validates tx and inserts it in the pending pool. Adding a
// transaction that is already pending, or already committed, is a no-op. The
// hash is returned in every accepted case.
func (l *Ledger) AddTransaction(tx *Transaction) (string, error) {
	if tx == nil {
		return "", cm.NewLedgerErr(cm.InvalidTransaction, "missing transaction")
	}
	if err := tx.Validate(); err != nil {
		return "", err
	}

	l.Lock()
	defer l.Unlock()

	if err := l.checkLoaded(); err != nil {
		return "", err
	}

	if _, ok := l.pending[tx.Hash]; ok {
		return tx.Hash, nil
	}
	if _, ok := l.committed[tx.Hash]; ok {
		return tx.Hash, nil
	}

	l.pending[tx.Hash] = tx

	if err := l.save(); err != nil {
		delete(l.pending, tx.Hash)
		return "", err
	}

	l.logger.WithFields(logrus.Fields{
		"hash": tx.Hash,
		"type": tx.Type,
	}).Debug("Added transaction")

	return tx.Hash, nil
}

// CreateBlock packs every pending transaction into a new block linked to the
// tip. The signature, if any, is attached as given and must verify against
// validatorPubKey over the new block's hash.
func (l *Ledger) CreateBlock(validatorID, validatorPubKey, signature string) (*Block, error) {
	return l.createBlock(validatorID, validatorPubKey, func(b *Block) error {
		b.Signature = signature
		return nil
	})
}

// CreateSignedBlock is like CreateBlock but signs the block hash with priv.
// The validator public key is derived from priv.
func (l *Ledger) CreateSignedBlock(validatorID string, priv *ecdsa.PrivateKey) (*Block, error) {
	if priv == nil {
		return nil, cm.NewLedgerErr(cm.InvalidBlock, "missing validator key")
	}
	return l.createBlock(validatorID, keys.PublicKeyHex(&priv.PublicKey), func(b *Block) error {
		return b.Sign(priv)
	})
}

func (l *Ledger) createBlock(validatorID, validatorPubKey string, seal func(*Block) error) (*Block, error) {
	l.Lock()
	defer l.Unlock()

	if err := l.checkLoaded(); err != nil {
		return nil, err
	}

	tip := l.tip()

	timestamp := nowMillis()
	if timestamp <= tip.Timestamp {
		timestamp = tip.Timestamp + 1
	}

	block := NewBlock(timestamp, l.sortedPending(), tip.Hash, validatorID, validatorPubKey)

	if err := seal(block); err != nil {
		return nil, cm.WrapLedgerErr(cm.InvalidBlock, err, "sealing block")
	}

	if err := l.IsValidBlock(block, tip); err != nil {
		return nil, err
	}

	if err := l.append(block); err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"hash":         block.Hash,
		"transactions": len(block.Transactions),
		"validator":    validatorID,
	}).Debug("Created block")

	return block, nil
}

// AddBlock appends a block received from a peer if it extends the tip. A block
// that is already in the chain is ignored and false is returned. A block that
// does not link to the tip is an InvalidBlock; the caller should then ask the
// sender for its chain.
func (l *Ledger) AddBlock(block *Block) (bool, error) {
	if block == nil {
		return false, cm.NewLedgerErr(cm.InvalidBlock, "missing block")
	}

	l.Lock()
	defer l.Unlock()

	if err := l.checkLoaded(); err != nil {
		return false, err
	}

	if l.containsBlock(block.Hash) {
		return false, nil
	}

	if err := l.IsValidBlock(block, l.tip()); err != nil {
		return false, err
	}

	if err := l.append(block); err != nil {
		return false, err
	}

	return true, nil
}

// IsValidBlock checks the block itself, its link to previous, and that its
// timestamp is strictly greater.
func (l *Ledger) IsValidBlock(block, previous *Block) error {
	if err := block.Validate(); err != nil {
		return err
	}
	if block.PreviousHash != previous.Hash {
		return cm.NewLedgerErrf(cm.InvalidBlock, "previousHash %s does not match %s", block.PreviousHash, previous.Hash)
	}
	if block.Timestamp <= previous.Timestamp {
		return cm.NewLedgerErrf(cm.InvalidBlock, "timestamp %d is not after %d", block.Timestamp, previous.Timestamp)
	}
	return nil
}

// IsValidChain checks the current chain from genesis to tip.
func (l *Ledger) IsValidChain() bool {
	l.RLock()
	defer l.RUnlock()
	return l.validateChain(l.chain) == nil
}

// ReplaceChain adopts candidate if it is strictly longer than the current
// chain and valid end to end. Ties and shorter candidates are ignored without
// error. On success, pending merges into the pool, and every transaction now
// committed leaves the pool. It reports whether the chain was replaced.
func (l *Ledger) ReplaceChain(candidate []*Block, pending []*Transaction) (bool, error) {
	l.Lock()
	defer l.Unlock()

	if err := l.checkLoaded(); err != nil {
		return false, err
	}

	if len(candidate) <= len(l.chain) {
		l.logger.WithFields(logrus.Fields{
			"candidate": len(candidate),
			"current":   len(l.chain),
		}).Debug("Candidate chain is not longer, keeping ours")
		return false, nil
	}

	if err := l.validateChain(candidate); err != nil {
		return false, err
	}

	oldChain, oldPending := l.chain, l.pending

	l.chain = make([]*Block, len(candidate))
	copy(l.chain, candidate)

	l.pending = make(map[string]*Transaction, len(oldPending)+len(pending))
	for h, tx := range oldPending {
		l.pending[h] = tx
	}
	for _, tx := range pending {
		if tx == nil || !tx.IsValid() {
			continue
		}
		l.pending[tx.Hash] = tx
	}

	l.rebuildCommitted()
	l.purgeCommitted()

	if err := l.save(); err != nil {
		l.chain, l.pending = oldChain, oldPending
		l.rebuildCommitted()
		return false, err
	}

	l.logger.WithFields(logrus.Fields{
		"chain_length": len(l.chain),
		"pending":      len(l.pending),
	}).Info("Replaced chain")

	return true, nil
}

// ReplaceChainJSON decodes a serialized chain and pending pool, as exchanged
// on the wire, and calls ReplaceChain. pendingJSON may be empty.
func (l *Ledger) ReplaceChainJSON(chainJSON, pendingJSON []byte) (bool, error) {
	var candidate []*Block
	if err := json.Unmarshal(chainJSON, &candidate); err != nil {
		return false, cm.WrapLedgerErr(cm.InvalidChain, err, "decoding candidate chain")
	}

	var pending []*Transaction
	if len(pendingJSON) > 0 {
		if err := json.Unmarshal(pendingJSON, &pending); err != nil {
			return false, cm.WrapLedgerErr(cm.InvalidChain, err, "decoding candidate pending transactions")
		}
	}

	return l.ReplaceChain(candidate, pending)
}

// MergePending adds every valid, unknown transaction of txs to the pool and
// returns how many were added. Invalid entries are skipped.
func (l *Ledger) MergePending(txs []*Transaction) (int, error) {
	l.Lock()
	defer l.Unlock()

	if err := l.checkLoaded(); err != nil {
		return 0, err
	}

	var added []string
	for _, tx := range txs {
		if tx == nil || !tx.IsValid() {
			continue
		}
		if _, ok := l.pending[tx.Hash]; ok {
			continue
		}
		if _, ok := l.committed[tx.Hash]; ok {
			continue
		}
		l.pending[tx.Hash] = tx
		added = append(added, tx.Hash)
	}

	if len(added) == 0 {
		return 0, nil
	}

	if err := l.save(); err != nil {
		for _, h := range added {
			delete(l.pending, h)
		}
		return 0, err
	}

	return len(added), nil
}

// SaveChain writes the chain and the pending pool to the store.
func (l *Ledger) SaveChain() error {
	l.RLock()
	defer l.RUnlock()
	return l.save()
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// Chain returns a copy of the chain. Blocks are shared and must not be
// modified.
func (l *Ledger) Chain() []*Block {
	l.RLock()
	defer l.RUnlock()
	res := make([]*Block, len(l.chain))
	copy(res, l.chain)
	return res
}

// Pending returns the pending transactions sorted by timestamp.
func (l *Ledger) Pending() []*Transaction {
	l.RLock()
	defer l.RUnlock()
	return l.sortedPending()
}

// Tip returns the last block, or nil before Load.
func (l *Ledger) Tip() *Block {
	l.RLock()
	defer l.RUnlock()
	if len(l.chain) == 0 {
		return nil
	}
	return l.tip()
}

// Len returns the length of the chain.
func (l *Ledger) Len() int {
	l.RLock()
	defer l.RUnlock()
	return len(l.chain)
}

// PendingLen returns the size of the pending pool.
func (l *Ledger) PendingLen() int {
	l.RLock()
	defer l.RUnlock()
	return len(l.pending)
}

// HasTransaction reports whether the hash is pending or committed.
func (l *Ledger) HasTransaction(hash string) bool {
	l.RLock()
	defer l.RUnlock()
	if _, ok := l.pending[hash]; ok {
		return true
	}
	_, ok := l.committed[hash]
	return ok
}

// IsPending ...
func (l *Ledger) IsPending(hash string) bool {
	l.RLock()
	defer l.RUnlock()
	_, ok := l.pending[hash]
	return ok
}

// ContainsBlock reports whether a block with this hash is in the chain.
func (l *Ledger) ContainsBlock(hash string) bool {
	l.RLock()
	defer l.RUnlock()
	return l.containsBlock(hash)
}

// Transaction looks a transaction up by hash, in the pool first, then in the
// chain.
func (l *Ledger) Transaction(hash string) (*Transaction, bool) {
	l.RLock()
	defer l.RUnlock()

	if tx, ok := l.pending[hash]; ok {
		return tx, true
	}
	for i := len(l.chain) - 1; i >= 0; i-- {
		for _, tx := range l.chain[i].Transactions {
			if tx.Hash == hash {
				return tx, true
			}
		}
	}
	return nil, false
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
// unexported, callers hold the lock

func (l *Ledger) checkLoaded() error {
	if l.state == Uninitialized {
		return cm.NewLedgerErr(cm.NotReady, "ledger is not loaded")
	}
	return nil
}

func (l *Ledger) tip() *Block {
	return l.chain[len(l.chain)-1]
}

func (l *Ledger) containsBlock(hash string) bool {
	for i := len(l.chain) - 1; i >= 0; i-- {
		if l.chain[i].Hash == hash {
			return true
		}
	}
	return false
}

func (l *Ledger) sortedPending() []*Transaction {
	txs := make([]*Transaction, 0, len(l.pending))
	for _, tx := range l.pending {
		txs = append(txs, tx)
	}
	sortTransactions(txs)
	return txs
}

func (l *Ledger) validateChain(chain []*Block) error {
	if len(chain) == 0 {
		return cm.NewLedgerErr(cm.InvalidChain, "empty chain")
	}
	if chain[0] == nil || chain[0].Hash != l.genesis.Hash || chain[0].CalculateHash() != l.genesis.Hash {
		return cm.NewLedgerErr(cm.InvalidChain, "chain does not start with the genesis block")
	}
	for i := 1; i < len(chain); i++ {
		if chain[i] == nil {
			return cm.NewLedgerErrf(cm.InvalidChain, "block %d is empty", i)
		}
		if err := l.IsValidBlock(chain[i], chain[i-1]); err != nil {
			return cm.WrapLedgerErr(cm.InvalidChain, err, fmt.Sprintf("block %d", i))
		}
	}
	return nil
}

// append adds a validated block, purges its transactions from the pool and
// persists. On a store failure the previous state is restored.
func (l *Ledger) append(block *Block) error {
	oldPending := make(map[string]*Transaction, len(l.pending))
	for h, tx := range l.pending {
		oldPending[h] = tx
	}

	l.chain = append(l.chain, block)
	for _, h := range block.TxHashes() {
		l.committed[h] = struct{}{}
		delete(l.pending, h)
	}

	if err := l.save(); err != nil {
		l.chain = l.chain[:len(l.chain)-1]
		l.pending = oldPending
		l.rebuildCommitted()
		return err
	}

	return nil
}

func (l *Ledger) rebuildCommitted() {
	l.committed = make(map[string]struct{})
	for _, b := range l.chain {
		for _, h := range b.TxHashes() {
			l.committed[h] = struct{}{}
		}
	}
}

func (l *Ledger) purgeCommitted() {
	for h := range l.pending {
		if _, ok := l.committed[h]; ok {
			delete(l.pending, h)
		}
	}
}

func (l *Ledger) save() error {
	chainBytes, err := json.Marshal(l.chain)
	if err != nil {
		return errors.Wrap(err, "encoding chain")
	}

	pendingBytes, err := json.Marshal(l.sortedPending())
	if err != nil {
		return errors.Wrap(err, "encoding pending transactions")
	}

	if err := l.store.PutAll(map[string][]byte{
		ChainKey:   chainBytes,
		PendingKey: pendingBytes,
	}); err != nil {
		return cm.WrapLedgerErr(cm.StoreUnavailable, err, "saving ledger")
	}

	return nil
}
