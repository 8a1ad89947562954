package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto/keys"
)

type flakyStore struct {
	*InmemStore
	fail bool
}

func (s *flakyStore) PutAll(entries map[string][]byte) error {
	if s.fail {
		return fmt.Errorf("disk full")
	}
	return s.InmemStore.PutAll(entries)
}

func initLedger(t *testing.T, store Store) *Ledger {
	if store == nil {
		store = NewInmemStore()
	}
	l, err := NewLedger(store, DefaultGenesisConfig(), cm.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := l.Load(); err != nil {
		t.Fatalf("err: %v", err)
	}
	return l
}

func enrollment(t *testing.T, student string) *Transaction {
	tx, err := NewTransaction(&CourseEnrollment{StudentID: student, CourseID: "COMP5567"}, 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return tx
}

func addTransactions(t *testing.T, l *Ledger, n int) []*Transaction {
	txs := []*Transaction{}
	for i := 0; i < n; i++ {
		tx := enrollment(t, fmt.Sprintf("s%d-%d", l.Len(), i))
		if _, err := l.AddTransaction(tx); err != nil {
			t.Fatalf("err: %v", err)
		}
		txs = append(txs, tx)
	}
	return txs
}

func TestFreshLedger(t *testing.T) {
	l := initLedger(t, nil)

	chain := l.Chain()
	if len(chain) != 1 {
		t.Fatalf("fresh ledger should have 1 block, not %d", len(chain))
	}
	if chain[0].Hash != DefaultGenesis().Hash {
		t.Fatalf("first block should be genesis")
	}
	if l.PendingLen() != 0 {
		t.Fatalf("fresh ledger should have an empty pool")
	}
	if l.State() != Loaded {
		t.Fatalf("state should be Loaded, not %s", l.State())
	}
	if !l.IsValidChain() {
		t.Fatalf("fresh chain should be valid")
	}
}

func TestUninitializedLedger(t *testing.T) {
	l, err := NewLedger(NewInmemStore(), DefaultGenesisConfig(), cm.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := l.AddTransaction(enrollment(t, "s1")); !cm.IsLedger(err, cm.NotReady) {
		t.Fatalf("AddTransaction before Load should be NotReady, got %v", err)
	}
	if _, err := l.CreateBlock("", "", ""); !cm.IsLedger(err, cm.NotReady) {
		t.Fatalf("CreateBlock before Load should be NotReady, got %v", err)
	}
}

func TestLedgerStates(t *testing.T) {
	l := initLedger(t, nil)

	l.BeginSync()
	if l.State() != Synchronizing {
		t.Fatalf("state should be Synchronizing, not %s", l.State())
	}
	addTransactions(t, l, 1)

	l.MarkReady()
	if l.State() != Ready {
		t.Fatalf("state should be Ready, not %s", l.State())
	}
}

func TestAddTransactionIdempotent(t *testing.T) {
	l := initLedger(t, nil)
	tx := enrollment(t, "s1")

	h1, err := l.AddTransaction(tx)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	size := l.PendingLen()

	h2, err := l.AddTransaction(tx)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if h1 != h2 || h1 != tx.Hash {
		t.Fatalf("AddTransaction should return the transaction hash")
	}
	if l.PendingLen() != size {
		t.Fatalf("re-adding should not change the pool size: %d != %d", l.PendingLen(), size)
	}
}

func TestAddInvalidTransaction(t *testing.T) {
	l := initLedger(t, nil)

	tx, err := NewTransaction(&UserRegistration{UserID: "p1", UserType: "PRINCIPAL", PublicKey: "04aa"}, 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := l.AddTransaction(tx); !cm.IsLedger(err, cm.InvalidTransaction) {
		t.Fatalf("should be InvalidTransaction, got %v", err)
	}
	if l.PendingLen() != 0 {
		t.Fatalf("pool should be unchanged")
	}
}

func TestCreateBlock(t *testing.T) {
	l := initLedger(t, nil)
	txs := addTransactions(t, l, 3)

	block, err := l.CreateBlock("v1", "", "")
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if l.Len() != 2 {
		t.Fatalf("chain should have 2 blocks, not %d", l.Len())
	}
	if l.PendingLen() != 0 {
		t.Fatalf("pool should be empty after block creation")
	}
	if len(block.Transactions) != 3 {
		t.Fatalf("block should have 3 transactions, not %d", len(block.Transactions))
	}
	if block.PreviousHash != DefaultGenesis().Hash {
		t.Fatalf("block should link to genesis")
	}
	for _, tx := range txs {
		if !l.HasTransaction(tx.Hash) || l.IsPending(tx.Hash) {
			t.Fatalf("transaction %s should be committed", tx.Hash)
		}
	}

	// committed transactions do not come back to the pool
	if _, err := l.AddTransaction(txs[0]); err != nil {
		t.Fatalf("err: %v", err)
	}
	if l.PendingLen() != 0 {
		t.Fatalf("committed transaction should not re-enter the pool")
	}

	if !l.IsValidChain() {
		t.Fatalf("chain should be valid")
	}
}

func TestCreateBlockBadSignature(t *testing.T) {
	l := initLedger(t, nil)
	addTransactions(t, l, 2)

	key, _ := keys.GenerateECDSAKey()

	_, err := l.CreateBlock("v1", keys.PublicKeyHex(&key.PublicKey), "3044deadbeef")
	if !cm.IsLedger(err, cm.InvalidBlock) {
		t.Fatalf("should be InvalidBlock, got %v", err)
	}
	if l.Len() != 1 || l.PendingLen() != 2 {
		t.Fatalf("state should be unchanged after a failed block creation")
	}
}

func TestCreateSignedBlock(t *testing.T) {
	l := initLedger(t, nil)
	addTransactions(t, l, 2)

	key, _ := keys.GenerateKeyPair("t1", "pwd")

	block, err := l.CreateSignedBlock("t1", key)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if block.ValidatorPubKey != keys.PublicKeyHex(&key.PublicKey) {
		t.Fatalf("validator key should be derived from the signing key")
	}
	if !keys.Verify([]byte(block.Hash), block.Signature, block.ValidatorPubKey) {
		t.Fatalf("block signature should verify")
	}
}

func TestBlockTimestampsIncrease(t *testing.T) {
	l := initLedger(t, nil)

	for i := 0; i < 5; i++ {
		addTransactions(t, l, 1)
		if _, err := l.CreateBlock("v", "", ""); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	chain := l.Chain()
	for i := 1; i < len(chain); i++ {
		if chain[i].Timestamp <= chain[i-1].Timestamp {
			t.Fatalf("block %d timestamp should increase", i)
		}
	}
	if !l.IsValidChain() {
		t.Fatalf("chain should be valid")
	}
}

func TestReplaceChain(t *testing.T) {
	a := initLedger(t, nil)
	b := initLedger(t, nil)

	txs := addTransactions(t, a, 3)
	if _, err := a.CreateBlock("a", "", ""); err != nil {
		t.Fatalf("err: %v", err)
	}
	extra := addTransactions(t, a, 1)

	// b holds one of the committed transactions in its pool
	if _, err := b.AddTransaction(txs[0]); err != nil {
		t.Fatalf("err: %v", err)
	}

	replaced, err := b.ReplaceChain(a.Chain(), a.Pending())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !replaced {
		t.Fatalf("longer chain should replace")
	}

	if b.Len() != a.Len() {
		t.Fatalf("b should have %d blocks, not %d", a.Len(), b.Len())
	}
	for _, tx := range txs {
		if b.IsPending(tx.Hash) {
			t.Fatalf("committed transaction %s should not be pending", tx.Hash)
		}
	}
	if !b.IsPending(extra[0].Hash) {
		t.Fatalf("candidate pending transaction should be merged")
	}
	if !b.IsValidChain() {
		t.Fatalf("replaced chain should be valid")
	}
}

func TestReplaceChainNotLonger(t *testing.T) {
	a := initLedger(t, nil)
	b := initLedger(t, nil)

	addTransactions(t, a, 1)
	a.CreateBlock("a", "", "")
	addTransactions(t, b, 2)
	b.CreateBlock("b", "", "")

	before, _ := json.Marshal(b.Chain())
	beforePending, _ := json.Marshal(b.Pending())

	replaced, err := b.ReplaceChain(a.Chain(), a.Pending())
	if err != nil {
		t.Fatalf("equal length candidate should not be an error: %v", err)
	}
	if replaced {
		t.Fatalf("equal length candidate should not replace")
	}

	after, _ := json.Marshal(b.Chain())
	afterPending, _ := json.Marshal(b.Pending())
	if !bytes.Equal(before, after) || !bytes.Equal(beforePending, afterPending) {
		t.Fatalf("state should be unchanged")
	}

	if replaced, _ := b.ReplaceChain(a.Chain()[:1], nil); replaced {
		t.Fatalf("shorter candidate should not replace")
	}
}

func TestReplaceChainInvalid(t *testing.T) {
	a := initLedger(t, nil)
	b := initLedger(t, nil)

	for i := 0; i < 3; i++ {
		addTransactions(t, a, 1)
		a.CreateBlock("a", "", "")
	}

	candidate := a.Chain()
	broken := *candidate[2]
	broken.PreviousHash = "bogus"
	broken.Hash = broken.CalculateHash()
	candidate[2] = &broken

	replaced, err := b.ReplaceChain(candidate, nil)
	if !cm.IsLedger(err, cm.InvalidChain) {
		t.Fatalf("broken link should be InvalidChain, got %v", err)
	}
	if replaced || b.Len() != 1 {
		t.Fatalf("incumbent chain should be kept")
	}

	foreign := DefaultGenesisConfig()
	foreign.AdminSecret = "other"
	c := initLedgerWithGenesis(t, foreign)
	addTransactions(t, c, 1)
	c.CreateBlock("c", "", "")
	c.CreateBlock("c", "", "")

	if _, err := b.ReplaceChain(c.Chain(), nil); !cm.IsLedger(err, cm.InvalidChain) {
		t.Fatalf("foreign genesis should be InvalidChain, got %v", err)
	}
}

func initLedgerWithGenesis(t *testing.T, g GenesisConfig) *Ledger {
	l, err := NewLedger(NewInmemStore(), g, cm.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := l.Load(); err != nil {
		t.Fatalf("err: %v", err)
	}
	return l
}

func TestReplaceChainJSON(t *testing.T) {
	a := initLedger(t, nil)
	b := initLedger(t, nil)

	addTransactions(t, a, 2)
	a.CreateBlock("a", "", "")

	chainJSON, _ := json.Marshal(a.Chain())
	pendingJSON, _ := json.Marshal(a.Pending())

	replaced, err := b.ReplaceChainJSON(chainJSON, pendingJSON)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !replaced || b.Tip().Hash != a.Tip().Hash {
		t.Fatalf("b should adopt a's chain")
	}

	if _, err := b.ReplaceChainJSON([]byte("not json"), nil); !cm.IsLedger(err, cm.InvalidChain) {
		t.Fatalf("garbage should be InvalidChain, got %v", err)
	}
}

func TestReplacementMonotonic(t *testing.T) {
	a := initLedger(t, nil)
	b := initLedger(t, nil)

	lengths := []int{}
	for i := 0; i < 4; i++ {
		addTransactions(t, a, 1)
		a.CreateBlock("a", "", "")

		snapshot := a.Chain()
		for _, n := range []int{1, len(snapshot) - 1, len(snapshot)} {
			before := b.Len()
			b.ReplaceChain(snapshot[:n], nil)
			if b.Len() < before {
				t.Fatalf("ReplaceChain should never shorten the chain")
			}
			lengths = append(lengths, b.Len())
		}
		if !b.IsValidChain() {
			t.Fatalf("chain should stay valid")
		}
	}

	if lengths[len(lengths)-1] != a.Len() {
		t.Fatalf("b should end up with a's length")
	}
}

func TestAddBlock(t *testing.T) {
	a := initLedger(t, nil)
	b := initLedger(t, nil)

	txs := addTransactions(t, a, 2)
	for _, tx := range txs {
		b.AddTransaction(tx)
	}

	block, err := a.CreateBlock("a", "", "")
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	added, err := b.AddBlock(block)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !added || b.Len() != 2 || b.PendingLen() != 0 {
		t.Fatalf("b should append the block and purge its pool")
	}

	added, err = b.AddBlock(block)
	if err != nil || added {
		t.Fatalf("known block should be ignored, got %v %v", added, err)
	}

	addTransactions(t, a, 1)
	a.CreateBlock("a", "", "")
	addTransactions(t, a, 1)
	gap, _ := a.CreateBlock("a", "", "")

	if _, err := b.AddBlock(gap); !cm.IsLedger(err, cm.InvalidBlock) {
		t.Fatalf("block that skips the tip should be InvalidBlock, got %v", err)
	}
}

func TestMergePending(t *testing.T) {
	l := initLedger(t, nil)

	good := enrollment(t, "s1")
	bad, _ := NewTransaction(&UserRegistration{UserID: "x", UserType: "ADMIN", PublicKey: "04"}, 0)

	n, err := l.MergePending([]*Transaction{good, bad, good})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if n != 1 || l.PendingLen() != 1 {
		t.Fatalf("only the valid unknown transaction should be merged, got %d", n)
	}
}

func TestPersistence(t *testing.T) {
	store := NewInmemStore()
	l := initLedger(t, store)

	addTransactions(t, l, 2)
	l.CreateBlock("v", "", "")
	pending := addTransactions(t, l, 1)

	reloaded := initLedger(t, store)

	if reloaded.Len() != l.Len() || reloaded.Tip().Hash != l.Tip().Hash {
		t.Fatalf("reloaded chain should match")
	}
	if reloaded.PendingLen() != 1 || !reloaded.IsPending(pending[0].Hash) {
		t.Fatalf("reloaded pool should match")
	}
}

func TestGenesisMismatch(t *testing.T) {
	store := NewInmemStore()

	foreign := DefaultGenesisConfig()
	foreign.Timestamp++

	l, _ := NewLedger(store, foreign, cm.NewTestEntry(t, logrus.DebugLevel))
	if err := l.Load(); err != nil {
		t.Fatalf("err: %v", err)
	}

	ours, _ := NewLedger(store, DefaultGenesisConfig(), cm.NewTestEntry(t, logrus.DebugLevel))
	if err := ours.Load(); !cm.IsLedger(err, cm.GenesisMismatch) {
		t.Fatalf("should be GenesisMismatch, got %v", err)
	}
	if ours.State() != Uninitialized {
		t.Fatalf("failed load should leave the ledger uninitialized")
	}
}

func TestStoreFailureIsAtomic(t *testing.T) {
	store := &flakyStore{InmemStore: NewInmemStore()}
	l := initLedger(t, store)
	addTransactions(t, l, 2)

	store.fail = true

	if _, err := l.CreateBlock("v", "", ""); !cm.IsLedger(err, cm.StoreUnavailable) {
		t.Fatalf("should be StoreUnavailable, got %v", err)
	}
	if l.Len() != 1 || l.PendingLen() != 2 {
		t.Fatalf("failed block creation should leave state unchanged")
	}

	if _, err := l.AddTransaction(enrollment(t, "late")); !cm.IsLedger(err, cm.StoreUnavailable) {
		t.Fatalf("should be StoreUnavailable, got %v", err)
	}
	if l.PendingLen() != 2 {
		t.Fatalf("failed add should leave the pool unchanged")
	}

	store.fail = false
	if _, err := l.CreateBlock("v", "", ""); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestStoreUnavailableOnLoad(t *testing.T) {
	store := NewInmemStore()
	store.Close()

	l, _ := NewLedger(store, DefaultGenesisConfig(), cm.NewTestEntry(t, logrus.DebugLevel))
	if err := l.Load(); !cm.IsLedger(err, cm.StoreUnavailable) {
		t.Fatalf("should be StoreUnavailable, got %v", err)
	}
}

func TestLoadReadOnlyEmptyStore(t *testing.T) {
	store := NewInmemStore()

	l, _ := NewLedger(store, DefaultGenesisConfig(), cm.NewTestEntry(t, logrus.DebugLevel))
	if err := l.LoadReadOnly(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if l.Len() != 1 || l.Tip().Hash != DefaultGenesis().Hash {
		t.Fatalf("read-only load of an empty store should expose genesis")
	}

	if _, err := store.Get(ChainKey); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("read-only load should not write the chain, got %v", err)
	}
	if _, err := store.Get(PendingKey); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("read-only load should not write the pool, got %v", err)
	}
}
