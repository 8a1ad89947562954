package ledger

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto/keys"
)

// Block is an ordered batch of transactions linked to its predecessor by
// PreviousHash. A block must not be modified once its hash is computed; the
// Signature is the only field outside the hash.
type Block struct {
	Timestamp       int64          `json:"timestamp"`
	Transactions    []*Transaction `json:"transactions"`
	PreviousHash    string         `json:"previousHash"`
	ValidatorID     string         `json:"validatorId"`
	ValidatorPubKey string         `json:"validatorPubKey"`
	Signature       string         `json:"signature"`
	Hash            string         `json:"hash"`
}

// NewBlock creates a block and computes its hash. The transaction slice is
// copied.
func NewBlock(timestamp int64,
	transactions []*Transaction,
	previousHash string,
	validatorID string,
	validatorPubKey string) *Block {

	txs := make([]*Transaction, len(transactions))
	copy(txs, transactions)

	block := &Block{
		Timestamp:       timestamp,
		Transactions:    txs,
		PreviousHash:    previousHash,
		ValidatorID:     validatorID,
		ValidatorPubKey: validatorPubKey,
	}
	block.Hash = block.CalculateHash()

	return block
}

// CalculateHash covers the timestamp, the transactions, the previous hash and
// the validator fields. The signature is excluded.
func (b *Block) CalculateHash() string {
	txs := make([]interface{}, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		if tx == nil {
			txs = append(txs, nil)
			continue
		}
		txs = append(txs, tx.wireFields())
	}

	hash, err := canonicalHash(map[string]interface{}{
		"timestamp":       b.Timestamp,
		"transactions":    txs,
		"previousHash":    b.PreviousHash,
		"validatorId":     b.ValidatorID,
		"validatorPubKey": b.ValidatorPubKey,
	})
	if err != nil {
		return ""
	}
	return hash
}

// ValidateTransactions checks every transaction individually.
func (b *Block) ValidateTransactions() error {
	for i, tx := range b.Transactions {
		if tx == nil {
			return cm.NewLedgerErrf(cm.InvalidBlock, "transaction %d is empty", i)
		}
		if err := tx.Validate(); err != nil {
			return cm.WrapLedgerErr(cm.InvalidBlock, err, fmt.Sprintf("transaction %d (%s)", i, tx.Hash))
		}
	}
	return nil
}

// Validate returns nil if the hash matches, all the transactions are valid,
// and the signature, if present, was produced by ValidatorPubKey over the
// hash. An unsigned block is structurally valid but not attested.
func (b *Block) Validate() error {
	if b.Hash == "" || b.Hash != b.CalculateHash() {
		return cm.NewLedgerErr(cm.InvalidBlock, "hash mismatch")
	}

	if err := b.ValidateTransactions(); err != nil {
		return err
	}

	if b.Signature != "" {
		if b.ValidatorPubKey == "" {
			return cm.NewLedgerErr(cm.InvalidBlock, "signature without validator public key")
		}
		if !keys.Verify([]byte(b.Hash), b.Signature, b.ValidatorPubKey) {
			return cm.NewLedgerErr(cm.InvalidBlock, "invalid validator signature")
		}
	}

	return nil
}

// IsValid ...
func (b *Block) IsValid() bool {
	return b.Validate() == nil
}

// Sign signs the block hash. The key must match ValidatorPubKey, which is
// part of the hash and cannot be set after the fact.
func (b *Block) Sign(priv *ecdsa.PrivateKey) error {
	if pub := keys.PublicKeyHex(&priv.PublicKey); pub != b.ValidatorPubKey {
		return fmt.Errorf("signing key %s does not match validator key %s", pub, b.ValidatorPubKey)
	}

	sig, err := keys.Sign(priv, []byte(b.Hash))
	if err != nil {
		return err
	}
	b.Signature = sig

	return nil
}

// TxHashes returns the hashes of the block's transactions.
func (b *Block) TxHashes() []string {
	hashes := make([]string, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		if tx != nil {
			hashes = append(hashes, tx.Hash)
		}
	}
	return hashes
}

// Marshal - json encoding of Block
func (b *Block) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// Unmarshal - json decoding of Block
func (b *Block) Unmarshal(data []byte) error {
	return json.Unmarshal(data, b)
}
