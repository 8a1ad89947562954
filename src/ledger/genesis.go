package ledger

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto/keys"
)

// GenesisConfig holds the inputs of the genesis block. Every node of a
// network must use the same values.
type GenesisConfig struct {
	Timestamp    int64
	AdminID      string
	AdminSecret  string
	AdminType    string
	PreviousHash string
	ValidatorID  string
}

// DefaultGenesisConfig returns the well-known genesis inputs.
func DefaultGenesisConfig() GenesisConfig {
	return GenesisConfig{
		Timestamp:    1701676800000,
		AdminID:      "admin",
		AdminSecret:  "admin_secret",
		AdminType:    Teacher,
		PreviousHash: "0",
		ValidatorID:  "genesis",
	}
}

var genesisCache = struct {
	sync.Mutex
	blocks map[GenesisConfig]*Block
}{
	blocks: make(map[GenesisConfig]*Block),
}

// Block returns the genesis block described by the config. It is computed
// once per distinct config and cached; callers must not modify it.
func (c GenesisConfig) Block() (*Block, error) {
	genesisCache.Lock()
	defer genesisCache.Unlock()

	if b, ok := genesisCache.blocks[c]; ok {
		return b, nil
	}

	b, err := c.build()
	if err != nil {
		return nil, err
	}
	genesisCache.blocks[c] = b

	return b, nil
}

func (c GenesisConfig) build() (*Block, error) {
	admin, err := keys.GenerateKeyPair(c.AdminID, c.AdminSecret)
	if err != nil {
		return nil, errors.Wrap(err, "deriving genesis admin key")
	}

	reg, err := NewTransaction(&UserRegistration{
		UserID:    c.AdminID,
		UserType:  c.AdminType,
		PublicKey: keys.PublicKeyHex(&admin.PublicKey),
	}, c.Timestamp)
	if err != nil {
		return nil, errors.Wrap(err, "genesis admin registration")
	}
	if err := reg.Sign(admin); err != nil {
		return nil, errors.Wrap(err, "signing genesis admin registration")
	}

	return NewBlock(c.Timestamp, []*Transaction{reg}, c.PreviousHash, c.ValidatorID, ""), nil
}

// DefaultGenesis returns the genesis block of DefaultGenesisConfig.
func DefaultGenesis() *Block {
	b, err := DefaultGenesisConfig().Block()
	if err != nil {
		// the default inputs are constants; this cannot fail
		panic(err)
	}
	return b
}
